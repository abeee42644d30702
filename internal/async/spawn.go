package async

import (
	"fmt"
	"os"
	"os/exec"
)

// RunnerCommand is the hidden subcommand that executes a job directory
const RunnerCommand = "__runner"

// SelfSpawn re-executes the current binary as a detached runner. extraArgs
// are passed before the job flag, e.g. a config path.
func SelfSpawn(extraArgs ...string) SpawnFunc {
	return func(jobDir string, logFile *os.File) (int, error) {
		exe, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("locating executable: %w", err)
		}
		args := append([]string{RunnerCommand}, extraArgs...)
		args = append(args, "--job", jobDir)

		cmd := exec.Command(exe, args...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.SysProcAttr = detachAttrs()
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		pid := cmd.Process.Pid
		// reap the child if we are still around when it exits
		go func() { _ = cmd.Wait() }()
		return pid, nil
	}
}
