//go:build unix

package async

import "syscall"

// detachAttrs puts the runner in its own session so it outlives the
// foreground process and its terminal
func detachAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
