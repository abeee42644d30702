//go:build !unix

package async

import "syscall"

func detachAttrs() *syscall.SysProcAttr {
	return nil
}
