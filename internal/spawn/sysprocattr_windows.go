//go:build windows

package spawn

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func configureSysProcAttr(cmd *exec.Cmd, flags Flags) {
	attr := &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	if flags&HideWindow != 0 {
		attr.HideWindow = true
	}
	cmd.SysProcAttr = attr
}

func isBadFormat(err error) bool {
	return errors.Is(err, windows.ERROR_BAD_FORMAT) || errors.Is(err, windows.ERROR_BAD_EXE_FORMAT)
}
