//go:build !windows

package spawn

import (
	"os/exec"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd, _ Flags) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func isBadFormat(error) bool {
	return false
}
