//go:build windows

package procdir

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

var knownSignals = map[string]bool{
	"SIGHUP":  true,
	"SIGINT":  true,
	"SIGQUIT": true,
	"SIGTERM": true,
	"SIGUSR1": true,
	"SIGUSR2": true,
}

func killPID(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

func validSignal(name string) error {
	key := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(key, "SIG") {
		key = "SIG" + key
	}
	if !knownSignals[key] {
		return fmt.Errorf("unknown shutdown signal %q", name)
	}
	return nil
}

// Windows cannot deliver a console or POSIX signal to an unrelated process.
func deliverSignal(int, string) error {
	return ErrUnsupported
}
