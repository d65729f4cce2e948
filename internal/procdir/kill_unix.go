//go:build !windows

package procdir

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var signalsByName = map[string]unix.Signal{
	"SIGHUP":  unix.SIGHUP,
	"SIGINT":  unix.SIGINT,
	"SIGQUIT": unix.SIGQUIT,
	"SIGTERM": unix.SIGTERM,
	"SIGUSR1": unix.SIGUSR1,
	"SIGUSR2": unix.SIGUSR2,
}

func killPID(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

func lookupSignal(name string) (unix.Signal, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(key, "SIG") {
		key = "SIG" + key
	}
	sig, ok := signalsByName[key]
	if !ok {
		return 0, fmt.Errorf("unknown shutdown signal %q", name)
	}
	return sig, nil
}

func validSignal(name string) error {
	_, err := lookupSignal(name)
	return err
}

func deliverSignal(pid int, name string) error {
	sig, err := lookupSignal(name)
	if err != nil {
		return err
	}
	return unix.Kill(pid, sig)
}
