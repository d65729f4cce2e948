package procdir

import (
	"context"
	"fmt"
)

// DefaultShutdownSignal is delivered when no other signal is configured.
const DefaultShutdownSignal = "SIGHUP"

// Signaller asks running applications to shut themselves down.
type Signaller struct {
	dir    Directory
	signal string
}

// NewSignaller returns a Signaller that delivers signal (for example "SIGHUP"
// or "TERM") to processes found through dir.
func NewSignaller(dir Directory, signal string) (*Signaller, error) {
	if dir == nil {
		return nil, fmt.Errorf("signaller requires a process directory")
	}
	if signal == "" {
		signal = DefaultShutdownSignal
	}
	if err := validSignal(signal); err != nil {
		return nil, err
	}
	return &Signaller{dir: dir, signal: signal}, nil
}

// ValidateSignal reports whether name is a shutdown signal this platform can
// deliver.
func ValidateSignal(name string) error {
	return validSignal(name)
}

// Signal reports the configured signal name.
func (s *Signaller) Signal() string {
	return s.signal
}

// RequestShutdown delivers the shutdown signal to every process matching name.
// Delivery is fire-and-forget. It reports false when the process table cannot
// be read or when every delivery failed; an application with no running
// instance counts as a successful request.
func (s *Signaller) RequestShutdown(ctx context.Context, name string) bool {
	snapshot, err := s.dir.List(ctx)
	if err != nil {
		return false
	}
	pids := s.dir.FindByName(snapshot, name)
	if pids.Len() == 0 {
		return true
	}
	delivered := 0
	for _, pid := range pids.Sorted() {
		if err := deliverSignal(pid, s.signal); err == nil {
			delivered++
		}
	}
	return delivered > 0
}
