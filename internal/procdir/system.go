package procdir

import (
	"context"
	"errors"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// System is the Directory backed by the host process table.
type System struct{}

// NewSystem constructs a Directory for the current host.
func NewSystem() *System {
	return &System{}
}

// List enumerates every visible process. Attributes that cannot be read for an
// individual process (permissions, or the process exiting mid-scan) are left
// zero; processes with no readable name at all are skipped, as are
// zombies, which no longer execute anything.
func (s *System) List(ctx context.Context) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, &QueryError{Op: "enumerate", Err: err}
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		if isZombie(ctx, p) {
			continue
		}
		names := processNames(ctx, p)
		if len(names) == 0 {
			continue
		}
		entry := Entry{PID: int(p.Pid), Path: names[0], Aliases: names[1:]}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			entry.PPID = int(ppid)
		}
		if threads, err := p.NumThreadsWithContext(ctx); err == nil {
			entry.Threads = int(threads)
		}
		if fds, err := p.NumFDsWithContext(ctx); err == nil {
			entry.RefCount = int(fds)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FindByName matches name against the snapshot.
func (s *System) FindByName(snapshot []Entry, name string) PIDSet {
	return Match(snapshot, name)
}

// Kill terminates pid without giving it a chance to clean up.
func (s *System) Kill(pid int) bool {
	if pid <= 0 {
		return false
	}
	return killPID(pid) == nil
}

// processNames returns argv[0], the resolved executable and the process name
// in that order, without blanks or duplicates. argv[0] may be missing for
// kernel threads and processes that cleared their command line.
func processNames(ctx context.Context, p *process.Process) []string {
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		for _, seen := range names {
			if seen == name {
				return
			}
		}
		names = append(names, name)
	}
	if args, err := p.CmdlineSliceWithContext(ctx); err == nil && len(args) > 0 {
		add(args[0])
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		add(exe)
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		add(name)
	}
	return names
}

func isZombie(ctx context.Context, p *process.Process) bool {
	states, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, state := range states {
		if state == process.Zombie {
			return true
		}
	}
	return false
}

// ErrUnsupported is returned by platform hooks that have no implementation on
// the running OS.
var ErrUnsupported = errors.New("operation not supported on this platform")

var _ Directory = (*System)(nil)
