package procdir

import (
	"context"
	"fmt"
	"sort"
)

// Entry is a single row of a process snapshot.
// Path is the program as it was invoked (argv[0]) when that is readable, so a
// process started through a symlink keeps the link's name. Aliases holds the
// other names the OS reports for it: the resolved executable and the short
// process name.
type Entry struct {
	PID      int
	PPID     int
	Path     string
	Aliases  []string
	Threads  int
	RefCount int
}

// Directory enumerates and terminates host processes.
type Directory interface {
	// List returns a fresh snapshot of running processes. A failure of the
	// enumeration itself is reported as a *QueryError.
	List(ctx context.Context) ([]Entry, error)

	// FindByName returns the pids in snapshot whose executable matches name.
	FindByName(snapshot []Entry, name string) PIDSet

	// Kill terminates pid immediately and reports whether the OS accepted
	// the request.
	Kill(pid int) bool
}

// QueryError reports that the process table could not be read at all.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("process query: %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// PIDSet is an unordered set of process ids.
type PIDSet map[int]struct{}

// NewPIDSet builds a set from the supplied pids.
func NewPIDSet(pids ...int) PIDSet {
	set := make(PIDSet, len(pids))
	for _, pid := range pids {
		set[pid] = struct{}{}
	}
	return set
}

// Has reports whether pid is a member of the set.
func (s PIDSet) Has(pid int) bool {
	_, ok := s[pid]
	return ok
}

// Len returns the number of pids in the set.
func (s PIDSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s PIDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for pid := range s {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
