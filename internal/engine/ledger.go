package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/corral/internal/metrics"
)

// Record tracks one process started or stopped by the launch manager.
// Process is the executable basename used to find the pid in the process
// table; App is the configured application key.
type Record struct {
	Product string    `json:"product"`
	App     string    `json:"app"`
	Process string    `json:"process"`
	PID     int       `json:"pid"`
	Level   int       `json:"level"`
	Since   time.Time `json:"since"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s/%s[%d]", r.Product, r.App, r.PID)
}

const (
	collectionActive   = "active"
	collectionDraining = "draining"
)

// ledger is a lock-guarded collection of records.
type ledger struct {
	name    string
	mu      sync.Mutex
	records []Record
}

func newLedger(name string) *ledger {
	return &ledger{name: name}
}

func (l *ledger) add(recs ...Record) {
	l.mu.Lock()
	l.records = append(l.records, recs...)
	l.publishLocked()
	l.mu.Unlock()
}

// addNew appends the records whose pid is not already present and returns
// the ones that were added.
func (l *ledger) addNew(recs ...Record) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var added []Record
	for _, rec := range recs {
		if l.hasPIDLocked(rec.PID) {
			continue
		}
		l.records = append(l.records, rec)
		added = append(added, rec)
	}
	l.publishLocked()
	return added
}

func (l *ledger) hasProcess(process string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range l.records {
		if strings.EqualFold(rec.Process, process) {
			return true
		}
	}
	return false
}

func (l *ledger) hasPIDLocked(pid int) bool {
	for _, rec := range l.records {
		if rec.PID == pid {
			return true
		}
	}
	return false
}

func (l *ledger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// filter keeps the records for which keep returns true and returns the rest.
func (l *ledger) filter(keep func(Record) bool) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filterLocked(keep)
}

func (l *ledger) filterLocked(keep func(Record) bool) []Record {
	var removed []Record
	kept := l.records[:0]
	for _, rec := range l.records {
		if keep(rec) {
			kept = append(kept, rec)
			continue
		}
		removed = append(removed, rec)
	}
	for i := len(kept); i < len(l.records); i++ {
		l.records[i] = Record{}
	}
	l.records = kept
	l.publishLocked()
	return removed
}

func (l *ledger) maxLevel() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	highest := -1
	for _, rec := range l.records {
		if rec.Level > highest {
			highest = rec.Level
		}
	}
	return highest
}

// snapshot returns a copy ordered by level (highest first), then pid.
func (l *ledger) snapshot() []Record {
	l.mu.Lock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].PID < out[j].PID
	})
	return out
}

func (l *ledger) publishLocked() {
	metrics.SetTracked(l.name, len(l.records))
}
