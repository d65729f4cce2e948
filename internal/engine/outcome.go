package engine

import "fmt"

// Outcome is the result of every public launch manager operation.
type Outcome int

const (
	Okay Outcome = iota
	// Existing reports a duplicate startup entry.
	Existing
	// AccessDenied reports that a forced kill was refused by the OS.
	AccessDenied
	FileNotFound
	NoProduct
	NoApplication
	// BadProgram reports a path that is not a valid executable, or a
	// control token mismatch.
	BadProgram
	// LaunchFailed reports a refused or unclassified launch failure, and
	// process table query failures.
	LaunchFailed
	NotRunning
	// NoAnchor reports that the cooperative shutdown request reached nothing.
	NoAnchor
	// Frozen is reserved for health checks and is never produced.
	Frozen
)

var outcomeNames = [...]string{
	Okay:          "OKAY",
	Existing:      "EXISTING",
	AccessDenied:  "ACCESS_DENIED",
	FileNotFound:  "FILE_NOT_FOUND",
	NoProduct:     "NO_PRODUCT",
	NoApplication: "NO_APPLICATION",
	BadProgram:    "BAD_PROGRAM",
	LaunchFailed:  "LAUNCH_FAILED",
	NotRunning:    "NOT_RUNNING",
	NoAnchor:      "NO_ANCHOR",
	Frozen:        "FROZEN",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("OUTCOME(%d)", int(o))
	}
	return outcomeNames[o]
}

// MarshalText renders the outcome name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an outcome name produced by MarshalText.
func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome maps an outcome name back to its value.
func ParseOutcome(name string) (Outcome, error) {
	for idx, candidate := range outcomeNames {
		if candidate == name {
			return Outcome(idx), nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", name)
}
