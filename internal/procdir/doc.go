// Package procdir answers "what is running on this host" and "make that pid go
// away".
//
// The directory keeps no state between calls: every List performs a fresh
// enumeration through gopsutil and the result is a throwaway snapshot. Name
// matching is deliberately approximate. Executables are compared by basename
// without regard to case, and on Linux, where the kernel reports at most the
// first 15 bytes of a process name when the executable path is unreadable, a
// name of exactly that length also matches any longer name sharing the prefix.
//
// Kill is a best-effort SIGKILL (TerminateProcess on Windows) and says nothing
// about whether the process has actually exited. The Signaller delivers the
// cooperative shutdown signal; on Windows there is no cross-process signal, so
// it always reports failure and callers fall back to Kill.
package procdir
