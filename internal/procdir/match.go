package procdir

import "strings"

// Match returns the pids in snapshot known by a basename equal to name,
// ignoring case. The invoked path and every alias are tried. On platforms that truncate reported process names, a
// basename of exactly the truncation length also matches a longer name with
// the same prefix.
func Match(snapshot []Entry, name string) PIDSet {
	return matchWithLimit(snapshot, name, truncatedNameLen)
}

func matchWithLimit(snapshot []Entry, name string, limit int) PIDSet {
	pids := make(PIDSet)
	target := Basename(name)
	if target == "" {
		return pids
	}
	for _, entry := range snapshot {
		if entryMatches(entry, target, limit) {
			pids[entry.PID] = struct{}{}
		}
	}
	return pids
}

// entryMatches compares target with the invoked path and every alias.
func entryMatches(entry Entry, target string, limit int) bool {
	if nameMatches(entry.Path, target, limit) {
		return true
	}
	for _, alias := range entry.Aliases {
		if nameMatches(alias, target, limit) {
			return true
		}
	}
	return false
}

func nameMatches(name, target string, limit int) bool {
	base := Basename(name)
	if base == "" {
		return false
	}
	return strings.EqualFold(base, target) || truncatedMatch(base, target, limit)
}

func truncatedMatch(base, target string, limit int) bool {
	if limit <= 0 || len(base) != limit || len(target) <= limit {
		return false
	}
	return strings.EqualFold(base, target[:limit])
}

// Basename strips any directory portion from path, accepting both slash
// styles so that names reported by one platform can be compared on another.
func Basename(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimSuffix(path, " (deleted)")
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		path = path[idx+1:]
	}
	if path == "" || path == "." {
		return ""
	}
	return path
}
