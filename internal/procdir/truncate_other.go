//go:build !linux

package procdir

const truncatedNameLen = 0
