//go:build linux

package procdir

// The kernel's comm field holds TASK_COMM_LEN-1 bytes.
const truncatedNameLen = 15
