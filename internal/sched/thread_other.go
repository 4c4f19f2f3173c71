//go:build !linux

package sched

// The thread id is only known on linux.
func currentThreadID() int {
	return -1
}
