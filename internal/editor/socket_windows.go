//go:build windows

package editor

import "os"

// processAlive on windows relies on FindProcess opening a handle.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
