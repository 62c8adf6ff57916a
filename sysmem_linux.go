//go:build linux

package gucc

import "golang.org/x/sys/unix"

// getSystemMemory returns total system memory in bytes
func getSystemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 16 * 1024 * 1024 * 1024
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
