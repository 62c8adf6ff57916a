//go:build !linux

package gucc

// getSystemMemory returns total system memory in bytes.
// Platforms without a sysinfo syscall get a fixed default.
func getSystemMemory() uint64 {
	return 16 * 1024 * 1024 * 1024
}
