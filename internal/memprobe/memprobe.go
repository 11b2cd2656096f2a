// Package memprobe answers the one question the page manager needs at
// startup: how much physical memory does this host have.
package memprobe

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// TotalMemory returns the host's total physical memory in bytes. There
// is no fallback default: a failed probe is fatal to the caller.
func TotalMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("memprobe: %w", err)
	}
	return vm.Total, nil
}
