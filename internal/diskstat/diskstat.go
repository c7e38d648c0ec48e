// Package diskstat reports filesystem usage for the configured output
// root, backing the cleanup sweep's disk-pressure threshold check.
package diskstat

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// Usage is the fraction of the filesystem containing path that is
// currently in use, in [0, 1].
func Usage(path string) (float64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("reading disk usage for %s: %w", path, err)
	}
	return stat.UsedPercent / 100.0, nil
}

// FreeBytes is the number of bytes free on the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("reading disk usage for %s: %w", path, err)
	}
	return stat.Free, nil
}
