//go:build linux

package memory

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

const meminfoPath = "/proc/meminfo"

type systemReader struct{}

// Read prefers /proc/meminfo's MemAvailable. Kernels without it fall back to
// sysinfo(2), where available is free plus buffer RAM.
func (systemReader) Read() (Figures, error) {
	f, err := os.Open(meminfoPath)
	if err == nil {
		defer f.Close()
		fig, perr := ParseMeminfo(f)
		if perr == nil {
			return fig, nil
		}
		slog.Debug("memory: meminfo unusable, using sysinfo", "error", perr)
	}
	return sysinfo()
}

func sysinfo() (Figures, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Figures{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	const mb = 1024 * 1024
	total := uint64(info.Totalram) * unit
	avail := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	return Figures{
		TotalMB:     float64(total) / mb,
		AvailableMB: float64(avail) / mb,
	}, nil
}
