package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseMeminfo reads MemTotal and MemAvailable from /proc/meminfo content.
// MemAvailable counts reclaimable page cache, so a warm cache does not look
// like memory pressure.
func ParseMeminfo(r io.Reader) (Figures, error) {
	var total, avail float64
	var haveTotal, haveAvail bool
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || (key != "MemTotal" && key != "MemAvailable") {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Figures{}, fmt.Errorf("meminfo: empty %s", key)
		}
		kb, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Figures{}, fmt.Errorf("meminfo: %s: %w", key, err)
		}
		if key == "MemTotal" {
			total, haveTotal = kb/1024, true
		} else {
			avail, haveAvail = kb/1024, true
		}
	}
	if err := sc.Err(); err != nil {
		return Figures{}, fmt.Errorf("meminfo: %w", err)
	}
	if !haveTotal || !haveAvail {
		return Figures{}, errors.New("meminfo: MemTotal or MemAvailable missing")
	}
	return Figures{TotalMB: total, AvailableMB: avail}, nil
}
