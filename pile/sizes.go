package pile

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatGiB renders a GiB quantity the way the README table does,
// with two decimal places.
func FormatGiB(gib float64) string {
	return fmt.Sprintf("%.2f GiB", gib)
}

// FormatKiB renders a KiB quantity the way the README table does.
func FormatKiB(kib float64) string {
	return fmt.Sprintf("%.2f KiB", kib)
}

// FormatBytes renders a byte count in IEC units (KiB, MiB, ...).
func FormatBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}

// ParseBytes parses a human-readable byte quantity like "1GiB" or
// "512 MiB", as used by size flags.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("parsing size %q: %w", s, err)
	}
	return int64(n), nil
}
