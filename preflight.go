package main

import (
	"fmt"
	"log/slog"

	"github.com/openpile/pile/pile"

	"golang.org/x/sys/unix"
)

func freeDiskBytes(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return int64(st.Bavail) * st.Bsize, nil
}

// logWarningIfLowDiskSpace warns when the output filesystem has less free
// space than the selected components' effective size. The build will still
// run (shards compress well), but an operator should know before a
// multi-hour build dies on a full disk.
func logWarningIfLowDiskSpace(logger *slog.Logger, dir string, components []pile.Component) error {
	free, err := freeDiskBytes(dir)
	if err != nil {
		return fmt.Errorf("failed to check free disk space: %w", err)
	}

	var effectiveGiB float64
	for _, c := range components {
		effectiveGiB += c.EffectiveSizeGiB()
	}
	needed := int64(effectiveGiB * float64(1<<30))

	if free < needed {
		logger.Warn(
			"output filesystem may be too small for this build",
			slog.String("free", pile.FormatBytes(free)),
			slog.String("selected effective size", pile.FormatBytes(needed)),
		)
	}

	return nil
}
