// Command pilecheck audits the pile's component table and a local cache:
// it validates the table's internal consistency (weights sum to 100%,
// sizes sum to the stated total), lists missing manual downloads, and
// verifies checksums of already-cached component files.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/openpile/pile/pile"
)

var (
	flagCacheDir = flag.String(
		"cache-dir",
		os.Getenv("PILE_CACHE_DIR"),
		"cache directory to audit. skips cache checks when empty",
	)
	flagVerify = flag.Bool(
		"verify",
		false,
		"checksum every cached component file against the registry",
	)
	flagTable = flag.Bool(
		"table",
		true,
		"print the component table",
	)
)

func main() {
	flag.Parse()

	if *flagTable {
		printTable()
	}

	failed := false

	if err := pile.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "component table is inconsistent: %v\n", err)
		failed = true
	} else {
		fmt.Println("component table is consistent")
	}

	if *flagCacheDir != "" {
		failed = auditCache(*flagCacheDir) || failed
	}

	if failed {
		os.Exit(1)
	}
}

func printTable() {
	components := pile.Components()

	var totalGiB, totalEffective float64
	for _, c := range components {
		totalGiB += c.RawSizeGiB
		totalEffective += c.EffectiveSizeGiB()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Component\tRaw Size\tWeight\tEpochs\tMean Document Size")
	for _, c := range components {
		fmt.Fprintf(
			w,
			"%s\t%s\t%.2f%%\t%.4g\t%s\n",
			c.Name,
			pile.FormatGiB(c.RawSizeGiB),
			c.WeightPercent(totalGiB),
			c.Epochs,
			pile.FormatKiB(c.MeanDocSizeKiB),
		)
	}
	fmt.Fprintf(w, "Total\t%s\t\t\t(%s effective)\n",
		pile.FormatGiB(totalGiB),
		pile.FormatGiB(totalEffective),
	)
	w.Flush()
	fmt.Println()
}

func auditCache(cacheDir string) (failed bool) {
	components := pile.Components()

	missing := pile.MissingManualDownloads(cacheDir, components)
	for _, m := range missing {
		fmt.Fprintf(os.Stderr, "missing manual download: %s\n", m)
		failed = true
	}
	if len(missing) == 0 {
		fmt.Println("all manual downloads are in place")
	}

	if !*flagVerify {
		return failed
	}

	for _, c := range components {
		if c.Source.Kind == pile.SourceLocalDir || c.Source.Kind == pile.SourceSynthetic {
			continue
		}
		path := c.CachePath(cacheDir)
		if _, err := os.Stat(path); err != nil {
			continue // not cached yet, nothing to verify
		}
		if err := pile.VerifySHA256(path, c.Source.SHA256); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", c.Name, err)
			failed = true
			continue
		}
		if c.Source.SHA256 != "" {
			fmt.Printf("%s: checksum ok\n", c.Name)
		}
	}
	return failed
}
