package main

import (
	"flag"
	"os"
	"time"
)

var outputDir = flag.String(
	"output-dir",
	"",
	"directory to write shards, the manifest and the build report into. required",
)

var cacheDir = flag.String(
	"cache-dir",
	defaultCacheDir(),
	"directory for downloaded component data and manual downloads (books3.tar.gz, document_parses). defaults to $PILE_CACHE_DIR, then the system temp dir",
)

var mirrorBase = flag.String(
	"mirror",
	"https://mirror.openpile.org/components",
	"base URL that component files are fetched from",
)

var onlyComponents = flag.String(
	"only",
	"",
	"comma-separated component names to build exclusively. builds everything when empty",
)

var skipComponents = flag.String(
	"skip",
	"",
	"comma-separated component names to leave out of the build",
)

var shardSize = flag.String(
	"shard-size",
	"1GiB",
	"amount of uncompressed text per output shard, e.g. 512MiB or 1GiB",
)

var buildSeed = flag.Uint64(
	"seed",
	42,
	"seed for the mixture sampler. two builds with the same seed and component selection emit documents in the same order",
)

var fetchJobs = flag.Int(
	"jobs",
	4,
	"number of component downloads to run in parallel",
)

var runDedupe = flag.Bool(
	"dedupe",
	false,
	"run the CommonCrawl near-duplicate pass before building. resumes from the last checkpoint if a previous pass was interrupted",
)

var forceRefetch = flag.Bool(
	"force",
	false,
	"refetch component files even if they are already cached",
)

var reportInterval = flag.Duration(
	"report-interval",
	time.Second*10,
	"how often to print build throughput reports. 0 disables periodic reports",
)

var mysqlDsn = flag.String(
	"mysql-dsn",
	"",
	"MySQL DSN to record the build manifest in (optional)",
)

var dryRun = flag.Bool(
	"dry-run",
	false,
	"build from seeded synthetic sources instead of real component data. no network access, useful for sizing shards and testing the pipeline",
)

var dryRunDocs = flag.Int(
	"dry-run-docs",
	10_000,
	"number of synthetic documents per component when -dry-run is set",
)

func defaultCacheDir() string {
	if dir := os.Getenv("PILE_CACHE_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}
