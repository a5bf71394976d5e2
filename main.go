package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/openpile/pile/pile"

	"github.com/google/uuid"
	"github.com/willf/bitset"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()

	logger := newLogger()

	rctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var exitCode int
	if err := run(rctx, logger); err != nil {
		logger.Error("encountered top-level error", slog.String("error", err.Error()))
		exitCode = 1
	}

	os.Exit(exitCode)
}

func run(ctx context.Context, logger *slog.Logger) error {
	var missingRequiredFlags []string
	if *outputDir == "" {
		missingRequiredFlags = append(missingRequiredFlags, "output-dir")
	}
	if len(missingRequiredFlags) > 0 {
		logger.Error(
			"missing required flags",
			slog.Any("flags", missingRequiredFlags),
		)
		flag.Usage()
		return nil
	}

	components, err := pile.Select(splitNames(*onlyComponents), splitNames(*skipComponents))
	if err != nil {
		return fmt.Errorf("selecting components: %w", err)
	}

	if *dryRun {
		for i := range components {
			components[i].Source = pile.SourceSpec{Kind: pile.SourceSynthetic}
		}
		logger.Info("dry run: building from synthetic sources", slog.Int("docs per component", *dryRunDocs))
	}

	maxShardBytes, err := pile.ParseBytes(*shardSize)
	if err != nil {
		return fmt.Errorf("parsing -shard-size: %w", err)
	}

	runner := &buildRunner{
		runID:         uuid.New(),
		components:    components,
		maxShardBytes: maxShardBytes,
		paths:         make(map[string]string),
		reporter:      newBuildReporter(*reportInterval),
	}

	steps := runner.plan(logger)
	for i, step := range steps {
		fmt.Printf("\nRunning build step %d: %s\n\n", i+1, step.desc())
		if err := step.run(ctx, logger); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	return nil
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// buildRunner carries the state shared between pipeline steps.
type buildRunner struct {
	runID         uuid.UUID
	components    []pile.Component
	maxShardBytes int64

	paths      map[string]string // component name -> local raw data path
	duplicates *bitset.BitSet    // CommonCrawl near-dup flags, set by the dedupe step
	reporter   *buildReporter
	manifest   []shardManifestRow
}

func (br *buildRunner) plan(logger *slog.Logger) []pipelineStep {
	steps := []pipelineStep{
		&stepPreflight{runner: br},
		&stepVerifyManual{runner: br},
		&stepFetch{runner: br},
	}

	if *runDedupe {
		if _, ok := br.componentByName("CommonCrawl"); ok {
			steps = append(steps, &stepDedupe{runner: br})
		} else {
			logger.Warn("-dedupe set but CommonCrawl is not in the selection, skipping the duplicate pass")
		}
	}

	steps = append(steps, &stepBuild{runner: br}, &stepReport{runner: br})
	return steps
}

func (br *buildRunner) componentByName(name string) (pile.Component, bool) {
	for _, c := range br.components {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return pile.Component{}, false
}

// budgetFor is the number of documents a component owes a full build:
// its estimated document count scaled by its epoch count.
func (br *buildRunner) budgetFor(c pile.Component) int64 {
	if c.Source.Kind == pile.SourceSynthetic {
		return int64(float64(*dryRunDocs) * c.Epochs)
	}
	return int64(float64(c.EstimatedDocs()) * c.Epochs)
}

type pipelineStep interface {
	desc() string
	run(ctx context.Context, logger *slog.Logger) error
}

type stepPreflight struct {
	runner *buildRunner
}

func (s *stepPreflight) desc() string {
	return "validating the component table and checking the output filesystem"
}

func (s *stepPreflight) run(ctx context.Context, logger *slog.Logger) error {
	if err := pile.Validate(); err != nil {
		return fmt.Errorf("component table is inconsistent: %w", err)
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := logWarningIfLowDiskSpace(logger, *outputDir, s.runner.components); err != nil {
		logger.Warn("failed to check free disk space", slog.String("error", err.Error()))
	}
	return nil
}

type stepVerifyManual struct {
	runner *buildRunner
}

func (s *stepVerifyManual) desc() string {
	return "verifying manual downloads are in place"
}

func (s *stepVerifyManual) run(ctx context.Context, logger *slog.Logger) error {
	missing := pile.MissingManualDownloads(*cacheDir, s.runner.components)
	if len(missing) > 0 {
		return fmt.Errorf(
			"missing manual downloads, place them in the cache or -skip the components:\n  %s",
			strings.Join(missing, "\n  "),
		)
	}
	return nil
}

type stepFetch struct {
	runner *buildRunner
}

func (s *stepFetch) desc() string {
	var remote int
	for _, c := range s.runner.components {
		if !c.Source.Manual() && c.Source.Kind != pile.SourceSynthetic {
			remote++
		}
	}
	return fmt.Sprintf("fetching %d component files into the cache", remote)
}

func (s *stepFetch) run(ctx context.Context, logger *slog.Logger) error {
	f := newFetcher(logger, *mirrorBase, *cacheDir, *forceRefetch)

	var pathsLock sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(*fetchJobs)
	for _, c := range s.runner.components {
		if c.Source.Kind == pile.SourceSynthetic {
			continue
		}
		eg.Go(func() error {
			path, err := f.fetch(egCtx, c)
			if err != nil {
				return fmt.Errorf("fetching component %s: %w", c.Name, err)
			}
			pathsLock.Lock()
			s.runner.paths[c.Name] = path
			pathsLock.Unlock()
			return nil
		})
	}
	return eg.Wait()
}

type stepDedupe struct {
	runner *buildRunner
}

func (s *stepDedupe) desc() string {
	return "running the CommonCrawl near-duplicate pass"
}

func (s *stepDedupe) run(ctx context.Context, logger *slog.Logger) error {
	cc, _ := s.runner.componentByName("CommonCrawl")
	src, err := openSource(cc, s.runner.paths[cc.Name], *dryRunDocs)
	if err != nil {
		return fmt.Errorf("opening CommonCrawl source: %w", err)
	}
	defer src.Close()

	d := newDeduper(logger, dedupeWorkDir(), 0)
	dups, err := d.run(ctx, src)
	if err != nil {
		return err
	}
	s.runner.duplicates = dups
	return nil
}

func dedupeWorkDir() string {
	return fmt.Sprintf("%s/pile/dedupe", *cacheDir)
}

type stepBuild struct {
	runner *buildRunner
}

func (s *stepBuild) desc() string {
	var builder strings.Builder
	builder.WriteString(
		fmt.Sprintf("interleaving %d components into shards:\n", len(s.runner.components)),
	)
	for _, c := range s.runner.components {
		builder.WriteString(fmt.Sprintf(
			"   - %s: %s raw, %.4g epochs, ~%d documents\n",
			c.Name,
			pile.FormatGiB(c.RawSizeGiB),
			c.Epochs,
			s.runner.budgetFor(c),
		))
	}
	builder.WriteString(fmt.Sprintf("   - shard rotation at %s of raw text\n", *shardSize))
	return builder.String()
}

func (s *stepBuild) run(ctx context.Context, logger *slog.Logger) error {
	blog := stageLogger(logger, stageBuild)

	sampler, err := newMixtureSampler(s.runner.components, s.runner.budgetFor, *buildSeed)
	if err != nil {
		return err
	}

	streams := make([]*componentStream, len(s.runner.components))
	for i, c := range s.runner.components {
		streams[i] = &componentStream{
			component: c,
			path:      s.runner.paths[c.Name],
			dups:      s.runner.duplicatesFor(c),
		}
	}
	defer func() {
		for _, cs := range streams {
			cs.close()
		}
	}()

	writer, err := newShardWriter(*outputDir, s.runner.maxShardBytes)
	if err != nil {
		return err
	}

	blog.Info(
		"starting build",
		slog.String("run", s.runner.runID.String()),
		slog.Uint64("seed", *buildSeed),
		slog.Int64("total documents", sampler.totalBudget()),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, ok := sampler.next()
		if !ok {
			break
		}
		doc, err := streams[idx].next(ctx)
		if err != nil {
			return fmt.Errorf("reading from %s: %w", streams[idx].component.Name, err)
		}
		n, err := writer.Write(doc)
		if err != nil {
			return err
		}
		s.runner.reporter.ReportDocument(doc, n)
	}

	manifest, err := writer.Close()
	if err != nil {
		return err
	}
	s.runner.manifest = manifest
	blog.Info("build complete", slog.Int("shards", len(manifest)))
	return nil
}

func (br *buildRunner) duplicatesFor(c pile.Component) *bitset.BitSet {
	if strings.EqualFold(c.Name, "CommonCrawl") {
		return br.duplicates
	}
	return nil
}

// componentStream pulls documents from one component, reopening its source
// for another pass whenever the previous one runs dry. The mixture sampler
// bounds how many documents are pulled, so the final pass of a fractional
// epoch simply stops partway.
type componentStream struct {
	component pile.Component
	path      string
	dups      *bitset.BitSet
	src       Source[pile.Document]
	passes    int
	passDocs  int
}

func (cs *componentStream) next(ctx context.Context) (pile.Document, error) {
	for {
		if cs.src == nil {
			src, err := openSource(cs.component, cs.path, *dryRunDocs)
			if err != nil {
				return pile.Document{}, err
			}
			if cs.dups != nil {
				cs.src = newDedupedSource(src, cs.dups)
			} else {
				cs.src = src
			}
			cs.passes++
			cs.passDocs = 0
		}
		doc, err := cs.src.Next(ctx)
		if err == ErrExhausted {
			cs.close()
			// A pass that yields nothing would loop forever; an estimate
			// that was merely high just means extra passes.
			if cs.passDocs == 0 {
				return pile.Document{}, fmt.Errorf(
					"source produced no documents on pass %d", cs.passes,
				)
			}
			continue
		}
		if err != nil {
			return pile.Document{}, err
		}
		cs.passDocs++
		return doc, nil
	}
}

func (cs *componentStream) close() {
	if cs.src != nil {
		cs.src.Close()
		cs.src = nil
	}
}

type stepReport struct {
	runner *buildRunner
}

func (s *stepReport) desc() string {
	return "writing the build report"
}

func (s *stepReport) run(ctx context.Context, logger *slog.Logger) error {
	rlog := stageLogger(logger, stageReport)

	extra := Report{
		"run_id": s.runner.runID.String(),
		"seed":   *buildSeed,
		"shards": len(s.runner.manifest),
	}
	if *dryRun {
		sizing := make(Report, len(s.runner.components))
		for _, c := range s.runner.components {
			sizing[c.Name] = syntheticSizingReport(c, *dryRunDocs)
		}
		extra["synthetic_sizing"] = sizing
	}
	report, err := s.runner.reporter.Final(*outputDir, extra)
	if err != nil {
		return err
	}

	fmt.Println("")
	fmt.Printf("Cumulative report for the build:\n")
	report.PrintWithDepth(0)
	rlog.Info("wrote report", slog.String("path", *outputDir+"/report.json"))

	dbc, err := maybeConnectToMySQL(ctx)
	if err != nil {
		return fmt.Errorf("connecting to MySQL: %w", err)
	}
	if dbc == nil {
		return nil
	}
	defer dbc.Close()
	rlog.Info("connected to mysql db, recording build manifest there")

	var totalDocs, totalBytes int64
	totals := s.runner.reporter.Totals()
	for _, t := range totals {
		totalDocs += t.Docs
		totalBytes += t.Bytes
	}
	rec := buildRunRecord{
		RunID:      s.runner.runID,
		Timestamp:  time.Now().UTC(),
		Seed:       *buildSeed,
		TotalDocs:  totalDocs,
		TotalBytes: totalBytes,
		Components: totals,
	}
	if err := recordBuildToMySQL(ctx, dbc, rec); err != nil {
		return fmt.Errorf("recording build to MySQL: %w", err)
	}
	if err := diffAgainstLastRun(ctx, dbc, rlog, rec); err != nil {
		rlog.Warn("failed to diff against the previous recorded build", slog.String("error", err.Error()))
	}
	return nil
}
