package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
)

// buildRunRecord is what gets persisted for one build: the run row plus a
// row per component.
type buildRunRecord struct {
	RunID      uuid.UUID
	Timestamp  time.Time
	Seed       uint64
	TotalDocs  int64
	TotalBytes int64
	Components map[string]struct{ Docs, Bytes int64 }
}

func maybeConnectToMySQL(ctx context.Context) (*sql.DB, error) {
	if *mysqlDsn == "" {
		return nil, nil
	}

	dbc, err := sql.Open("mysql", withParseTime(*mysqlDsn))
	if err != nil {
		return nil, fmt.Errorf("opening MySQL connection: %w", err)
	}
	if err := dbc.PingContext(ctx); err != nil {
		dbc.Close()
		return nil, fmt.Errorf("pinging MySQL: %w", err)
	}
	return dbc, nil
}

// withParseTime adds parseTime=true to a DSN so timestamps scan into
// time.Time, respecting any parameters the DSN already carries.
func withParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true"
}

// recordBuildToMySQL writes the run and its per-component rows in one
// transaction, creating the tables on first use.
func recordBuildToMySQL(ctx context.Context, dbc *sql.DB, rec buildRunRecord) error {
	if err := ensureSchema(ctx, dbc); err != nil {
		return err
	}

	tx, err := dbc.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning MySQL transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pile_builds (run_id, created_at, seed, total_documents, total_raw_bytes)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunID.String(), rec.Timestamp, rec.Seed, rec.TotalDocs, rec.TotalBytes,
	); err != nil {
		return fmt.Errorf("inserting build run: %w", err)
	}

	for name, totals := range rec.Components {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pile_build_components (run_id, component, documents, raw_bytes)
			 VALUES (?, ?, ?, ?)`,
			rec.RunID.String(), name, totals.Docs, totals.Bytes,
		); err != nil {
			return fmt.Errorf("inserting component row for %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing MySQL transaction: %w", err)
	}
	return nil
}

// diffAgainstLastRun logs per-component document count changes against the
// most recent previously recorded build, if any.
func diffAgainstLastRun(ctx context.Context, dbc *sql.DB, logger *slog.Logger, rec buildRunRecord) error {
	var lastRunID string
	err := dbc.QueryRowContext(ctx,
		`SELECT run_id FROM pile_builds
		 WHERE run_id != ? ORDER BY created_at DESC LIMIT 1`,
		rec.RunID.String(),
	).Scan(&lastRunID)
	if err == sql.ErrNoRows {
		logger.Info("no previous build recorded, skipping diff")
		return nil
	} else if err != nil {
		return fmt.Errorf("finding previous build: %w", err)
	}

	rows, err := dbc.QueryContext(ctx,
		`SELECT component, documents FROM pile_build_components WHERE run_id = ?`,
		lastRunID,
	)
	if err != nil {
		return fmt.Errorf("reading previous build components: %w", err)
	}
	defer rows.Close()

	prev := make(map[string]int64)
	for rows.Next() {
		var (
			name string
			docs int64
		)
		if err := rows.Scan(&name, &docs); err != nil {
			return fmt.Errorf("scanning previous component row: %w", err)
		}
		prev[name] = docs
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating previous component rows: %w", err)
	}

	for name, totals := range rec.Components {
		before, ok := prev[name]
		if !ok {
			logger.Info("component is new since last recorded build", slog.String("component", name))
			continue
		}
		if before != totals.Docs {
			pct := float64(totals.Docs-before) / float64(before) * 100
			logger.Info(
				"component document count changed since last recorded build",
				slog.String("component", name),
				slog.Int64("previous", before),
				slog.Int64("current", totals.Docs),
				slog.String("change", fmt.Sprintf("%+.1f%%", pct)),
			)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, dbc *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pile_builds (
			run_id VARCHAR(36) PRIMARY KEY,
			created_at DATETIME NOT NULL,
			seed BIGINT UNSIGNED NOT NULL,
			total_documents BIGINT NOT NULL,
			total_raw_bytes BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pile_build_components (
			run_id VARCHAR(36) NOT NULL,
			component VARCHAR(64) NOT NULL,
			documents BIGINT NOT NULL,
			raw_bytes BIGINT NOT NULL,
			PRIMARY KEY (run_id, component)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := dbc.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring MySQL schema: %w", err)
		}
	}
	return nil
}
