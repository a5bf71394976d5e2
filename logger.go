package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

var logLevels = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

func newLogger() *slog.Logger {
	var logLevel slog.Level
	if level, ok := logLevels[os.Getenv("LOG_LEVEL")]; ok {
		logLevel = level
	}
	handler := &loggingHandler{
		level: logLevel,
	}
	return slog.New(handler)
}

type loggingHandler struct {
	level slog.Level
	attrs []slog.Attr
}

var _ slog.Handler = (*loggingHandler)(nil)

func (lh *loggingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lh.level
}

func (lh *loggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(lh.attrs)+len(attrs))
	combined = append(combined, lh.attrs...)
	for _, attr := range attrs {
		if !attr.Equal(slog.Attr{}) {
			combined = append(combined, attr)
		}
	}
	return &loggingHandler{
		level: lh.level,
		attrs: combined,
	}
}

func (lh *loggingHandler) WithGroup(_ string) slog.Handler {
	panic("not implemented")
}

// stageAttrKey tags a record with the pipeline stage that produced it,
// so the handler can color the stage prefix. Attached via stageLogger.
const stageAttrKey = "__pipeline_stage"

// buildStage identifies a phase of a pile build in log output.
type buildStage string

const (
	stageFetch  buildStage = "fetch"
	stageDedupe buildStage = "dedupe"
	stageBuild  buildStage = "build"
	stageReport buildStage = "report"
)

func (bs buildStage) valid() bool {
	switch bs {
	case stageFetch, stageDedupe, stageBuild, stageReport:
		return true
	}
	return false
}

// stageLogger returns a logger whose records carry the given stage tag.
func stageLogger(logger *slog.Logger, stage buildStage) *slog.Logger {
	return logger.With(slog.String(stageAttrKey, string(stage)))
}

func (lh *loggingHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder

	if !record.Time.IsZero() {
		builder.WriteRune('[')
		builder.WriteString(record.Time.Format(time.RFC3339))
		builder.WriteString("] ")
	}

	switch record.Level {
	case slog.LevelWarn:
		builder.WriteString("[WARN] ")
	case slog.LevelError:
		builder.WriteString("[ERROR] ")
	default:
	}

	var stageStr string
	for _, attr := range lh.attrs {
		if attr.Key == stageAttrKey {
			stageStr = attr.Value.String()
			break
		}
	}
	if stageStr == "" {
		record.Attrs(func(a slog.Attr) bool {
			if a.Key == stageAttrKey {
				stageStr = a.Value.String()
				return false
			}
			return true
		})
	}
	if stage := buildStage(stageStr); stage.valid() {
		switch stage {
		case stageFetch: // cyan (36)
			builder.WriteString("\x1b[36m")
		case stageDedupe: // yellow (33)
			builder.WriteString("\x1b[33m")
		case stageBuild: // green (32)
			builder.WriteString("\x1b[32m")
		case stageReport: // magenta (35)
			builder.WriteString("\x1b[35m")
		default:
			panic("unreachable")
		}
		builder.WriteRune('[')
		builder.WriteString(string(stage))
		builder.WriteString("]\x1b[0m ")
	}

	builder.WriteString(record.Message)

	writeAttr := func(attr slog.Attr) {
		builder.WriteRune(' ')
		builder.WriteString(attr.Key)
		builder.WriteString("=")
		builder.WriteString(attr.Value.String())
	}
	for _, attr := range lh.attrs {
		if attr.Key == stageAttrKey {
			continue
		}
		writeAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == stageAttrKey {
			return true
		}
		writeAttr(attr)
		return true
	})

	fmt.Println(builder.String())

	return nil
}
