package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/gosimple/slug"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the process logger: human-readable records on stderr,
// fanned out to a per-deployment log file when logsDirectory is set. The
// returned context carries the logger; the cleanup closes the file sink.
func Setup(ctx context.Context, level slog.Level, logsDirectory, name string) (context.Context, func()) {
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, opts)}
	cleanup := func() {}

	if logsDirectory != "" {
		if err := os.MkdirAll(logsDirectory, 0o755); err != nil {
			clog.WarnContext(ctx, "failed to create logs directory", "path", logsDirectory, "error", err.Error())
		} else {
			logPath := filepath.Join(logsDirectory, fmt.Sprintf("%s.log", slug.Make(name)))
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				clog.WarnContext(ctx, "failed to open log file", "path", logPath, "error", err.Error())
			} else {
				handlers = append(handlers, slog.NewJSONHandler(logFile, opts))
				cleanup = func() { _ = logFile.Close() }
			}
		}
	}

	logger := clog.New(slogmulti.Fanout(handlers...))
	slog.SetDefault(&logger.Logger)
	return clog.WithLogger(ctx, logger), cleanup
}
