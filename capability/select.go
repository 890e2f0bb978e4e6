package capability

import (
	"context"
	"log/slog"

	"github.com/xraph/warrant/clock"
)

// Select picks the backend once at startup: rich when it is configured and
// answers Ping, the in-process Minimal backend otherwise. The choice is
// never revisited.
func Select(ctx context.Context, rich RichBackend, clk clock.Clock, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if rich == nil {
		logger.Info("capability backend selected", "backend", "minimal", "reason", "no rich backend configured")
		return NewMinimal(clk)
	}
	if err := rich.Ping(ctx); err != nil {
		logger.Warn("rich capability backend unavailable, falling back to minimal",
			"error", err,
		)
		return NewMinimal(clk)
	}
	logger.Info("capability backend selected", "backend", "rich")
	return rich
}
