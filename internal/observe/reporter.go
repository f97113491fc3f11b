package observe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Monthlyaway/qr-link/internal/metrics"
	"github.com/getsentry/sentry-go"
)

// Reporter records failures that were recovered locally: a structured
// log line, a Prometheus counter and, when enabled, a Sentry event.
type Reporter struct {
	logger *slog.Logger
	sentry bool
}

// NewReporter creates a reporter. sentryEnabled should be the result of InitSentry.
func NewReporter(logger *slog.Logger, sentryEnabled bool) *Reporter {
	return &Reporter{logger: logger, sentry: sentryEnabled}
}

// Report records err as a failure of op
func (r *Reporter) Report(ctx context.Context, op string, err error) {
	metrics.IsolatedFailures.WithLabelValues(op).Inc()

	attrs := []any{"operation", op, "error", err}
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	r.logger.WarnContext(ctx, "isolated operation failed", attrs...)

	if !r.sentry {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", op)
		if id := RequestID(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		hub.CaptureException(err)
	})
}

// InitSentry configures the global Sentry client. An empty DSN leaves Sentry disabled.
func InitSentry(dsn, environment string) (bool, error) {
	if dsn == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	return true, nil
}

// FlushSentry waits for buffered events to be sent
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
