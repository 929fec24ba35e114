package observability

import (
	"context"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/quantforge/analysis-engine/internal/config"
)

// InitSentry configures the error-tracking sink. A disabled config or
// empty DSN is a no-op so local development needs no Sentry project.
func InitSentry(cfg config.SentryConfig, fallbackRelease, fallbackEnv string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	release := cfg.Release
	if release == "" {
		release = fallbackRelease
	}

	environment := cfg.Environment
	if environment == "" {
		environment = fallbackEnv
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		Release:          release,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			event.Tags["go_version"] = runtime.Version()
			event.Tags["go_os"] = runtime.GOOS
			return event
		},
	})
}

// Flush drains buffered events within the context deadline.
func Flush(ctx context.Context) {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}
	}
	sentry.Flush(timeout)
}

// CaptureException reports an internal fault. Capture is fire-and-forget
// and never blocks the response path.
func CaptureException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithTags reports an internal fault with extra tags,
// typically the ticker and analysis type of the failing request.
func CaptureExceptionWithTags(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}
