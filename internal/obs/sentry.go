package obs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// InitSentry configures the global Sentry client. An empty DSN disables
// reporting and returns a no-op flush.
func InitSentry(dsn, environment, release string) (func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// ReportError sends err to Sentry with the given tags and logs it. Provider
// credentials must never be passed as tags.
func ReportError(ctx context.Context, err error, tags map[string]string) {
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
	evt := zerolog.Ctx(ctx).Error().Err(err)
	for k, v := range tags {
		evt = evt.Str(k, v)
	}
	evt.Msg("reported_error")
}

// PanicReporter recovers handler panics, reports them and answers 500. It
// is used in place of chi's Recoverer so the panic value reaches Sentry.
func PanicReporter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ReportError(r.Context(), fmt.Errorf("panic: %v", rec), map[string]string{"route": routeLabel(r, r.URL.Path)})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error","code":"INTERNAL"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
