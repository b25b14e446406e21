package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// SentryConfig describes the agent installation reported with each event.
type SentryConfig struct {
	Version string
	// Reader is the PC/SC reader the agent watches; every event is tagged
	// with it so failures can be grouped per reader model.
	Reader string
	// CrashReporting is the persisted user opt-in.
	CrashReporting bool
}

// crashReportingRequested applies the CARDID_AGENT_SENTRY override
// ("1" or "0") to the persisted opt-in.
func crashReportingRequested(optIn bool) bool {
	switch os.Getenv("CARDID_AGENT_SENTRY") {
	case "1":
		return true
	case "0":
		return false
	}
	return optIn
}

func sentryEnvironment() string {
	if env := os.Getenv("CARDID_AGENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "production"
}

func sentryClientOptions(dsn string, cfg SentryConfig) sentry.ClientOptions {
	return sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "cardid-agent@" + cfg.Version,
		Environment:      sentryEnvironment(),
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	}
}

func sentryTags(cfg SentryConfig) map[string]string {
	tags := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if cfg.Reader != "" {
		tags["reader"] = cfg.Reader
	}
	return tags
}

// InitSentry starts crash reporting when the user opted in and a DSN is
// set through CARDID_AGENT_SENTRY_DSN. It reports whether Sentry is active.
func InitSentry(cfg SentryConfig) bool {
	if !crashReportingRequested(cfg.CrashReporting) {
		return false
	}

	dsn := os.Getenv("CARDID_AGENT_SENTRY_DSN")
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but CARDID_AGENT_SENTRY_DSN is not set", nil)
		return false
	}

	if err := sentry.Init(sentryClientOptions(dsn, cfg)); err != nil {
		Warn(CatSystem, "Failed to initialize Sentry", map[string]any{
			"error": err.Error(),
		})
		return false
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(sentryTags(cfg))
	})

	sentryEnabled = true
	Info(CatSystem, "Crash reporting enabled", map[string]any{
		"reader": cfg.Reader,
	})
	return true
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry flushes buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// withScope runs capture in a scope tagged with where the event came from.
func withScope(tag, context string, data map[string]interface{}, capture func(*sentry.Scope)) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag(tag, context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		capture(scope)
	})
}

// CapturePanic reports a recovered panic with its stack and flushes
// immediately, since the process may be about to exit.
func CapturePanic(panicValue interface{}, stack []byte, context string) {
	if !sentryEnabled {
		return
	}

	withScope("panic_context", context, map[string]interface{}{"stack_trace": string(stack)}, func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		if err, ok := panicValue.(error); ok {
			sentry.CaptureException(err)
			return
		}
		sentry.CaptureMessage(fmt.Sprint(panicValue))
	})

	sentry.Flush(2 * time.Second)
}

// CaptureError reports a non-fatal error such as a failed card read.
func CaptureError(err error, context string, data map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	withScope("error_context", context, data, func(*sentry.Scope) {
		sentry.CaptureException(err)
	})
}
