package logging

import (
	"errors"
	"runtime"
	"testing"
)

func TestInitSentry_DisabledByDefault(t *testing.T) {
	t.Setenv("CARDID_AGENT_SENTRY", "")
	t.Setenv("CARDID_AGENT_SENTRY_DSN", "")

	if InitSentry(SentryConfig{Version: "test"}) {
		t.Error("Sentry should not initialize when crash reporting is off")
	}
	if SentryEnabled() {
		t.Error("SentryEnabled should be false")
	}
}

func TestInitSentry_RequiresDSN(t *testing.T) {
	t.Setenv("CARDID_AGENT_SENTRY", "1")
	t.Setenv("CARDID_AGENT_SENTRY_DSN", "")

	if InitSentry(SentryConfig{Version: "test", CrashReporting: true}) {
		t.Error("Sentry should not initialize without a DSN")
	}
}

func TestCrashReportingRequested(t *testing.T) {
	tests := []struct {
		env   string
		optIn bool
		want  bool
	}{
		{"", false, false},
		{"", true, true},
		{"1", false, true},
		{"0", true, false},
		{"yes", true, true},
	}

	for _, tt := range tests {
		t.Setenv("CARDID_AGENT_SENTRY", tt.env)
		if got := crashReportingRequested(tt.optIn); got != tt.want {
			t.Errorf("env=%q optIn=%v: got %v, want %v", tt.env, tt.optIn, got, tt.want)
		}
	}
}

func TestSentryClientOptions(t *testing.T) {
	t.Setenv("CARDID_AGENT_ENVIRONMENT", "")

	opts := sentryClientOptions("https://key@example.invalid/1", SentryConfig{Version: "1.4.0"})

	if opts.Release != "cardid-agent@1.4.0" {
		t.Errorf("unexpected release %q", opts.Release)
	}
	if opts.Environment != "production" {
		t.Errorf("unexpected environment %q", opts.Environment)
	}
	if !opts.AttachStacktrace {
		t.Error("stack traces should be attached")
	}

	t.Setenv("CARDID_AGENT_ENVIRONMENT", "staging")
	if env := sentryClientOptions("", SentryConfig{}).Environment; env != "staging" {
		t.Errorf("expected staging, got %q", env)
	}
}

func TestSentryTags_IncludeReader(t *testing.T) {
	tags := sentryTags(SentryConfig{Reader: "Sony FeliCa Port/PaSoRi 3.0 0"})

	if tags["reader"] != "Sony FeliCa Port/PaSoRi 3.0 0" {
		t.Errorf("expected reader tag, got %q", tags["reader"])
	}
	if tags["os"] != runtime.GOOS {
		t.Errorf("expected os tag %q, got %q", runtime.GOOS, tags["os"])
	}

	if _, ok := sentryTags(SentryConfig{})["reader"]; ok {
		t.Error("empty reader should not be tagged")
	}
}

func TestCaptureHelpers_NoopWhenDisabled(t *testing.T) {
	// Must not panic while Sentry is disabled.
	CaptureError(errors.New("transmit failed"), "test", map[string]interface{}{"reader": "x"})
	CapturePanic("boom", []byte("stack"), "test")
}
