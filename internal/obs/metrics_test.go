package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/organization/departments/12":          "/organization/departments/:id",
		"/departments/3/staff/7/reset-password": "/departments/:id/staff/:id/reset-password",
		"/staff/7/student-logs?status=pending":  "/staff/:id/student-logs",
		"/student/logs":                         "/student/logs",
		"/notifications/abc/read":               "/notifications/abc/read",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInitLoggerWritesJSON(t *testing.T) {
	orig := Logger()
	defer func() {
		loggerMu.Lock()
		logger = orig
		loggerMu.Unlock()
	}()

	var buf bytes.Buffer
	InitLogger("debug", &buf)
	Logger().Debug().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["level"] != "debug" || entry["k"] != "v" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts field")
	}

	buf.Reset()
	InitLogger("bogus", &buf)
	Logger().Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered at info level, got %q", buf.String())
	}
}

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "logbook-test", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitBuildInfoKeepsOneSeries(t *testing.T) {
	InitBuildInfo("v1.0.0", "abc123")
	InitBuildInfo("v1.1.0", "def456")

	if n := testutil.CollectAndCount(release); n != 1 {
		t.Fatalf("expected a single build_info series, got %d", n)
	}
	if v := testutil.ToFloat64(release.WithLabelValues("v1.1.0", "def456", runtime.Version())); v != 1 {
		t.Fatalf("build_info = %v", v)
	}

	InitBuildInfo("", "none")
	if n := testutil.CollectAndCount(release); n != 1 {
		t.Fatalf("expected a single series after fallback, got %d", n)
	}
}
