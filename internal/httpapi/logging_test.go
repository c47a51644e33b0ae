package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"INFO":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r, LevelOff); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r, LevelOff); got != LevelDebug {
		t.Fatalf("short query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r, LevelInfo); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	if got := requestLogLevel(r, LevelInfo); got != LevelInfo {
		t.Fatalf("default not used: %v", got)
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestLoggerInfo(t *testing.T) {
	var buf bytes.Buffer
	h := NewMux(&mockService{}, Options{Logger: zerolog.New(&buf), RequestLog: "info"})
	serve(h, http.MethodGet, "/healthz")
	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d: %s", len(lines), buf.String())
	}
	l := lines[0]
	if l["path"] != "/healthz" || l["method"] != "GET" || l["status"] != float64(200) {
		t.Fatalf("log line %+v", l)
	}
	if _, ok := l["request_id"]; !ok {
		t.Fatalf("request id missing: %+v", l)
	}
	if _, ok := l["user_agent"]; ok {
		t.Fatalf("user agent logged at info: %+v", l)
	}
}

func TestRequestLoggerErrorOnlyLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	svc := &mockService{endErr: mockHTTPError{msg: "down", code: http.StatusInternalServerError}}
	h := NewMux(svc, Options{Logger: zerolog.New(&buf), RequestLog: "error"})
	serve(h, http.MethodGet, "/healthz")
	if buf.Len() != 0 {
		t.Fatalf("successful request logged at error level: %s", buf.String())
	}
	serve(h, http.MethodPost, "/episode/end")
	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "error" {
		t.Fatalf("lines %+v", lines)
	}
}

func TestRequestLoggerOffWithDebugOverride(t *testing.T) {
	var buf bytes.Buffer
	h := NewMux(&mockService{}, Options{Logger: zerolog.New(&buf)})
	serve(h, http.MethodGet, "/healthz")
	if buf.Len() != 0 {
		t.Fatalf("logged while off: %s", buf.String())
	}
	serve(h, http.MethodGet, "/healthz?log=debug")
	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d", len(lines))
	}
	if _, ok := lines[0]["remote"]; !ok {
		t.Fatalf("debug line lacks remote: %+v", lines[0])
	}
}
