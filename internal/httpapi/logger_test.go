package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func restoreGlobalLevel(t *testing.T) {
	t.Helper()
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("log line is not json: %v\nline=%s", err, line)
		}
		out = append(out, v)
	}
	return out
}

func TestNewLogger_FieldsAndLevel(t *testing.T) {
	restoreGlobalLevel(t)
	var buf bytes.Buffer
	log := newLogger(&buf, "WARN")

	log.Info().Msg("hidden")
	log.Warn().Dur("took", 1500*time.Millisecond).Msg("slow")

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected only the warn line, got %v", lines)
	}
	got := lines[0]
	if got["service"] != "ipcmanview" || got["level"] != "warn" || got["message"] != "slow" {
		t.Fatalf("unexpected fields: %v", got)
	}
	if got["took"] != float64(1500) {
		t.Fatalf("expected duration in milliseconds, got %v", got["took"])
	}
	if _, err := time.Parse(time.RFC3339Nano, got["time"].(string)); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %v", got["time"])
	}
}

func TestParseLevel_DefaultsToInfo(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
		" debug ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	} {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestAccessLog_WritesRequestLine(t *testing.T) {
	restoreGlobalLevel(t)
	var buf bytes.Buffer
	h := NewHandler(newLogger(&buf, "info"), nil, nil, nil, nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one access log line, got %v", lines)
	}
	got := lines[0]
	if got["message"] != "http_request" || got["path"] != "/healthz" || got["status"] != float64(200) || got["service"] != "ipcmanview" {
		t.Fatalf("unexpected access log: %v", got)
	}
	if id, _ := got["request_id"].(string); id == "" {
		t.Fatalf("expected request id, got %v", got)
	}
}
