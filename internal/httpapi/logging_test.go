package httpapi

import (
	"bytes"
	"errors"
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
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
	// query wins over header
	r = httptest.NewRequest("GET", "/x?log=info", nil)
	r.Header.Set("X-Log-Level", "debug")
	if got := requestLogLevel(r); got != LevelInfo {
		t.Fatalf("query precedence failed: %v", got)
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))
	defer SetLogger(zerolog.Nop())

	l := newRequestLog(httptest.NewRequest("POST", "/v1/models/m/infer?log=debug", nil), "infer", "m", 0)
	l.begin(map[string][]int64{"x": {1, 2}})
	l.end(200, nil)
	out := buf.String()
	for _, want := range []string{`"message":"infer start"`, `"input.x":[1,2]`, `"message":"infer end"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output: %s", want, out)
		}
	}

	buf.Reset()
	l = newRequestLog(httptest.NewRequest("POST", "/x?log=error", nil), "infer", "m", 1)
	l.begin(nil)
	l.end(200, nil)
	if buf.Len() != 0 {
		t.Fatalf("error level must not log successes: %s", buf.String())
	}
	l.end(500, errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Fatalf("expected error logged: %s", buf.String())
	}

	buf.Reset()
	l = newRequestLog(httptest.NewRequest("POST", "/x?log=off", nil), "infer", "m", 1)
	l.end(500, errors.New("boom"))
	if buf.Len() != 0 {
		t.Fatalf("off level must not log: %s", buf.String())
	}
}
