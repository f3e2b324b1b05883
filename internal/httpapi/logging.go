package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zlog is the structured logger of the HTTP layer. Defaults to the global
// zerolog logger.
var zlog = log.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("INFERD_REQUEST_LOG"))

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog records one API call at the level selected for the request.
type requestLog struct {
	r     *http.Request
	lvl   LogLevel
	start time.Time
	op    string
	model string
	ver   int64
}

func newRequestLog(r *http.Request, op, model string, version int64) *requestLog {
	return &requestLog{r: r, lvl: requestLogLevel(r), start: time.Now(), op: op, model: model, ver: version}
}

func (l *requestLog) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("op", l.op).Str("path", l.r.URL.Path).Str("model", l.model).Int64("version", l.ver)
	if rid := middleware.GetReqID(l.r.Context()); rid != "" {
		e = e.Str("request_id", rid)
	}
	return e
}

// begin logs the start of a call; debug level includes the input layout.
func (l *requestLog) begin(inputs map[string][]int64) {
	switch {
	case l.lvl >= LevelDebug:
		e := l.event(zlog.Debug())
		for name, shape := range inputs {
			e = e.Ints64("input."+name, shape)
		}
		e.Msg(l.op + " start")
	case l.lvl >= LevelInfo:
		l.event(zlog.Info()).Msg(l.op + " start")
	}
}

// end logs the outcome of a call.
func (l *requestLog) end(status int, err error) {
	if l.lvl == LevelOff || (l.lvl == LevelError && err == nil) {
		return
	}
	e := zlog.Info()
	if err != nil {
		e = zlog.Error().Err(err)
	}
	l.event(e).Int("status", status).Dur("dur", time.Since(l.start)).Msg(l.op + " end")
}
