package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// quietPaths are scraped or polled constantly and only logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logger returns a request logging middleware using zerolog. Server errors
// log at error level and client errors at warn. A WebSocket handshake is
// logged when the connection is handed off to the realtime hub.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			var ev *zerolog.Event
			switch {
			case m.Code >= 500:
				ev = logger.Error()
			case m.Code >= 400:
				ev = logger.Warn()
			case quietPaths[r.URL.Path]:
				ev = logger.Debug()
			default:
				ev = logger.Info()
			}

			msg := "request completed"
			if isUpgrade(r) {
				msg = "websocket upgraded"
			}

			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", m.Code).
				Int64("bytes", m.Written).
				Dur("latency", m.Duration).
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_addr", RealIP(r)).
				Msg(msg)
		})
	}
}
