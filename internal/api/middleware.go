package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewgate/reviewgate/internal/telemetry"
)

// ClientKeyHeader carries the shared secret.
const ClientKeyHeader = "X-Client-Key"

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type contextKey string

const requestIDKey contextKey = "requestID"

// RequestIDFrom returns the request id stored by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// authExempt lists paths served without the shared secret.
var authExempt = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Auth verifies the X-Client-Key header against key. In testbed mode the
// 401 message names the expected key so a test bench can self-diagnose.
func Auth(key string, testbed bool) Middleware {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(ClientKeyHeader)
			if provided != "" && subtle.ConstantTimeCompare([]byte(provided), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			telemetry.AuthFailures.Inc()
			msg := "Invalid client key"
			if provided == "" {
				msg = "Missing " + ClientKeyHeader + " header"
			}
			if testbed {
				msg += fmt.Sprintf(" (expected %q)", key)
			}
			writeError(w, http.StatusUnauthorized, msg)
		})
	}
}

// RequestID attaches a UUID request ID to the response header and request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture the written status code.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusResponseWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusResponseWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusResponseWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Logging logs method, path, status code and duration of each request and
// records the latency histogram.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			telemetry.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Observe(elapsed.Seconds())
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", elapsed,
				"request_id", RequestIDFrom(r.Context()),
			)
		})
	}
}

// Recover turns a handler panic into a 500.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"panic", rec,
						"path", r.URL.Path,
						"request_id", RequestIDFrom(r.Context()),
					)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflights and decorates every response. Origins on the
// allow-list are echoed back; anything else gets fallback, which a browser
// will refuse for a foreign page.
func CORS(extraOrigins []string, fallback string) Middleware {
	extra := make(map[string]bool, len(extraOrigins))
	for _, o := range extraOrigins {
		extra[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow := fallback
			if origin != "" && (extra[origin] || originAllowed(origin)) {
				allow = origin
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+ClientKeyHeader)
			h.Set("Access-Control-Expose-Headers", "X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			if strings.EqualFold(r.Header.Get("Access-Control-Request-Private-Network"), "true") {
				h.Set("Access-Control-Allow-Private-Network", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed matches the built-in allow-list: loopback on any port
// over http or https, and the Azure DevOps hosts over https on the
// default port.
func originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return false
	}
	host := strings.ToLower(u.Hostname())

	switch u.Scheme {
	case "http", "https":
		if host == "localhost" || host == "127.0.0.1" {
			return true
		}
	default:
		return false
	}

	if u.Scheme != "https" || u.Port() != "" {
		return false
	}
	if host == "dev.azure.com" {
		return true
	}
	for _, suffix := range []string{
		".dev.azure.com",
		".visualstudio.com",
		".gallerycdn.vsassets.io",
		".gallery.vsassets.io",
	} {
		if label, ok := strings.CutSuffix(host, suffix); ok {
			return isDNSLabel(label)
		}
	}
	return false
}

// isDNSLabel reports whether s is a single hostname label.
func isDNSLabel(s string) bool {
	if s == "" || len(s) > 63 || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}
