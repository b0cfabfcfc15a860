package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/agent-web/agent-web-server/internal/auth"
)

const bearerPrefix = "Bearer "

type contextKey int

const sessionKey contextKey = iota

// Session is what the gate attaches to an authorized request.
type Session struct {
	Subject    string
	RemoteAddr string
}

func sessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// SessionGate admits requests carrying a valid bearer credential. It never
// reads the request body.
func SessionGate(codec *auth.Codec, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			values, present := r.Header["Authorization"]
			if !present || len(values) == 0 {
				respondError(w, http.StatusUnauthorized, "missing credential")
				return
			}
			header := values[0]
			if !isPrintableASCII(header) {
				respondError(w, http.StatusBadRequest, "malformed credential")
				return
			}
			if !strings.HasPrefix(header, bearerPrefix) {
				respondError(w, http.StatusUnauthorized, "wrong credential scheme")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
			subject, err := codec.Verify(token)
			if err != nil {
				logger.Debug("rejected credential", "remote_addr", r.RemoteAddr, "error", err)
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, Session{
				Subject:    subject,
				RemoteAddr: r.RemoteAddr,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isPrintableASCII(v string) bool {
	if !httpguts.ValidHeaderFieldValue(v) {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			return false
		}
	}
	return true
}

// CORS reflects the request origin when it is allowed. A "*" entry allows
// every origin, credentials included.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || (!allowAll && !slices.Contains(allowedOrigins, origin)) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
