package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"fieldservice/internal/user"
	"fieldservice/pkg/authtoken"
	"fieldservice/pkg/log"
)

type UserFinder interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
	FindByEmail(ctx context.Context, email string) (*user.User, error)
}

type AuthOptions struct {
	Tokens authtoken.Issuer
	Users  UserFinder
	// DevFallback accepts `X-User-Email` when no bearer token is sent.
	// Never enable this in production.
	DevFallback bool
	Now         func() time.Time
}

// Authenticate resolves the calling user and attaches it to the context.
//
// Expected header:
// - Authorization: Bearer <JWT>
//
// Websocket handshakes may pass the token as ?access_token= instead.
func Authenticate(opts AuthOptions) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			switch {
			case strings.HasPrefix(strings.ToLower(authz), "bearer "):
				token = authz[7:]
			case strings.EqualFold(r.Header.Get("Upgrade"), "websocket"):
				// Browsers cannot set headers on a websocket handshake.
				token = r.URL.Query().Get("access_token")
			}
			if token != "" {
				vs, err := opts.Tokens.Verify(token, now())
				if err != nil {
					WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
					return
				}
				u, err := opts.Users.FindByID(r.Context(), vs.UserID)
				if err != nil {
					WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown user")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
				return
			}

			if opts.DevFallback {
				if email := strings.TrimSpace(r.Header.Get("X-User-Email")); email != "" {
					u, err := opts.Users.FindByEmail(r.Context(), email)
					if err != nil {
						WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown user")
						return
					}
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
					return
				}
			}

			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing token")
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Internal logs err and writes a generic 500.
func Internal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(r.Context(), msg, log.Error(err))
	WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
