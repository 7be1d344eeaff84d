package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/api"
	"fieldservice/internal/user"
	"fieldservice/pkg/authtoken"
)

type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*user.User, error)
}

type Handlers struct {
	Users  UserFinder
	Tokens authtoken.Issuer
	Logger *slog.Logger
	Now    func() time.Time
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      *user.User `json:"user"`
}

func (h Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	fields := api.FieldErrors{}
	if email == "" {
		fields.Add("email", "email is required")
	}
	if req.Password == "" {
		fields.Add("password", "password is required")
	}
	if !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	u, err := h.Users.FindByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		api.Internal(w, r, h.Logger, "find user failed", err)
		return
	}
	// Unknown e-mail and wrong password answer the same.
	if u == nil || !u.CheckPassword(req.Password) {
		api.WriteError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
		return
	}

	token, exp, err := h.Tokens.Sign(u.ID, u.Email, string(u.Role), h.now())
	if err != nil {
		api.Internal(w, r, h.Logger, "sign token failed", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, User: u})
}

func (h Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u := api.UserFromContext(r.Context())
	if u == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	api.WriteJSON(w, http.StatusOK, u)
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}
