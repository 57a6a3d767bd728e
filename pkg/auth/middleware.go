package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mahaj/dupahar-support/pkg/model"
)

type contextKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFrom returns the actor Middleware stored in ctx.
func ActorFrom(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(model.Actor)
	return a, ok
}

// Middleware rejects requests without a valid bearer token and puts the
// authenticated actor into the request context.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			unauthorized(w, "authorization header required")
			return
		}
		actor, err := t.Verify(tokenString)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized", "error": msg})
}

type LoginRequest struct {
	UserID   string     `json:"user_id"`
	TenantID string     `json:"tenant_id"`
	Role     model.Role `json:"role"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues a token for whatever identity the caller asks for.
// It exists for local development only and must not be mounted otherwise.
func (t *Tokens) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = model.RoleParticipant
	}
	token, err := t.Generate(model.Actor{UserID: req.UserID, TenantID: req.TenantID, Role: req.Role})
	if err != nil {
		http.Error(w, "user_id and a valid role are required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}
