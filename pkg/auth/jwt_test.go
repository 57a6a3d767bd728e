package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/dupahar-support/pkg/model"
)

var manager = model.Actor{UserID: "m1", TenantID: "t1", Role: model.RoleManagementTeam}

func newTokens(t *testing.T) *Tokens {
	t.Helper()
	tk, err := NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestGenerateVerify(t *testing.T) {
	tk := newTokens(t)
	token, err := tk.Generate(manager)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tk.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if got != manager {
		t.Fatalf("Verify = %+v", got)
	}
}

func TestVerifyRejects(t *testing.T) {
	tk := newTokens(t)
	good, _ := tk.Generate(manager)

	other, _ := NewTokens("other-secret", time.Hour)
	foreign, _ := other.Generate(manager)

	expired := newTokens(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := expired.Generate(manager)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "m1", Role: model.RoleSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	badRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "m1", Role: "OVERLORD",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}).
		SignedString([]byte("test-secret"))

	for name, token := range map[string]string{
		"tampered":     good[:len(good)-2] + "xx",
		"other secret": foreign,
		"expired":      stale,
		"alg none":     none,
		"unknown role": badRole,
		"garbage":      "abc.def",
	} {
		if _, err := tk.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestGenerateRejectsIncompleteActor(t *testing.T) {
	tk := newTokens(t)
	if _, err := tk.Generate(model.Actor{Role: model.RoleParticipant}); err == nil {
		t.Error("token issued without user id")
	}
	if _, err := tk.Generate(model.Actor{UserID: "u1", Role: "GUEST"}); err == nil {
		t.Error("token issued for unknown role")
	}
	if _, err := NewTokens("", time.Hour); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestMiddleware(t *testing.T) {
	tk := newTokens(t)
	var seen model.Actor
	h := tk.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/channels", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}

	token, _ := tk.Generate(manager)
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != manager {
		t.Fatalf("status %d, actor %+v", rec.Code, seen)
	}
}

func TestLoginHandler(t *testing.T) {
	tk := newTokens(t)
	rec := httptest.NewRecorder()
	tk.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"user_id":"u1","tenant_id":"t1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp LoginResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	actor, err := tk.Verify(resp.Token)
	if err != nil {
		t.Fatal(err)
	}
	if actor.Role != model.RoleParticipant || actor.TenantID != "t1" {
		t.Fatalf("actor = %+v", actor)
	}

	rec = httptest.NewRecorder()
	tk.LoginHandler(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"role":"SUPER_ADMIN"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("login without user id: status %d", rec.Code)
	}
}
