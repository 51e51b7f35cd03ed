package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func newTestHandler(secret []byte, seen *string) http.Handler {
	mw := NewMiddleware(secret, NewDefaultPolicy([]string{"/healthz"}, nil), zerolog.Nop())
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = ActorFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	handler := newTestHandler([]byte("test-secret"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/charges", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptPath(t *testing.T) {
	handler := newTestHandler([]byte("test-secret"), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenConfirmPayment(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "Vera", "viewer", time.Hour)
	handler := newTestHandler(secret, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/charges/c1/installments/1/confirm-payment", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorCannotDeleteVendorAccount(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "Otto", "operator", time.Hour)
	handler := newTestHandler(secret, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/vendor-accounts/acc-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ActorFromNameClaim(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "Oliveira", "operator", time.Hour)
	var actor string
	handler := newTestHandler(secret, &actor)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/charges/c1/installments/1/confirm-payment", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if actor != "Oliveira" {
		t.Fatalf("expected actor from name claim, got %q", actor)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "Vera", "admin", -time.Minute)
	handler := newTestHandler(secret, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/charges", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestActorFromContext_Unknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ActorFromContext(req.Context()); got != UnknownActor {
		t.Fatalf("expected %q, got %q", UnknownActor, got)
	}
}

func mustToken(t *testing.T, secret []byte, name, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
