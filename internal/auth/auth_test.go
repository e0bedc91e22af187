package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign("user-1", RoleRider, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := v.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != RoleRider {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a").Sign("user-1", RoleCustomer, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewVerifier("secret-b").Parse(token); err == nil {
		t.Fatal("expected parse failure with wrong secret")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign("user-1", RoleCustomer, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Parse(token); err == nil {
		t.Fatal("expected parse failure for expired token")
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("test-secret")
	var got Actor
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, _ := v.Sign("user-1", RoleCustomer, time.Minute)

	// bearer header
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got.ID != "user-1" || got.Role != RoleCustomer {
		t.Fatalf("actor = %+v", got)
	}

	// token query parameter (websocket upgrades)
	req = httptest.NewRequest("GET", "/?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("query token status = %d, want 204", rec.Code)
	}

	// missing and garbage tokens
	for _, header := range []string{"", "Bearer garbage", "Basic abc"} {
		req = httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}
