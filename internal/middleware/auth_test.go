package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func protected(t *testing.T) http.Handler {
	t.Helper()
	return Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserIDFromContext(r.Context())))
	}))
}

func TestAuthAcceptsValidToken(t *testing.T) {
	token, err := SignToken(testSecret, TokenClaims{
		Sub: "user-42",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "user-42" {
		t.Fatalf("user id on context = %q, want user-42", rec.Body.String())
	}
}

func TestAuthRejections(t *testing.T) {
	expired, _ := SignToken(testSecret, TokenClaims{Sub: "user-42", Exp: time.Now().Add(-time.Minute).Unix()})
	wrongSecret, _ := SignToken("other-secret", TokenClaims{Sub: "user-42"})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "malformed token", header: "Bearer nope"},
		{name: "wrong secret", header: "Bearer " + wrongSecret},
		{name: "expired", header: "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected(t).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	claims := TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix(), Issuer: "modelpixie", Audience: "api"}
	token, err := SignToken(testSecret, claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if *got != claims {
		t.Fatalf("claims = %+v, want %+v", *got, claims)
	}
}
