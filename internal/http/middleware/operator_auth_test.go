package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedOperatorToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOperatorJWTRejects(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
	}{
		{name: "auth disabled", secret: "", header: "Bearer x"},
		{name: "missing header", secret: "secret"},
		{name: "wrong scheme", secret: "secret", header: "Basic abc"},
		{name: "bad signature", secret: "secret", header: "Bearer " + signedOperatorToken(t, "wrong")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/chat:1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			OperatorJWT(tc.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not run")
			})).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestOperatorJWTValidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/chat:1", nil)
	req.Header.Set("Authorization", "Bearer "+signedOperatorToken(t, "secret"))
	rec := httptest.NewRecorder()

	var subject string
	OperatorJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if subject != "operator-7" {
		t.Fatalf("expected operator subject, got %q", subject)
	}
}
