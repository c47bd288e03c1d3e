package idp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithTokenURL(srv.URL), WithClientCredentials("costbridge", "client-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewClientRequiresTokenURL(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error without a token URL")
	}
}

func TestPasswordGrant(t *testing.T) {
	var gotGrant, gotUser string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotGrant = r.FormValue("grant_type")
		gotUser = r.FormValue("username")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tech-token-abcdef","expires_in":3600}`))
	})

	tok, err := c.PasswordGrant(context.Background(), "svc_costing", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "tech-token-abcdef" || tok.ExpiresIn != 3600 {
		t.Errorf("unexpected token: %+v", tok)
	}
	if gotGrant != "password" || gotUser != "svc_costing" {
		t.Errorf("request carried grant=%q user=%q", gotGrant, gotUser)
	}
}

func TestUserTokenGrantForwardsAuthorization(t *testing.T) {
	var gotAuth, gotGrant string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotAuth = r.Header.Get("Authorization")
		gotGrant = r.FormValue("grant_type")
		w.Write([]byte(`{"access_token":"intermediate-token","refresh_token":"refresh-1","expires_in":600}`))
	})

	tok, err := c.UserTokenGrant(context.Background(), "Bearer caller-credential")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer caller-credential" {
		t.Errorf("authorization = %q, want the caller's credential", gotAuth)
	}
	if gotGrant != "user_token" {
		t.Errorf("grant = %q", gotGrant)
	}
	if tok.RefreshToken != "refresh-1" {
		t.Errorf("refresh token = %q", tok.RefreshToken)
	}
}

func TestRefreshTokenGrantUsesClientCredentials(t *testing.T) {
	var gotUser, gotPass string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`{"access_token":"user-access-token","expires_in":600}`))
	})

	if _, err := c.RefreshTokenGrant(context.Background(), "refresh-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "costbridge" || gotPass != "client-secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestExchangeRejectedCredential(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.PasswordGrant(context.Background(), "svc_costing", "wrong")
		if apperr.KindOf(err) != apperr.KindSessionExpired {
			t.Errorf("status %d: kind = %s, want session expired", status, apperr.KindOf(err))
		}
	}
}

func TestExchangeServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.PasswordGrant(context.Background(), "svc_costing", "s3cret")
	if apperr.KindOf(err) != apperr.KindUnexpected {
		t.Errorf("kind = %s, want unexpected", apperr.KindOf(err))
	}
}

func TestExchangeMissingAccessToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":600}`))
	})
	_, err := c.PasswordGrant(context.Background(), "svc_costing", "s3cret")
	if err == nil {
		t.Error("expected error for a response without access_token")
	}
}

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return raw
}

func TestExtractUserID(t *testing.T) {
	tok := signedTestToken(t, jwt.MapClaims{"user_name": "alice", "sub": "subject-1"})
	userID, err := ExtractUserID("Bearer " + tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "alice" {
		t.Errorf("user id = %q, want the user_name claim", userID)
	}

	tok = signedTestToken(t, jwt.MapClaims{"sub": "subject-1"})
	userID, err = ExtractUserID("Bearer " + tok)
	if err != nil || userID != "subject-1" {
		t.Errorf("user id = %q, %v; want subject fallback", userID, err)
	}
}

func TestExtractUserIDFailures(t *testing.T) {
	cases := []struct {
		name          string
		authorization string
	}{
		{"empty", ""},
		{"bare bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"no identity claim", "Bearer " + signedTestToken(t, jwt.MapClaims{"scope": "all"})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ExtractUserID(c.authorization)
			if apperr.KindOf(err) != apperr.KindSessionExpired {
				t.Errorf("kind = %s, want session expired", apperr.KindOf(err))
			}
		})
	}
}
