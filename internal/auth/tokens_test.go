package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/credstore"
	"github.com/costbridge/costbridge/internal/idp"
	"github.com/costbridge/costbridge/internal/store"
)

// fakeExchanger records grant calls and returns canned tokens.
type fakeExchanger struct {
	userGrants     int
	refreshGrants  int
	passwordGrants int
	lastUsername   string
	lastPassword   string
	token          idp.Token
	err            error
}

func (f *fakeExchanger) UserTokenGrant(ctx context.Context, authorization string) (idp.Token, error) {
	f.userGrants++
	if f.err != nil {
		return idp.Token{}, f.err
	}
	return idp.Token{AccessToken: "intermediate", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
}

func (f *fakeExchanger) RefreshTokenGrant(ctx context.Context, refreshToken string) (idp.Token, error) {
	f.refreshGrants++
	if f.err != nil {
		return idp.Token{}, f.err
	}
	return f.token, nil
}

func (f *fakeExchanger) PasswordGrant(ctx context.Context, username, password string) (idp.Token, error) {
	f.passwordGrants++
	f.lastUsername = username
	f.lastPassword = password
	if f.err != nil {
		return idp.Token{}, f.err
	}
	return f.token, nil
}

func newTestService(t *testing.T, exchanger *fakeExchanger) (*Service, *CredentialResolver) {
	t.Helper()
	resolver := NewCredentialResolver(store.NewInMemoryStore(), credstore.NewInMemoryStore())
	s := NewService(exchanger, resolver)
	return s, resolver
}

func TestIsValidExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := strings.Repeat("t", MinTokenLength+1)

	// Strictly more than the grace period of remaining life is required.
	cases := []struct {
		name      string
		remaining time.Duration
		want      bool
	}{
		{"well beyond grace", time.Hour, true},
		{"one second past grace", TokenGracePeriod + time.Second, true},
		{"exactly the grace period", TokenGracePeriod, false},
		{"one second short of grace", TokenGracePeriod - time.Second, false},
		{"already expired", -time.Minute, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			entry := &CachedToken{Token: token, ExpiresAt: now.Add(c.remaining)}
			if got := isValid(entry, now); got != c.want {
				t.Errorf("isValid(remaining=%v) = %v, want %v", c.remaining, got, c.want)
			}
		})
	}
}

func TestIsValidTokenLength(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	if isValid(nil, now) {
		t.Error("nil entry must be invalid")
	}
	short := &CachedToken{Token: strings.Repeat("t", MinTokenLength), ExpiresAt: expires}
	if isValid(short, now) {
		t.Errorf("a %d-char token must be invalid", MinTokenLength)
	}
	long := &CachedToken{Token: strings.Repeat("t", MinTokenLength+1), ExpiresAt: expires}
	if !isValid(long, now) {
		t.Errorf("a %d-char token must be valid", MinTokenLength+1)
	}
}

func TestApplicationUserTokenRequiresUserID(t *testing.T) {
	s, _ := newTestService(t, &fakeExchanger{})
	_, err := s.ApplicationUserToken(context.Background(), "", "Bearer abc")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("kind = %s, want validation", apperr.KindOf(err))
	}
}

func TestApplicationUserTokenTwoStepExchangeAndCache(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "fresh-user-token", ExpiresIn: 3600}}
	s, _ := newTestService(t, ex)

	tok, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "fresh-user-token" {
		t.Errorf("token = %q", tok)
	}
	if ex.userGrants != 1 || ex.refreshGrants != 1 {
		t.Errorf("exchange calls = %d user, %d refresh; want 1, 1", ex.userGrants, ex.refreshGrants)
	}

	// Second call within the validity window hits the cache.
	if _, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.userGrants != 1 || ex.refreshGrants != 1 {
		t.Error("cached token must not trigger another exchange")
	}

	// A different user gets its own entry.
	if _, err := s.ApplicationUserToken(context.Background(), "bob", "Bearer xyz"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.userGrants != 2 {
		t.Errorf("user grants = %d, want 2", ex.userGrants)
	}
}

func TestApplicationUserTokenRefreshesNearExpiry(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "fresh-user-token", ExpiresIn: 3600}}
	s, _ := newTestService(t, ex)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	if _, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Still valid with more than the grace period remaining.
	current = base.Add(3600*time.Second - TokenGracePeriod - time.Second)
	if _, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.userGrants != 1 {
		t.Error("token with remaining life beyond the grace period must be reused")
	}

	// Inside the grace window the cached token counts as stale.
	current = base.Add(3600*time.Second - TokenGracePeriod + time.Second)
	if _, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.userGrants != 2 {
		t.Error("token inside the grace window must be refreshed")
	}
}

func TestApplicationUserTokenFailureKeepsOldEntry(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "fresh-user-token", ExpiresIn: 3600}}
	s, _ := newTestService(t, ex)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	if _, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = base.Add(2 * time.Hour)
	ex.err = apperr.New(apperr.KindSessionExpired, "credential rejected")
	_, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc")
	if apperr.KindOf(err) != apperr.KindSessionExpired {
		t.Errorf("kind = %s, want session expired", apperr.KindOf(err))
	}

	// Once the provider accepts again a fresh token is obtained; the failure
	// did not corrupt the cache entry.
	ex.err = nil
	tok, err := s.ApplicationUserToken(context.Background(), "alice", "Bearer abc")
	if err != nil || tok != "fresh-user-token" {
		t.Errorf("token = %q, %v", tok, err)
	}
}

func TestTechnicalUserTokenUnconfiguredIsSilent(t *testing.T) {
	ex := &fakeExchanger{}
	s, _ := newTestService(t, ex)

	tok, err := s.TechnicalUserToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" {
		t.Errorf("token = %q, want empty", tok)
	}
	if ex.passwordGrants != 0 {
		t.Error("no grant may be attempted without a configured user")
	}
}

func TestTechnicalUserTokenMissingSecretIsSilent(t *testing.T) {
	ex := &fakeExchanger{}
	s, resolver := newTestService(t, ex)
	// Name configured, then the secret removed out of band.
	if err := resolver.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := resolver.creds.Delete("svc_costing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok, err := s.TechnicalUserToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" || ex.passwordGrants != 0 {
		t.Errorf("missing secret must be a silent no-op, got %q, %d grants", tok, ex.passwordGrants)
	}
}

func TestTechnicalUserTokenPasswordGrantAndCache(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "technical-token", ExpiresIn: 3600}}
	s, resolver := newTestService(t, ex)
	if err := resolver.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tok, err := s.TechnicalUserToken(context.Background())
	if err != nil || tok != "technical-token" {
		t.Fatalf("token = %q, %v", tok, err)
	}
	if ex.lastUsername != "svc_costing" || ex.lastPassword != "s3cret" {
		t.Errorf("grant used %q/%q", ex.lastUsername, ex.lastPassword)
	}

	if _, err := s.TechnicalUserToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.passwordGrants != 1 {
		t.Errorf("password grants = %d, want 1 (cached)", ex.passwordGrants)
	}
}

func TestTechnicalUserTokenNameChangeInvalidatesCache(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "technical-token", ExpiresIn: 3600}}
	s, resolver := newTestService(t, ex)
	if err := resolver.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.TechnicalUserToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := resolver.Configure("svc_reporting", "0th3r"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.TechnicalUserToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.passwordGrants != 2 {
		t.Errorf("password grants = %d, want 2 (cache invalidated by name change)", ex.passwordGrants)
	}
	if ex.lastUsername != "svc_reporting" {
		t.Errorf("grant user = %q, want the new name", ex.lastUsername)
	}
}

func TestTechnicalUserTokenClearedConfigurationStopsReuse(t *testing.T) {
	ex := &fakeExchanger{token: idp.Token{AccessToken: "technical-token", ExpiresIn: 3600}}
	s, resolver := newTestService(t, ex)
	if err := resolver.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok, err := s.TechnicalUserToken(context.Background()); err != nil || tok == "" {
		t.Fatalf("setup grant failed: %q, %v", tok, err)
	}

	// Removing the configuration mid-run must not hand out the cached token.
	if err := resolver.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tok, err := s.TechnicalUserToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" {
		t.Errorf("cleared configuration must yield no token, got %q", tok)
	}
	if ex.passwordGrants != 1 {
		t.Errorf("password grants = %d, want 1 (no retry without a user)", ex.passwordGrants)
	}
}
