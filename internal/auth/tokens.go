package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/idp"
)

// Token validity constants.
const (
	// TokenGracePeriod is subtracted from the expiry instant: a token within
	// this margin of expiring is treated as already stale.
	TokenGracePeriod = 120 * time.Second
	// MinTokenLength is a sanity floor; anything at or below it is garbage.
	MinTokenLength = 10
)

// CachedToken holds an access token and its expiry instant.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// isValid reports whether a cached entry is still usable at instant now.
func isValid(entry *CachedToken, now time.Time) bool {
	return entry != nil &&
		now.Add(TokenGracePeriod).Before(entry.ExpiresAt) &&
		len(entry.Token) > MinTokenLength
}

// TokenExchanger is the subset of the identity provider client the token
// service needs. Satisfied by *idp.Client.
type TokenExchanger interface {
	UserTokenGrant(ctx context.Context, authorization string) (idp.Token, error)
	RefreshTokenGrant(ctx context.Context, refreshToken string) (idp.Token, error)
	PasswordGrant(ctx context.Context, username, password string) (idp.Token, error)
}

// Service is the process-wide token cache: one entry per application user and
// a single slot for the technical user. It is safe under concurrent
// read/refresh; two concurrent refreshes of the same identity are wasteful
// but not incorrect (last writer wins, both tokens are fresh).
type Service struct {
	mu       sync.RWMutex
	idp      TokenExchanger
	resolver *CredentialResolver

	userTokens map[string]*CachedToken
	technical  *CachedToken
	// technicalUser is the name the cached technical token was issued for;
	// a mismatch with the resolved name invalidates the slot.
	technicalUser string

	now func() time.Time
}

// NewService creates the token cache service. One instance lives for the
// whole process.
func NewService(exchanger TokenExchanger, resolver *CredentialResolver) *Service {
	return &Service{
		idp:        exchanger,
		resolver:   resolver,
		userTokens: make(map[string]*CachedToken),
		now:        time.Now,
	}
}

// ApplicationUserToken returns a usable access token for the given
// application user, refreshing it just-in-time through the two-step
// user_token/refresh_token exchange. On failure the previous cache entry, if
// any, is left untouched.
func (s *Service) ApplicationUserToken(ctx context.Context, userID, authorization string) (string, error) {
	if userID == "" {
		return "", apperr.New(apperr.KindValidation, "application user id is required")
	}

	s.mu.RLock()
	entry := s.userTokens[userID]
	s.mu.RUnlock()
	if isValid(entry, s.now()) {
		return entry.Token, nil
	}

	slog.Debug("Service.ApplicationUserToken: refreshing token", "userID", userID)
	userGrant, err := s.idp.UserTokenGrant(ctx, authorization)
	if err != nil {
		slog.Error("Service.ApplicationUserToken: user token grant failed", "error", err, "userID", userID)
		return "", err
	}
	refreshed, err := s.idp.RefreshTokenGrant(ctx, userGrant.RefreshToken)
	if err != nil {
		slog.Error("Service.ApplicationUserToken: refresh token grant failed", "error", err, "userID", userID)
		return "", err
	}

	fresh := &CachedToken{
		Token:     refreshed.AccessToken,
		ExpiresAt: s.now().Add(time.Duration(refreshed.ExpiresIn) * time.Second),
	}
	s.mu.Lock()
	s.userTokens[userID] = fresh
	s.mu.Unlock()
	slog.Info("Service.ApplicationUserToken: token refreshed", "userID", userID, "expiresAt", fresh.ExpiresAt)
	return fresh.Token, nil
}

// TechnicalUserToken returns a usable access token for the singleton
// technical user, or "" when none can be produced right now. An unconfigured
// user or an unretrievable secret is a silent no-op, not an error: the minute
// tick polls this method again. Changing the technical user invalidates the
// cached token because the issuing name no longer matches.
func (s *Service) TechnicalUserToken(ctx context.Context) (string, error) {
	name, ok, err := s.resolver.TechnicalUserName()
	if err != nil {
		return "", err
	}
	if !ok {
		slog.Debug("Service.TechnicalUserToken: no technical user configured")
		return "", nil
	}

	s.mu.RLock()
	entry, issuedFor := s.technical, s.technicalUser
	s.mu.RUnlock()
	if issuedFor == name && isValid(entry, s.now()) {
		return entry.Token, nil
	}

	secret, ok, err := s.resolver.TechnicalUserSecret(name)
	if err != nil {
		return "", err
	}
	if !ok {
		slog.Warn("Service.TechnicalUserToken: secret not retrievable, skipping refresh", "name", name)
		return "", nil
	}

	tok, err := s.idp.PasswordGrant(ctx, name, secret)
	if err != nil {
		slog.Error("Service.TechnicalUserToken: password grant failed", "error", err, "name", name)
		return "", err
	}

	fresh := &CachedToken{
		Token:     tok.AccessToken,
		ExpiresAt: s.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	s.mu.Lock()
	s.technical = fresh
	s.technicalUser = name
	s.mu.Unlock()
	slog.Info("Service.TechnicalUserToken: token refreshed", "name", name, "expiresAt", fresh.ExpiresAt)
	return fresh.Token, nil
}

// Resolver exposes the credential resolver for components that only need the
// configuration, not tokens.
func (s *Service) Resolver() *CredentialResolver {
	return s.resolver
}
