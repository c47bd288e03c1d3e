// Package auth maintains the expiring access tokens for the two identities
// costbridge speaks with: the interactive application user and the singleton
// technical user.
//
// This file implements the credential resolver: the technical-user name lives
// in the relational settings table, its secret only in the external credential
// store. Changing either invalidates the cached technical-user token on the
// next access.
package auth

import (
	"log/slog"
	"strings"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/credstore"
	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/store"
)

// CredentialResolver looks up the configured technical user and its secret.
type CredentialResolver struct {
	store store.Store
	creds credstore.Store
}

// NewCredentialResolver creates a resolver over the settings table and the
// external credential store.
func NewCredentialResolver(st store.Store, creds credstore.Store) *CredentialResolver {
	return &CredentialResolver{store: st, creds: creds}
}

// TechnicalUserName returns the currently configured technical-user name,
// with ok=false when none is configured.
func (r *CredentialResolver) TechnicalUserName() (string, bool, error) {
	name, ok, err := r.store.GetSetting(models.SettingTechnicalUser)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindUnexpected, "reading technical user setting", err)
	}
	return name, ok && name != "", nil
}

// TechnicalUserSecret retrieves the secret for the given technical user.
// A missing or blank secret is reported as ok=false, never as an error:
// the caller is expected to be polled again on the next minute tick.
func (r *CredentialResolver) TechnicalUserSecret(name string) (string, bool, error) {
	secret, ok, err := r.creds.Retrieve(name)
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindUnexpected, "retrieving technical user secret", err)
	}
	if !ok || strings.TrimSpace(secret) == "" {
		return "", false, nil
	}
	return secret, true, nil
}

// Configure persists a new technical user: the name in the settings table,
// the secret in the credential store. Any previously configured user's secret
// is removed first.
func (r *CredentialResolver) Configure(name, secret string) error {
	previous, ok, err := r.TechnicalUserName()
	if err != nil {
		return err
	}
	if ok && previous != name {
		if err := r.creds.Delete(previous); err != nil {
			return apperr.Wrap(apperr.KindUnexpected, "removing previous technical user secret", err)
		}
	}
	if err := r.creds.Insert(name, secret); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "storing technical user secret", err)
	}
	if err := r.store.SetSetting(models.SettingTechnicalUser, name); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "storing technical user setting", err)
	}
	slog.Info("CredentialResolver.Configure: technical user configured", "name", name)
	return nil
}

// Clear removes the technical user configuration and its secret.
func (r *CredentialResolver) Clear() error {
	name, ok, err := r.TechnicalUserName()
	if err != nil {
		return err
	}
	if ok {
		if err := r.creds.Delete(name); err != nil {
			return apperr.Wrap(apperr.KindUnexpected, "removing technical user secret", err)
		}
	}
	if err := r.store.DeleteSetting(models.SettingTechnicalUser); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "removing technical user setting", err)
	}
	slog.Info("CredentialResolver.Clear: technical user removed", "had_user", ok)
	return nil
}
