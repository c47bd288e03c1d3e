package auth

import (
	"testing"

	"github.com/costbridge/costbridge/internal/credstore"
	"github.com/costbridge/costbridge/internal/store"
)

func newTestResolver(t *testing.T) (*CredentialResolver, credstore.Store) {
	t.Helper()
	creds := credstore.NewInMemoryStore()
	return NewCredentialResolver(store.NewInMemoryStore(), creds), creds
}

func TestTechnicalUserNameUnconfigured(t *testing.T) {
	r, _ := newTestResolver(t)
	name, ok, err := r.TechnicalUserName()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || name != "" {
		t.Errorf("got %q, %v; want unconfigured", name, ok)
	}
}

func TestConfigureAndRetrieve(t *testing.T) {
	r, _ := newTestResolver(t)
	if err := r.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	name, ok, err := r.TechnicalUserName()
	if err != nil || !ok || name != "svc_costing" {
		t.Errorf("name = %q, %v, %v", name, ok, err)
	}
	secret, ok, err := r.TechnicalUserSecret("svc_costing")
	if err != nil || !ok || secret != "s3cret" {
		t.Errorf("secret = %q, %v, %v", secret, ok, err)
	}
}

func TestConfigureReplacementRemovesOldSecret(t *testing.T) {
	r, creds := newTestResolver(t)
	if err := r.Configure("svc_old", "old-secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Configure("svc_new", "new-secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := creds.Retrieve("svc_old"); ok {
		t.Error("replaced user's secret must be deleted")
	}
	name, ok, _ := r.TechnicalUserName()
	if !ok || name != "svc_new" {
		t.Errorf("name = %q, %v; want the new user", name, ok)
	}
}

func TestSecretMissingIsNotAnError(t *testing.T) {
	r, _ := newTestResolver(t)
	secret, ok, err := r.TechnicalUserSecret("nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || secret != "" {
		t.Errorf("absent secret = %q, %v; want silent miss", secret, ok)
	}
}

func TestBlankSecretTreatedAsMissing(t *testing.T) {
	r, creds := newTestResolver(t)
	creds.Insert("svc_costing", "   ")
	_, ok, err := r.TechnicalUserSecret("svc_costing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("whitespace-only secret must be treated as missing")
	}
}

func TestClearRemovesNameAndSecret(t *testing.T) {
	r, creds := newTestResolver(t)
	if err := r.Configure("svc_costing", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := r.TechnicalUserName(); ok {
		t.Error("name must be gone after clear")
	}
	if _, ok, _ := creds.Retrieve("svc_costing"); ok {
		t.Error("secret must be gone after clear")
	}
	// Clearing an already empty configuration is fine.
	if err := r.Clear(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
