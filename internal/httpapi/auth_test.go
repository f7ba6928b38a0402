package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"kasaba/backend/internal/domain"
	"kasaba/backend/internal/store/memory"
)

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	repo := memory.New()
	if err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "kasir1",
		Password:  "plain-secret",
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	auth := NewAuthManager("test-secret", time.Hour, repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "kasir1", Password: "plain-secret"})
	if err != nil {
		t.Fatalf("login with legacy password: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, user := range users {
		if user.Username == "kasir1" && !isPasswordHash(user.Password) {
			t.Fatalf("expected stored password to be upgraded to a hash, got %q", user.Password)
		}
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("test-secret", time.Hour, repo)

	cashier, err := auth.CreateCashier(domain.CashierCreateRequest{
		Username: "kasir2",
		Password: "secret123",
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if cashier.Role != "cashier" || !cashier.Active {
		t.Fatalf("unexpected cashier: %+v", cashier)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	found := false
	for _, user := range users {
		if user.Username == "kasir2" {
			found = true
			if strings.Contains(user.Password, "secret123") || !isPasswordHash(user.Password) {
				t.Fatalf("password stored in the clear: %q", user.Password)
			}
		}
	}
	if !found {
		t.Fatalf("cashier not persisted")
	}
}

func TestParseTokenRejectsTamperedToken(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, nil)

	token, err := auth.sign("admin", "admin", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := auth.ParseToken(token + "x"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}

	other := NewAuthManager("different-secret", time.Hour, nil)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, nil)

	token, err := auth.sign("admin", "admin", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
