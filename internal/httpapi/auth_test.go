package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"lotledger/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func seedStub() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Location:  "HQ",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
			"pr.denver": {
				Username:  "pr.denver",
				Password:  "denver123",
				Role:      domain.RolePR,
				Location:  "Denver",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := seedStub()

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	for _, user := range users {
		if user.Username != "admin" {
			continue
		}
		if user.Password == "admin123" {
			t.Fatalf("expected password to be upgraded from plain-text")
		}
		if !strings.HasPrefix(user.Password, "$2") {
			t.Fatalf("expected bcrypt password hash, got %s", user.Password)
		}
	}
}

func TestTokenCarriesRoleAndLocation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, seedStub())

	resp, err := manager.Login(domain.LoginRequest{
		Username: "pr.denver",
		Password: "denver123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RolePR || resp.Location != "Denver" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "pr.denver" || actor.Role != domain.RolePR || actor.Location != "Denver" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, seedStub())
	verifier := NewAuthManager("secret-b", time.Hour, seedStub())

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := seedStub()
	store.users["admin"] = domain.UserAccount{
		Username:  "admin",
		Password:  "admin123",
		Role:      domain.RoleAdmin,
		Location:  "HQ",
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"}); err == nil {
		t.Fatal("expected inactive account login to fail")
	}
}
