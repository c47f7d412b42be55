package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orator-go/internal/auth"
	"orator-go/internal/config"
	"orator-go/internal/docstore"
	"orator-go/internal/models"
)

// memoryBlacklist is an in-process auth.TokenBlacklist for tests.
type memoryBlacklist struct {
	mu   sync.Mutex
	jtis map[string]time.Time
}

func newMemoryBlacklist() *memoryBlacklist {
	return &memoryBlacklist{jtis: map[string]time.Time{}}
}

func (b *memoryBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jtis[jti] = originalTokenExpTime
	return nil
}

func (b *memoryBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.jtis[jti]
	return ok, nil
}

func testAuthConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			JWTSecretKey: "test-secret",
			JWTExpiry:    time.Hour,
		},
	}
}

func newAuthFixture(t *testing.T) (AuthService, *docstore.MemoryStore, *memoryBlacklist) {
	t.Helper()
	store := docstore.NewMemoryStore(8)
	blacklist := newMemoryBlacklist()
	return NewAuthService(store, blacklist, testAuthConfig()), store, blacklist
}

func TestRegisterCreatesAccountAndProfile(t *testing.T) {
	svc, store, _ := newAuthFixture(t)
	ctx := context.Background()

	profile, err := svc.Register(ctx, "alice", "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.UID == "" || profile.Name != "Alice" {
		t.Errorf("profile wrong: %+v", profile)
	}

	var account models.Account
	if err := store.Get(ctx, AccountRef("alice"), &account); err != nil {
		t.Fatalf("account document missing: %v", err)
	}
	if account.UID != profile.UID || account.Email != "alice@example.com" {
		t.Errorf("account wrong: %+v", account)
	}
	if account.PasswordHash == "s3cret" || account.PasswordHash == "" {
		t.Error("password stored without hashing")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Alice", "a@example.com", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "Alice Two", "b@example.com", "other"); !errors.Is(err, ErrUserAlreadyExists) {
		t.Errorf("got %v, want ErrUserAlreadyExists", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, blacklist := newAuthFixture(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "Alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, profile, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if profile.UID != registered.UID {
		t.Errorf("login returned profile %s, want %s", profile.UID, registered.UID)
	}

	claims, err := auth.ValidateToken(ctx, token, "test-secret", blacklist)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID != registered.UID || claims.Username != "alice" {
		t.Errorf("claims wrong: %+v", claims)
	}
}

func TestLoginErrors(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Alice", "alice@example.com", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "s3cret"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown user: got %v, want ErrUserNotFound", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _, blacklist := newAuthFixture(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "Alice", "alice@example.com", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := auth.ValidateToken(ctx, token, "test-secret", blacklist)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if err := svc.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := auth.ValidateToken(ctx, token, "test-secret", blacklist); err == nil {
		t.Fatal("revoked token still validates")
	}
	revoked, err := blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil || !revoked {
		t.Errorf("jti not blacklisted: revoked=%v err=%v", revoked, err)
	}
}

func TestLogoutNeedsRevocableClaims(t *testing.T) {
	svc, _, _ := newAuthFixture(t)
	if err := svc.Logout(context.Background(), &auth.Claims{}); err == nil {
		t.Fatal("expected error for claims without jti and expiry")
	}
}
