package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orator-go/internal/auth"
	"orator-go/internal/config"
	"orator-go/internal/docstore"
	"orator-go/internal/events"
	"orator-go/internal/graph"
	"orator-go/internal/models"
)

var (
	ErrUserAlreadyExists  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
)

// AccountRef locates a credential document; accounts are keyed by username.
func AccountRef(username string) docstore.Ref {
	return docstore.Ref{Collection: events.CollectionAccounts, ID: username}
}

// AuthService handles registration, login and logout.
type AuthService interface {
	Register(ctx context.Context, username, name, email, password string) (*models.UserProfile, error)
	Login(ctx context.Context, username, password string) (token string, profile *models.UserProfile, err error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

type authService struct {
	store     docstore.Store
	blacklist auth.TokenBlacklist
	cfg       config.Config
}

// NewAuthService creates an AuthService on top of the document store.
func NewAuthService(store docstore.Store, blacklist auth.TokenBlacklist, cfg config.Config) AuthService {
	return &authService{store: store, blacklist: blacklist, cfg: cfg}
}

// Register creates the credential document and the user's profile in one
// transaction. The account set fails with a conflict when the username is
// already taken, which keeps registration race-free.
func (s *authService) Register(ctx context.Context, username, name, email, password string) (*models.UserProfile, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	uid := uuid.New().String()
	account := &models.Account{
		UID:          uid,
		Username:     username,
		PasswordHash: hashedPassword,
		Email:        email,
		CreatedAt:    time.Now().UTC(),
	}
	profile := models.NewUserProfile(uid, name)

	err = s.store.RunTransaction(ctx, func(tx docstore.Txn) error {
		var existing models.Account
		err := tx.Get(AccountRef(username), &existing)
		if err == nil {
			return ErrUserAlreadyExists
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("failed to check username: %w", err)
		}
		if err := tx.Set(AccountRef(username), account); err != nil {
			return err
		}
		return tx.Set(graph.ProfileRef(uid), profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Login verifies the credentials and issues a JWT for the account's UID.
func (s *authService) Login(ctx context.Context, username, password string) (string, *models.UserProfile, error) {
	var account models.Account
	if err := s.store.Get(ctx, AccountRef(username), &account); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", nil, ErrUserNotFound
		}
		return "", nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if !auth.CheckPasswordHash(password, account.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	var profile models.UserProfile
	if err := s.store.Get(ctx, graph.ProfileRef(account.UID), &profile); err != nil {
		return "", nil, fmt.Errorf("failed to load profile for %s: %w", account.UID, err)
	}

	token, err := auth.GenerateToken(account.UID, account.Username, s.cfg.Auth)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, &profile, nil
}

// Logout revokes the presented token by blacklisting its JTI until the
// token would have expired anyway.
func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return fmt.Errorf("token lacks the claims required for revocation")
	}
	if err := s.blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}
