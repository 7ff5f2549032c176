package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/topoclimb/topoclimb/internal/shared"
)

// Role assigned to self-registered accounts.
const defaultRole = "climber"

// Service wraps authentication business rules.
type Service struct {
	repo          Repository
	registerRules *shared.RuleSet
	cost          int
}

// NewService constructs a new Service.
func NewService(repo Repository, v *shared.Validator) (*Service, error) {
	rules, err := v.Compile(map[string]string{
		"email":        "required|email|max:254",
		"display_name": "required|min:2|max:60",
		"password":     "required|min:8|max:72|confirmed",
	})
	if err != nil {
		return nil, err
	}
	return &Service{repo: repo, registerRules: rules, cost: bcrypt.DefaultCost}, nil
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Register validates a sign-up form and creates a climber account. A taken
// email is reported as a validation error on the email field.
func (s *Service) Register(ctx context.Context, data map[string]string) (*User, error) {
	if errs := s.registerRules.Validate(data); errs != nil {
		return nil, errs
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(data["password"]), s.cost)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.CreateUser(ctx, User{
		Email:        strings.ToLower(strings.TrimSpace(data["email"])),
		DisplayName:  strings.TrimSpace(data["display_name"]),
		PasswordHash: string(hash),
		Role:         defaultRole,
		IsActive:     true,
	})
	if errors.Is(err, shared.ErrDuplicate) {
		errs := shared.ValidationErrors{}
		errs.Add("email", "email is already registered")
		return nil, errs
	}
	return user, err
}

// UserRole returns the role of an active user.
func (s *Service) UserRole(ctx context.Context, userID int64) (string, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.EffectiveRole(), nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
