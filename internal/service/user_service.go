package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cycleport/internal/domain"
	"cycleport/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 10

	// ResetTokenExpiration bounds the forgot-password window
	ResetTokenExpiration = 15 * time.Minute
)

// UserService defines the interface for account business logic
type UserService interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (token string, user *domain.User, err error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*domain.User, error)
	RequestPasswordReset(ctx context.Context, email string) (*domain.PasswordResetToken, error)
	ResetPassword(ctx context.Context, token, password string) error
	ListUsers(ctx context.Context) ([]*domain.User, error)
	ToggleUserStatus(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// RegisterInput is a sign-up request
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	Avatar   string
}

// ProfileUpdate changes the caller's own profile. Empty fields are kept.
type ProfileUpdate struct {
	Name     string
	Email    string
	Password string
	Avatar   string
}

// Claims represents the JWT claims
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

type userService struct {
	userRepo      repository.UserRepository
	resetRepo     repository.PasswordResetRepository
	jwtSecret     string
	tokenLifetime time.Duration
	resetToken    func() string
	now           func() time.Time
}

// NewUserService creates a new instance of UserService
func NewUserService(
	userRepo repository.UserRepository,
	resetRepo repository.PasswordResetRepository,
	jwtSecret string,
	tokenLifetime time.Duration,
) UserService {
	generate, err := nanoid.Standard(32)
	if err != nil {
		panic(fmt.Sprintf("reset token generator: %v", err))
	}

	return &userService{
		userRepo:      userRepo,
		resetRepo:     resetRepo,
		jwtSecret:     jwtSecret,
		tokenLifetime: tokenLifetime,
		resetToken:    generate,
		now:           time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a customer account. Admin accounts cannot be self-registered.
func (s *userService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if input.Role == domain.RoleAdmin {
		return nil, ErrAdminRegistration
	}

	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return nil, invalidInput("all fields are required")
	}

	hashedPassword, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	avatar := input.Avatar
	if avatar == "" {
		avatar = domain.DefaultAvatar
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hashedPassword,
		Role:         domain.RoleUser,
		Avatar:       avatar,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Login authenticates a user and returns a signed access token
func (s *userService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := s.verifyPassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return "", nil, ErrAccountInactive
	}

	token, err := s.generateAccessToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return token, user, nil
}

// GetProfile retrieves the caller's account
func (s *userService) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies the non-empty fields of update
func (s *userService) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if name := strings.TrimSpace(update.Name); name != "" {
		user.Name = name
	}
	if email := normalizeEmail(update.Email); email != "" {
		user.Email = email
	}
	if update.Avatar != "" {
		user.Avatar = update.Avatar
	}
	if update.Password != "" {
		hashedPassword, err := s.hashPassword(update.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hashedPassword
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

// RequestPasswordReset issues a single-use reset token for a known email
func (s *userService) RequestPasswordReset(ctx context.Context, email string) (*domain.PasswordResetToken, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := s.now()
	token := &domain.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     s.resetToken(),
		ExpiresAt: now.Add(ResetTokenExpiration),
		CreatedAt: now,
	}

	if err := s.resetRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	return token, nil
}

// ResetPassword consumes a reset token and sets a new password
func (s *userService) ResetPassword(ctx context.Context, tokenString, password string) error {
	if password == "" {
		return invalidInput("password is required")
	}

	token, err := s.resetRepo.FindByToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) || errors.Is(err, repository.ErrResetTokenUsed) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to find reset token: %w", err)
	}

	if s.now().After(token.ExpiresAt) {
		return ErrInvalidResetToken
	}

	if err := s.resetRepo.MarkUsed(ctx, tokenString); err != nil {
		if errors.Is(err, repository.ErrResetTokenUsed) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("failed to consume reset token: %w", err)
	}

	user, err := s.userRepo.FindByID(ctx, token.UserID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}

	user.PasswordHash, err = s.hashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

// ListUsers returns every account
func (s *userService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// ToggleUserStatus activates or deactivates an account
func (s *userService) ToggleUserStatus(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.ToggleActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to toggle user status: %w", err)
	}
	return user, nil
}

// hashPassword hashes a password using bcrypt with cost factor 10
func (s *userService) hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// verifyPassword verifies a password against a bcrypt hash
func (s *userService) verifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// generateAccessToken generates a JWT with user ID and role claims
func (s *userService) generateAccessToken(user *domain.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}
