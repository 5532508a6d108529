package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"cycleport/internal/domain"
	"cycleport/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key"

func newTestUserService() (*userService, *mockUserRepository, *mockPasswordResetRepository) {
	userRepo := newMockUserRepository()
	resetRepo := newMockPasswordResetRepository()
	svc := NewUserService(userRepo, resetRepo, testSecret, 24*time.Hour).(*userService)
	return svc, userRepo, resetRepo
}

// bcrypt makes each case slow, so the hashing properties run fewer cases
func hashingParameters() *gopter.TestParameters {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	return params
}

func TestProperty_RegistrationCreatesHashedPasswords(t *testing.T) {
	properties := gopter.NewProperties(hashingParameters())

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(email string, password string, name string) bool {
			service, userRepo, _ := newTestUserService()
			ctx := context.Background()

			user, err := service.Register(ctx, RegisterInput{Name: name, Email: email, Password: password})
			if err != nil {
				t.Logf("FAIL: registration failed: %v", err)
				return false
			}

			if user.PasswordHash == password {
				t.Logf("FAIL: Password stored as plaintext for email %s", email)
				return false
			}

			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
				t.Logf("FAIL: Password hash doesn't match: %v", err)
				return false
			}

			cost, err := bcrypt.Cost([]byte(user.PasswordHash))
			if err != nil || cost != BcryptCost {
				t.Logf("FAIL: unexpected bcrypt cost %d", cost)
				return false
			}

			storedUser, err := userRepo.FindByEmail(ctx, email)
			if err != nil {
				t.Logf("FAIL: Could not find stored user: %v", err)
				return false
			}

			return storedUser.Role == domain.RoleUser && storedUser.IsActive && storedUser.Avatar == domain.DefaultAvatar
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_AdminRegistrationAlwaysRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("role admin is rejected whatever the other fields", prop.ForAll(
		func(email string, password string, name string) bool {
			service, userRepo, _ := newTestUserService()

			_, err := service.Register(context.Background(), RegisterInput{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     domain.RoleAdmin,
			})
			if !errors.Is(err, ErrAdminRegistration) {
				t.Logf("FAIL: expected ErrAdminRegistration, got %v", err)
				return false
			}
			return len(userRepo.users) == 0
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_JWTTokensContainRequiredClaims(t *testing.T) {
	properties := gopter.NewProperties(hashingParameters())

	properties.Property("access tokens contain user ID and role claims", prop.ForAll(
		func(email string, password string, name string, role string) bool {
			service, userRepo, _ := newTestUserService()
			ctx := context.Background()

			user, err := service.Register(ctx, RegisterInput{Name: name, Email: email, Password: password})
			if err != nil {
				return false
			}

			// Promote directly in the store; registration never grants admin
			user.Role = role
			userRepo.users[email] = user

			accessToken, loggedIn, err := service.Login(ctx, email, password)
			if err != nil {
				t.Logf("FAIL: Login failed: %v", err)
				return false
			}
			if loggedIn.ID != user.ID {
				return false
			}

			claims, err := parseClaims(accessToken, testSecret)
			if err != nil {
				t.Logf("FAIL: Token validation failed: %v", err)
				return false
			}

			if claims.UserID != user.ID || claims.Role != role {
				t.Logf("FAIL: claims mismatch: %+v", claims)
				return false
			}

			if claims.ExpiresAt == nil || claims.IssuedAt == nil {
				t.Logf("FAIL: Token missing time claims")
				return false
			}

			return claims.ExpiresAt.Sub(claims.IssuedAt.Time) == 24*time.Hour
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
		gen.OneConstOf(domain.RoleUser, domain.RoleAdmin),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRegister_Validation(t *testing.T) {
	service, _, _ := newTestUserService()
	ctx := context.Background()

	_, err := service.Register(ctx, RegisterInput{Name: "Asha", Email: "asha@example.com"})
	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)

	_, err = service.Register(ctx, RegisterInput{Name: "Asha", Email: "Asha@Example.com ", Password: "secret123"})
	require.NoError(t, err)

	_, err = service.Register(ctx, RegisterInput{Name: "Asha 2", Email: "asha@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, repository.ErrUserAlreadyExists)
}

func TestLogin_Failures(t *testing.T) {
	service, userRepo, _ := newTestUserService()
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterInput{Name: "Ravi", Email: "ravi@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, _, err = service.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = service.Login(ctx, "ravi@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	userRepo.users[user.Email].IsActive = false
	_, _, err = service.Login(ctx, "RAVI@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrAccountInactive)

	// A wrong password on an inactive account still reads as bad credentials
	_, _, err = service.Login(ctx, "ravi@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

// parseClaims verifies an access token the way AuthMiddleware does and
// decodes it into the claims the service signs
func parseClaims(token, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func TestLogin_TokenIsBoundToSecretAndClock(t *testing.T) {
	service, _, _ := newTestUserService()
	ctx := context.Background()

	_, err := service.Register(ctx, RegisterInput{Name: "Mei", Email: "mei@example.com", Password: "pedal-power"})
	require.NoError(t, err)
	token, _, err := service.Login(ctx, "mei@example.com", "pedal-power")
	require.NoError(t, err)

	_, err = parseClaims(token, testSecret)
	require.NoError(t, err)
	_, err = parseClaims(token, "other-secret")
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	service.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expired, _, err := service.Login(ctx, "mei@example.com", "pedal-power")
	require.NoError(t, err)
	_, err = parseClaims(expired, testSecret)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestUpdateProfile(t *testing.T) {
	service, _, _ := newTestUserService()
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterInput{Name: "Lena", Email: "lena@example.com", Password: "first-pass"})
	require.NoError(t, err)
	_, err = service.Register(ctx, RegisterInput{Name: "Taken", Email: "taken@example.com", Password: "first-pass"})
	require.NoError(t, err)

	updated, err := service.UpdateProfile(ctx, user.ID, ProfileUpdate{Name: "Lena K", Password: "second-pass"})
	require.NoError(t, err)
	assert.Equal(t, "Lena K", updated.Name)
	assert.Equal(t, "lena@example.com", updated.Email)

	_, _, err = service.Login(ctx, "lena@example.com", "second-pass")
	assert.NoError(t, err)

	_, err = service.UpdateProfile(ctx, user.ID, ProfileUpdate{Email: "taken@example.com"})
	assert.ErrorIs(t, err, repository.ErrUserAlreadyExists)
}

func TestPasswordReset_SingleUseAndExpiry(t *testing.T) {
	service, _, _ := newTestUserService()
	ctx := context.Background()

	_, err := service.Register(ctx, RegisterInput{Name: "Omar", Email: "omar@example.com", Password: "old-password"})
	require.NoError(t, err)

	_, err = service.RequestPasswordReset(ctx, "missing@example.com")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	token, err := service.RequestPasswordReset(ctx, "omar@example.com")
	require.NoError(t, err)
	assert.Len(t, token.Token, 32)
	assert.Equal(t, ResetTokenExpiration, token.ExpiresAt.Sub(token.CreatedAt))

	require.NoError(t, service.ResetPassword(ctx, token.Token, "new-password"))
	_, _, err = service.Login(ctx, "omar@example.com", "new-password")
	assert.NoError(t, err)

	assert.ErrorIs(t, service.ResetPassword(ctx, token.Token, "again"), ErrInvalidResetToken)
	assert.ErrorIs(t, service.ResetPassword(ctx, "unknown", "again"), ErrInvalidResetToken)

	late, err := service.RequestPasswordReset(ctx, "omar@example.com")
	require.NoError(t, err)
	service.now = func() time.Time { return time.Now().Add(ResetTokenExpiration + time.Minute) }
	assert.ErrorIs(t, service.ResetPassword(ctx, late.Token, "too-late"), ErrInvalidResetToken)
}

func TestToggleUserStatus(t *testing.T) {
	service, _, _ := newTestUserService()
	ctx := context.Background()

	user, err := service.Register(ctx, RegisterInput{Name: "Ana", Email: "ana@example.com", Password: "pass-word"})
	require.NoError(t, err)

	toggled, err := service.ToggleUserStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)

	toggled, err = service.ToggleUserStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)

	users, err := service.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
