package transport

import (
	"net/http"

	"cycleport/internal/domain"
	"cycleport/internal/middleware"
	"cycleport/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role"`
	Avatar   string `json:"avatar"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileRequest carries the fields a user may change on their own account
type UpdateProfileRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

// VerifyEmailRequest starts a password reset
type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes a password reset
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserProfile represents user profile data
type UserProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Avatar   string `json:"avatar"`
	IsActive bool   `json:"isActive"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    UserProfile `json:"user"`
}

type userEnvelope struct {
	Message string      `json:"message,omitempty"`
	User    UserProfile `json:"user"`
}

type usersEnvelope struct {
	Users []UserProfile `json:"users"`
}

func profileOf(user *domain.User) UserProfile {
	return UserProfile{
		ID:       user.ID.String(),
		Name:     user.Name,
		Email:    user.Email,
		Role:     user.Role,
		Avatar:   user.Avatar,
		IsActive: user.IsActive,
	}
}

// UserHandler handles HTTP requests for accounts and their administration
type UserHandler struct {
	userService service.UserService
	logger      *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(userService service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the auth and admin user routes
func (h *UserHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware, rateLimit func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(rateLimit)

		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)
		})
	})

	r.With(authMiddleware).Get("/api/users/profile", h.GetProfile)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware, adminMiddleware)
		r.Get("/users", h.ListUsers)
		r.Put("/user/{id}/status", h.ToggleUserStatus)
	})
}

// Register handles customer sign-up
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		// An admin sign-up is refused before anything else is looked at
		if req.Role == domain.RoleAdmin {
			respondWithServiceError(w, h.logger, service.ErrAdminRegistration, "Registration")
			return
		}
		h.logger.Debug("Registration validation failed", zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return
	}

	user, err := h.userService.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Avatar:   req.Avatar,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Registration")
		return
	}

	h.logger.Info("User registered successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusCreated, profileOf(user))
}

// Login handles user authentication
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Login validation failed", zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return
	}

	token, user, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debug("Login failed", zap.Error(err))
		respondWithServiceError(w, h.logger, err, "Login")
		return
	}

	h.logger.Info("User logged in successfully", zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, LoginResponse{
		Message: "Login successful",
		Token:   token,
		User:    profileOf(user),
	})
}

// GetProfile returns the caller's account
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}

	user, err := h.userService.GetProfile(r.Context(), caller.ID)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Get profile")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, userEnvelope{User: profileOf(user)})
}

// UpdateProfile edits the caller's account
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := actingUser(w, r)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), caller.ID, service.ProfileUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Avatar:   req.Avatar,
	})
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Update profile")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, userEnvelope{Message: "Profile updated", User: profileOf(user)})
}

// VerifyEmail issues a password reset token for a registered email
func (h *UserHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	token, err := h.userService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Password reset request")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Email verified, you can now reset your password",
		"token":     token.Token,
		"expiresAt": token.ExpiresAt,
	})
}

// ResetPassword consumes a reset token
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	if err := h.userService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondWithServiceError(w, h.logger, err, "Password reset")
		return
	}

	middleware.RespondWithMessage(w, http.StatusOK, "Password reset successful")
}

// ListUsers returns every account (admin)
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.ListUsers(r.Context())
	if err != nil {
		respondWithServiceError(w, h.logger, err, "List users")
		return
	}

	profiles := make([]UserProfile, len(users))
	for i, u := range users {
		profiles[i] = profileOf(u)
	}
	middleware.RespondWithJSON(w, http.StatusOK, usersEnvelope{Users: profiles})
}

// ToggleUserStatus activates or deactivates an account (admin)
func (h *UserHandler) ToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.userService.ToggleUserStatus(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, h.logger, err, "Toggle user status")
		return
	}

	message := "User deactivated"
	if user.IsActive {
		message = "User activated"
	}
	h.logger.Info(message, zap.String("user_id", user.ID.String()))
	middleware.RespondWithJSON(w, http.StatusOK, userEnvelope{Message: message, User: profileOf(user)})
}
