package transport

import (
	"errors"
	"net/http"

	"cycleport/internal/domain"
	"cycleport/internal/middleware"
	"cycleport/internal/payment"
	"cycleport/internal/repository"
	"cycleport/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errorStatuses maps sentinel errors to HTTP statuses. The error text is the client message.
var errorStatuses = []struct {
	err    error
	status int
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrAccountInactive, http.StatusForbidden},
	{service.ErrAdminRegistration, http.StatusForbidden},
	{service.ErrOrderForbidden, http.StatusForbidden},
	{repository.ErrReviewForbidden, http.StatusForbidden},
	{repository.ErrUserNotFound, http.StatusNotFound},
	{repository.ErrProductNotFound, http.StatusNotFound},
	{repository.ErrReviewNotFound, http.StatusNotFound},
	{repository.ErrOrderNotFound, http.StatusNotFound},
	{repository.ErrUserAlreadyExists, http.StatusConflict},
	{repository.ErrSlugTaken, http.StatusConflict},
	{repository.ErrOrderExists, http.StatusConflict},
	{service.ErrOrderAlreadyPaid, http.StatusConflict},
	{service.ErrOrderNotPayable, http.StatusConflict},
	{repository.ErrAlreadyReviewed, http.StatusBadRequest},
	{service.ErrInvalidResetToken, http.StatusBadRequest},
	{payment.ErrInvalidSignature, http.StatusBadRequest},
	{service.ErrPaymentProvider, http.StatusInternalServerError},
}

// respondWithServiceError writes the client-facing form of err. Unclassified
// errors are logged and reported as a generic 500.
func respondWithServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string) {
	var inputErr *service.InputError
	if errors.As(err, &inputErr) {
		middleware.RespondWithError(w, http.StatusBadRequest, inputErr.Message)
		return
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		middleware.RespondWithErrorDetails(w, http.StatusBadRequest, stockErr.Error(), map[string]interface{}{
			"productId": stockErr.ProductID.String(),
			"name":      stockErr.Name,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
		return
	}

	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				logger.Error(action+" failed", zap.Error(err))
			}
			middleware.RespondWithError(w, e.status, e.err.Error())
			return
		}
	}

	logger.Error(action+" failed", zap.Error(err))
	middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
}

// pathID parses a UUID route parameter, answering 400 when it is malformed
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// actingUser reads the authenticated caller placed in the context by AuthMiddleware
func actingUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		middleware.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	role, _ := middleware.GetUserRole(r.Context())
	name, _ := middleware.GetUserName(r.Context())
	return &domain.User{ID: id, Role: role, Name: name, IsActive: true}, true
}
