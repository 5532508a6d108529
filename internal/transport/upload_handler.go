package transport

import (
	"errors"
	"net/http"

	"cycleport/internal/middleware"
	"cycleport/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadFormField is the multipart field carrying the image
const UploadFormField = "image"

type uploadResponse struct {
	ImagePath string `json:"imagePath"`
}

// UploadHandler accepts product images
type UploadHandler struct {
	store    storage.ImageStore
	maxBytes int64
	logger   *zap.Logger
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(store storage.ImageStore, maxBytes int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		store:    store,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// RegisterRoutes registers the upload route
func (h *UploadHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/api/upload", h.Upload)
}

// Upload stores one image from the multipart body and returns its public path
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBytes {
		middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadFormField)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if _, err := storage.DetectImage(header.Filename, file); err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("Failed to inspect upload", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to upload image")
		return
	}

	imagePath, err := h.store.Save(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store upload", zap.String("filename", header.Filename), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to upload image")
		return
	}

	h.logger.Info("Image uploaded", zap.String("path", imagePath))
	middleware.RespondWithJSON(w, http.StatusOK, uploadResponse{ImagePath: imagePath})
}
