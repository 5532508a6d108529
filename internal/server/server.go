package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cycleport/internal/cache"
	"cycleport/internal/config"
	"cycleport/internal/database"
	"cycleport/internal/domain"
	custommiddleware "cycleport/internal/middleware"
	"cycleport/internal/payment"
	"cycleport/internal/repository"
	"cycleport/internal/service"
	"cycleport/internal/storage"
	"cycleport/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies are the external resources the API is built on
type Dependencies struct {
	DB      database.Service
	Redis   *redis.Client
	Gateway payment.Gateway
	Images  storage.ImageStore
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	deps   Dependencies
	orders repository.OrderRepository
	cache  *cache.Cache
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Dependencies) *Server {
	db := deps.DB.DB()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	resetRepo := repository.NewPasswordResetRepository(db)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)

	// Initialize services
	productCache := cache.New(deps.Redis, "cycleport:", cfg.Cache.TTL)
	userService := service.NewUserService(userRepo, resetRepo, cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	productService := service.NewProductService(productRepo, productCache, logger)
	orderService := service.NewOrderService(orderRepo, productRepo, logger)
	paymentService := service.NewPaymentService(orderRepo, deps.Gateway, service.PaymentConfig{
		Currency:       cfg.Payment.Currency,
		DefaultCountry: cfg.Payment.DefaultCountry,
		ReservationTTL: cfg.Payment.ReservationTTL,
	}, logger)

	// Initialize handlers
	userHandler := transport.NewUserHandler(userService, logger)
	productHandler := transport.NewProductHandler(productService, logger)
	orderHandler := transport.NewOrderHandler(orderService, logger)
	paymentHandler := transport.NewPaymentHandler(paymentService, logger)
	uploadHandler := transport.NewUploadHandler(deps.Images, cfg.Upload.MaxBytes, logger)

	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, userRepo, logger)
	adminMiddleware := custommiddleware.RequireRole(logger, domain.RoleAdmin)
	rateLimit := func(prefix string) func(http.Handler) http.Handler {
		return custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         prefix,
		}, logger)
	}

	router := chi.NewRouter()
	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.IsDevelopment()))

	// Registered first; nothing above reads the request body, so the
	// signature is checked against the bytes Stripe sent
	paymentHandler.RegisterWebhook(router)

	s := &Server{
		config: cfg,
		logger: logger,
		deps:   deps,
		orders: orderRepo,
		cache:  productCache,
	}

	router.Get("/health", s.health)
	if publicPath := strings.TrimSuffix(cfg.Upload.PublicPath, "/"); publicPath != "" {
		fs := http.StripPrefix(publicPath, http.FileServer(http.Dir(cfg.Upload.Dir)))
		router.Handle(publicPath+"/*", fs)
	}

	// Register routes
	userHandler.RegisterRoutes(router, authMiddleware, adminMiddleware, rateLimit("rate_limit:auth"))
	productHandler.RegisterRoutes(router, authMiddleware, adminMiddleware)
	orderHandler.RegisterRoutes(router, authMiddleware, adminMiddleware)
	paymentHandler.RegisterRoutes(router, authMiddleware, rateLimit("rate_limit:payment"))
	uploadHandler.RegisterRoutes(router, authMiddleware)

	s.Server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Reservations exposes the order store to the reservation sweeper
func (s *Server) Reservations() repository.OrderRepository {
	return s.orders
}

type healthResponse struct {
	Status   string            `json:"status"`
	Database map[string]string `json:"database"`
	Redis    string            `json:"redis"`
	Cache    cache.Stats       `json:"cache"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: s.deps.DB.Health(),
		Redis:    "up",
		Cache:    s.cache.Snapshot(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
		resp.Redis = "down"
		resp.Status = "degraded"
	}
	if resp.Database["status"] != "up" {
		resp.Status = "down"
	}

	status := http.StatusOK
	if resp.Status == "down" {
		status = http.StatusServiceUnavailable
	}
	custommiddleware.RespondWithJSON(w, status, resp)
}

// Close releases Redis and the database pool
func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.deps.Redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	if err := s.deps.DB.Close(); err != nil {
		s.logger.Error("Failed to close database connection", zap.Error(err))
		return err
	}

	return nil
}
