// Package httpapi exposes the minutes services over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey    = "auth_claims"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	shutdownTimeout     = 5 * time.Second
)

// Dependencies wires the domain services into the HTTP layer.
type Dependencies struct {
	Logger     *zap.Logger
	Meter      *minutes.Meter
	Catalog    *minutes.Catalog
	Settlement *minutes.Settlement
	Sessions   *minutes.Sessions
}

// RouterConfig carries the transport settings.
type RouterConfig struct {
	AllowedOrigins []string
}

// Handler serves the API routes.
type Handler struct {
	logger     *zap.Logger
	meter      *minutes.Meter
	catalog    *minutes.Catalog
	settlement *minutes.Settlement
	sessions   *minutes.Sessions
}

// NewHandler validates dependencies.
func NewHandler(dependencies Dependencies) (*Handler, error) {
	if dependencies.Meter == nil || dependencies.Catalog == nil || dependencies.Settlement == nil || dependencies.Sessions == nil {
		return nil, fmt.Errorf("%w: httpapi services are required", minutes.ErrInvalidServiceConfig)
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:     logger,
		meter:      dependencies.Meter,
		catalog:    dependencies.Catalog,
		settlement: dependencies.Settlement,
		sessions:   dependencies.Sessions,
	}, nil
}

// NewRouter mounts public and session-protected routes.
func NewRouter(cfg RouterConfig, handler *Handler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		ExposeHeaders:    []string{headerRemainingMinutes},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/packages", handler.handleListPackages)
	api.POST("/payments/confirm", handler.handleConfirmPayment)
	api.POST("/payments/webhook", handler.handleWebhook)

	authenticated := api.Group("")
	authenticated.Use(validator.GinMiddleware(claimsContextKey))
	authenticated.POST("/payments/initiate", handler.handleInitiatePayment)
	authenticated.GET("/payments", handler.handleListPayments)
	authenticated.GET("/user/minutes", handler.handleUserMinutes)
	authenticated.POST("/conversations", handler.handleStartConversation)
	authenticated.GET("/conversations", handler.handleListConversations)
	authenticated.GET("/conversations/:id/messages", handler.handleListMessages)
	authenticated.POST("/conversations/:id/messages", handler.handleSendMessage)
	authenticated.POST("/conversations/:id/end", handler.handleEndConversation)

	return router
}

// Serve runs router on addr until ctx is done.
func Serve(ctx context.Context, addr string, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
