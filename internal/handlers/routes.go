package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-toy-activation/internal/ledger"
	"github.com/imrishuroy/go-toy-activation/internal/ownership"
	"github.com/imrishuroy/go-toy-activation/internal/redemption"
	"github.com/imrishuroy/go-toy-activation/internal/validation"
)

// Activations is the coordinator surface the HTTP layer uses.
type Activations interface {
	CheckStatus(ctx context.Context, tok string) (redemption.StatusResult, error)
	Redeem(ctx context.Context, tok, redeemer string) (redemption.RedeemResult, error)
	IssueModel(ctx context.Context, modelName, serial string) (redemption.Issuance, error)
	Purge(ctx context.Context, itemID string) error
	List(ctx context.Context) (redemption.Listing, error)
}

// Owners is the ownership store surface the HTTP layer uses.
type Owners interface {
	Get(ctx context.Context, itemID string) (*ownership.Ownership, error)
	Transfer(ctx context.Context, itemID, from, to string) (*ownership.Ownership, error)
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Activations Activations
	// Owners is optional; ownership routes are not registered without it.
	Owners      Owners
	AdminAPIKey string
	Logger      *slog.Logger
	// LedgerTimeout bounds every request that touches storage.
	LedgerTimeout time.Duration
}

type handler struct {
	cfg HandlerConfig
}

// RegisterRoutes registers the activation, admin and ownership routes.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	v := validation.New()
	h := &handler{cfg: cfg}

	api := r.Group("/api")
	api.Use(RequestContext(cfg.Logger), h.timeout())

	api.GET("/models", h.models)
	api.GET("/activate", h.checkStatus)
	api.GET("/activate/:token", h.checkStatus)
	api.POST("/activate", h.redeem(v))

	admin := api.Group("/qr", AdminOnly(cfg.AdminAPIKey))
	admin.POST("", h.issue(v))
	admin.GET("", h.list)
	admin.DELETE("/:itemId", h.purge)

	if cfg.Owners != nil {
		api.GET("/toys/:itemId/owner", h.owner)
		api.POST("/toys/:itemId/transfer", h.transfer(v))
	}
}

func (h *handler) timeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.LedgerTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.cfg.LedgerTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// unavailable writes the retryable 503 used for every transient storage
// failure; anything else is a 500.
func unavailable(c *gin.Context, err error) {
	if ledger.IsUnavailable(err) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger_unavailable", "retryable": true})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
