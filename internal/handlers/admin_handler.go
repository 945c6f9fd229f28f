package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-toy-activation/internal/ledger"
	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/redemption"
	"github.com/imrishuroy/go-toy-activation/internal/validation"
)

func (h *handler) issue(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.IssueRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		iss, err := h.cfg.Activations.IssueModel(ctx, req.ModelName, req.SerialNumber)
		switch {
		case errors.Is(err, redemption.ErrUnknownModel):
			c.JSON(http.StatusNotFound, gin.H{"error": "Model not found", "code": "MODEL_NOT_FOUND"})
			return
		case errors.Is(err, redemption.ErrSerialExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "SERIAL_EXISTS"})
			return
		case errors.Is(err, redemption.ErrDuplicateIssuance):
			c.JSON(http.StatusConflict, gin.H{"error": "QR code already exists", "code": "DUPLICATE"})
			return
		case err != nil:
			logger.FromContext(ctx).Error("issue failed", "model", req.ModelName, "serial", req.SerialNumber, "error", err)
			unavailable(c, err)
			return
		}

		c.Header("Location", fmt.Sprintf("/api/qr/%s", url.PathEscape(iss.ItemID)))
		c.JSON(http.StatusCreated, gin.H{
			"success":        true,
			"item_id":        iss.ItemID,
			"token":          iss.Token,
			"activation_url": "/activate/" + url.PathEscape(iss.Token),
			"qr": gin.H{
				"model_name":    iss.Record.ModelName,
				"serial_number": iss.Record.SerialNumber,
				"rarity":        iss.Record.Rarity,
			},
		})
	}
}

type recordResponse struct {
	ItemID       string     `json:"item_id"`
	ModelName    string     `json:"model_name,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Rarity       string     `json:"rarity,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy   string     `json:"redeemed_by,omitempty"`
}

func (h *handler) list(c *gin.Context) {
	l, err := h.cfg.Activations.List(c.Request.Context())
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("list failed", "error", err)
		unavailable(c, err)
		return
	}

	out := make([]recordResponse, 0, len(l.Records))
	for _, r := range l.Records {
		out = append(out, recordFrom(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"records": out,
		"stats": gin.H{
			"total":     l.Stats.Total,
			"redeemed":  l.Stats.Redeemed,
			"available": l.Stats.Available,
		},
	})
}

func recordFrom(r ledger.Record) recordResponse {
	return recordResponse{
		ItemID:       r.ItemID,
		ModelName:    r.ModelName,
		SerialNumber: r.SerialNumber,
		Rarity:       r.Rarity,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		RedeemedAt:   r.RedeemedAt,
		RedeemedBy:   r.RedeemedBy,
	}
}

func (h *handler) purge(c *gin.Context) {
	itemID := c.Param("itemId")
	err := h.cfg.Activations.Purge(c.Request.Context(), itemID)
	switch {
	case errors.Is(err, redemption.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "QR code not found", "code": "NOT_FOUND"})
		return
	case err != nil:
		logger.FromContext(c.Request.Context()).Error("purge failed", "item_id", itemID, "error", err)
		unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item_id": itemID})
}
