package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/redemption"
	"github.com/imrishuroy/go-toy-activation/internal/validation"
)

type toyResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
	Rarity       string `json:"rarity"`
	TgsURL       string `json:"tgs_url,omitempty"`
}

func toyFrom(it *redemption.Item) *toyResponse {
	if it == nil {
		return nil
	}
	t := &toyResponse{
		ID:           it.ID,
		Name:         it.Name,
		SerialNumber: it.SerialNumber,
		Rarity:       it.Rarity,
	}
	if it.AssetFile != "" {
		t.TgsURL = "/models/" + it.AssetFile
	}
	return t
}

type activationResponse struct {
	Success      bool              `json:"success"`
	Status       redemption.Status `json:"status"`
	Toy          *toyResponse      `json:"toy,omitempty"`
	RedeemedAt   *time.Time        `json:"redeemed_at,omitempty"`
	RedeemedBy   string            `json:"redeemed_by,omitempty"`
	SameRedeemer bool              `json:"same_redeemer,omitempty"`
}

// classified writes the two statuses that keep their own HTTP codes and
// reports whether it did.
func classified(c *gin.Context, s redemption.Status) bool {
	switch s {
	case redemption.StatusInvalidToken:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "INVALID_TOKEN", "status": s})
		return true
	case redemption.StatusUnknownItem:
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found", "code": "NOT_FOUND", "status": s})
		return true
	}
	return false
}

func (h *handler) checkStatus(c *gin.Context) {
	tok := c.Param("token")
	if tok == "" {
		tok = c.Query("token")
	}
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is required"})
		return
	}

	res, err := h.cfg.Activations.CheckStatus(c.Request.Context(), tok)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("check status failed", "error", err)
		unavailable(c, err)
		return
	}
	if classified(c, res.Status) {
		return
	}
	c.JSON(http.StatusOK, activationResponse{
		Success:    true,
		Status:     res.Status,
		Toy:        toyFrom(res.Item),
		RedeemedAt: res.RedeemedAt,
		RedeemedBy: res.RedeemedBy,
	})
}

func (h *handler) redeem(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validation.RedeemRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		res, err := h.cfg.Activations.Redeem(c.Request.Context(), req.Token, req.UserID)
		if err != nil {
			logger.FromContext(c.Request.Context()).Error("redeem failed", "error", err)
			unavailable(c, err)
			return
		}
		if classified(c, res.Status) {
			return
		}
		c.JSON(http.StatusOK, activationResponse{
			Success:      res.Status == redemption.StatusActivated,
			Status:       res.Status,
			Toy:          toyFrom(res.Item),
			RedeemedAt:   res.RedeemedAt,
			RedeemedBy:   res.RedeemedBy,
			SameRedeemer: res.SameRedeemer,
		})
	}
}
