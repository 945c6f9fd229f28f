package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-toy-activation/internal/logger"
	"github.com/imrishuroy/go-toy-activation/internal/ownership"
	"github.com/imrishuroy/go-toy-activation/internal/validation"
)

func ownerJSON(o *ownership.Ownership) gin.H {
	return gin.H{
		"item_id":      o.ItemID,
		"owner":        o.Owner,
		"activated_at": o.ActivatedAt,
		"transfers":    o.Transfers,
	}
}

func (h *handler) owner(c *gin.Context) {
	itemID := c.Param("itemId")
	o, err := h.cfg.Owners.Get(c.Request.Context(), itemID)
	switch {
	case errors.Is(err, ownership.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Toy not activated", "code": "NOT_FOUND"})
		return
	case err != nil:
		logger.FromContext(c.Request.Context()).Error("get owner failed", "item_id", itemID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, ownerJSON(o))
}

func (h *handler) transfer(v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		itemID := c.Param("itemId")

		var req validation.TransferRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		o, err := h.cfg.Owners.Transfer(ctx, itemID, req.From, req.To)
		switch {
		case errors.Is(err, ownership.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Toy not activated", "code": "NOT_FOUND"})
			return
		case errors.Is(err, ownership.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Sender does not own this toy", "code": "NOT_OWNER"})
			return
		case err != nil:
			logger.FromContext(ctx).Error("transfer failed", "item_id", itemID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}

		logger.FromContext(ctx).Info("toy transferred", "item_id", itemID, "from", req.From, "to", req.To)
		c.JSON(http.StatusOK, ownerJSON(o))
	}
}
