package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-toy-activation/internal/catalogue"
)

type modelResponse struct {
	Name   string `json:"name"`
	Rarity string `json:"rarity"`
	Chance int    `json:"chance"`
	TgsURL string `json:"tgs_url"`
}

// models lists the catalogue in display order, optionally filtered by
// ?rarity=.
func (h *handler) models(c *gin.Context) {
	rarity := c.Query("rarity")
	out := make([]modelResponse, 0)
	for _, m := range catalogue.Models() {
		if rarity != "" && m.Rarity != rarity {
			continue
		}
		out = append(out, modelResponse{
			Name:   m.Name,
			Rarity: m.Rarity,
			Chance: m.Chance,
			TgsURL: "/models/" + m.AssetFile(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out, "count": len(out)})
}
