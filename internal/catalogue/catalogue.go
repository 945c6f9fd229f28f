// Package catalogue lists the collectible models that can be issued and
// derives item ids for physical units.
package catalogue

import (
	"fmt"
	"regexp"
	"strings"
)

// Rarity tiers
const (
	RarityLegendary = "legendary"
	RarityRare      = "rare"
	RarityCommon    = "common"
)

// Model is one collectible design.
type Model struct {
	Name   string
	Rarity string
	// Chance is the drop percentage shown in the storefront.
	Chance int
}

// AssetFile is the animated sticker file for the model.
func (m Model) AssetFile() string {
	name := strings.ToLower(m.Name)
	if f, ok := assetOverrides[name]; ok {
		return f
	}
	return whitespace.ReplaceAllString(name, "_") + ".tgs"
}

var assetOverrides = map[string]string{
	"bavaria":    "bavariya.tgs",
	"gucci leap": "gucci leap.tgs",
}

var whitespace = regexp.MustCompile(`\s+`)

var models = []Model{
	{"Raphael", RarityLegendary, 1},
	{"Ninja Mike", RarityLegendary, 1},
	{"Fifty Shades", RarityLegendary, 1},
	{"Toading...", RarityLegendary, 1},
	{"Midas Pepe", RarityLegendary, 1},
	{"Leonardo", RarityLegendary, 1},
	{"Donatello", RarityLegendary, 1},
	{"Cozy Galaxy", RarityLegendary, 1},
	{"Gucci Leap", RarityLegendary, 1},
	{"Steel Frog", RarityLegendary, 1},
	{"Magnate", RarityLegendary, 1},
	{"Emerald Plush", RarityLegendary, 1},
	{"Louis Vuittoad", RarityLegendary, 1},
	{"Puppy Pug", RarityLegendary, 1},

	{"Bavaria", RarityRare, 2},
	{"Red Pepple", RarityRare, 2},
	{"Pink Galaxy", RarityRare, 2},
	{"Milano", RarityRare, 2},
	{"Yellow Purp", RarityRare, 2},
	{"X-Ray", RarityRare, 2},
	{"Sketchy", RarityRare, 2},
	{"Marble", RarityRare, 2},
	{"Birmingham", RarityRare, 2},
	{"Barcelona", RarityRare, 2},
	{"Sunset", RarityRare, 2},
	{"Emo Boi", RarityRare, 2},
	{"Santa Pepe", RarityRare, 2},
	{"Kung Fu Pepe", RarityRare, 2},
	{"Christmas", RarityRare, 2},
	{"Amalgam", RarityRare, 2},
	{"Stripes", RarityRare, 2},
	{"Pink Latex", RarityRare, 2},
	{"Two Face", RarityRare, 2},
	{"Frozen", RarityRare, 2},
	{"Princess", RarityRare, 2},
	{"Pepe La Rana", RarityRare, 2},

	{"Spectrum", RarityCommon, 3},
	{"Polka Dots", RarityCommon, 3},
	{"Yellow Hug", RarityCommon, 3},
	{"Hothead", RarityCommon, 3},
	{"Gummy Frog", RarityCommon, 3},
	{"Red Menace", RarityCommon, 3},
	{"Tropical", RarityCommon, 3},
	{"Poison Dart", RarityCommon, 3},
	{"Eggplant", RarityCommon, 3},
	{"Pepemint", RarityCommon, 3},
	{"Hue Jester", RarityCommon, 3},
	{"Cold Heart", RarityCommon, 3},
	{"Aqua Plush", RarityCommon, 3},
	{"Pumpkin", RarityCommon, 3},
}

var byName = func() map[string]Model {
	m := make(map[string]Model, len(models))
	for _, mod := range models {
		m[mod.Name] = mod
	}
	return m
}()

// Models returns every model in display order.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Lookup finds a model by its exact display name.
func Lookup(name string) (Model, bool) {
	m, ok := byName[name]
	return m, ok
}

// ItemID derives the id printed on a physical unit: nfc_<slug>_<serial>.
func ItemID(modelName, serial string) string {
	slug := whitespace.ReplaceAllString(strings.ToLower(modelName), "_")
	return fmt.Sprintf("nfc_%s_%s", slug, serial)
}
