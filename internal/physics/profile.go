package physics

import "strings"

// Category is an aircraft size class
type Category string

const (
	CategorySmall  Category = "small"
	CategoryMedium Category = "medium"
	CategoryLarge  Category = "large"
)

// Profile describes the aircraft used for limits and prompt context
type Profile struct {
	Category       Category `json:"category"`
	Label          string   `json:"label"`
	CrosswindLimit int      `json:"crosswind_limit_kts"`
}

// DefaultProfiles is the static profile table; runtime settings may override limits
var DefaultProfiles = map[Category]Profile{
	CategorySmall: {
		Category:       CategorySmall,
		Label:          "Cessna 172/Piper Archer (Max X-Wind: 15kts, IFR: No Radar)",
		CrosswindLimit: 15,
	},
	CategoryMedium: {
		Category:       CategoryMedium,
		Label:          "Baron/Cirrus SR22 (Max X-Wind: 20kts, IFR: Capable)",
		CrosswindLimit: 20,
	},
	CategoryLarge: {
		Category:       CategoryLarge,
		Label:          "TBM/Citation (Max X-Wind: 30kts, High Altitude Capable)",
		CrosswindLimit: 30,
	},
}

var (
	largeKeywords  = []string{"boeing", "airbus", "737", "747", "a320", "gulfstream", "global", "crj", "erj"}
	mediumKeywords = []string{"king air", "pilatus", "pc-12", "citation", "phenom", "learjet", "tbm"}
)

// CategoryFor maps the plane_size input to a category. The literal class names
// are accepted as-is, otherwise free-text type names are matched by keyword and
// anything unrecognised is small.
func CategoryFor(input string) Category {
	p := strings.ToLower(strings.TrimSpace(input))
	switch Category(p) {
	case CategorySmall, CategoryMedium, CategoryLarge:
		return Category(p)
	}
	for _, k := range largeKeywords {
		if strings.Contains(p, k) {
			return CategoryLarge
		}
	}
	for _, k := range mediumKeywords {
		if strings.Contains(p, k) {
			return CategoryMedium
		}
	}
	return CategorySmall
}

// ProfileFor returns the profile for a category, substituting a limit override when positive
func ProfileFor(c Category, limitOverride int) Profile {
	p, ok := DefaultProfiles[c]
	if !ok {
		p = DefaultProfiles[CategorySmall]
	}
	if limitOverride > 0 {
		p.CrosswindLimit = limitOverride
	}
	return p
}
