package domain

import (
	"strings"
	"time"
)

// Importance is how much a user cares about one sustainability filter, on a
// four step scale.
type Importance string

const (
	ImportanceNotImportant      Importance = "NOT_IMPORTANT"
	ImportanceSomewhatImportant Importance = "SOMEWHAT_IMPORTANT"
	ImportanceImportant         Importance = "IMPORTANT"
	ImportanceVeryImportant     Importance = "VERY_IMPORTANT"
)

// Valid reports whether i is one of the four known levels.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceNotImportant, ImportanceSomewhatImportant, ImportanceImportant, ImportanceVeryImportant:
		return true
	}
	return false
}

// ParseImportance converts a string to an Importance.
func ParseImportance(s string) (Importance, error) {
	i := Importance(strings.TrimSpace(s))
	if !i.Valid() {
		return "", ErrInvalidInput
	}
	return i, nil
}

// SustainabilityFilter is one entry of the public filter catalogue.
type SustainabilityFilter struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Examples    string `json:"examples"`
}

// Preference records the importance a user gives one filter. A user has at
// most one preference per filter key.
type Preference struct {
	UserID     string
	FilterKey  string
	Importance Importance
	UpdatedAt  time.Time
}

// DefaultFilters seeds an empty catalogue.
var DefaultFilters = []SustainabilityFilter{
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000001",
		Key:         "bio",
		Label:       "Bio/Organic",
		Icon:        "leaf",
		Description: "Products made from organic materials without harmful chemicals",
		Examples:    "organic cotton, certified organic food",
	},
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000002",
		Key:         "ethical-work",
		Label:       "Ethical Work Enforced",
		Icon:        "handshake",
		Description: "Fair wages and safe working conditions guaranteed",
		Examples:    "fair trade certification, audited factories",
	},
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000003",
		Key:         "recycled",
		Label:       "Recycled Materials",
		Icon:        "recycle",
		Description: "Made largely from recycled or upcycled materials",
		Examples:    "recycled polyester, reclaimed wood",
	},
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000004",
		Key:         "vegan",
		Label:       "Vegan",
		Icon:        "sprout",
		Description: "Free of animal products and animal testing",
		Examples:    "plant-based leather, cruelty-free cosmetics",
	},
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000005",
		Key:         "local",
		Label:       "Locally Produced",
		Icon:        "map-pin",
		Description: "Produced close to where it is sold to keep transport short",
		Examples:    "regional manufacturers, local farms",
	},
	{
		ID:          "f0d5c3a2-1b4e-4c8e-9a51-000000000006",
		Key:         "climate-neutral",
		Label:       "Climate Neutral",
		Icon:        "cloud",
		Description: "Emissions from production and shipping are avoided or offset",
		Examples:    "certified climate neutral, renewable energy production",
	},
}
