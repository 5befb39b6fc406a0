package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Preferences is one participant's half of the planning input. The
// coordinator only cares about presence or absence; semantic validation
// belongs to the input surface.
type Preferences struct {
	Cuisines            []string `json:"cuisines"`
	PriceRange          string   `json:"priceRange"`
	Times               []string `json:"times"`
	Vibes               []string `json:"vibes"`
	MaxDistanceKm       float64  `json:"maxDistanceKm"`
	DietaryRestrictions []string `json:"dietaryRestrictions"`
}

// Value implements driver.Valuer so Preferences persists as JSONB.
func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB columns.
func (p *Preferences) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported preferences type %T", src)
	}
}

// Location is where venue candidates are searched around.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}
