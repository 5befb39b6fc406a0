package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// VenueCandidate is one venue suggested by the compatibility analysis.
type VenueCandidate struct {
	VenueID  string   `json:"venueId"`
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Location Location `json:"location"`
	Score    float64  `json:"score"`
}

// VenueCandidates persists as a JSONB array on the session row.
type VenueCandidates []VenueCandidate

func (v VenueCandidates) Value() (driver.Value, error) {
	return json.Marshal(v)
}

func (v *VenueCandidates) Scan(src any) error {
	switch val := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(val, v)
	case string:
		return json.Unmarshal([]byte(val), v)
	default:
		return fmt.Errorf("unsupported venue candidates type %T", src)
	}
}

// AnalysisResult is what the recommendation engine returns for a session
// once both participants have submitted preferences.
type AnalysisResult struct {
	CompatibilityScore float64         `json:"compatibilityScore"`
	Venues             VenueCandidates `json:"venues"`
}
