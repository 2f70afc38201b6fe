package models

// FeatureFlag is one runtime switch.
type FeatureFlag struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`

	// Default is true when no override is stored.
	Default   bool      `json:"default"`
	UpdatedAt Timestamp `json:"updatedAt"`
}

// FeatureFlagList is the body of the flag listing.
type FeatureFlagList struct {
	Items []FeatureFlag `json:"items"`
}
