package classify

import (
	"context"

	"github.com/beewatch/beewatch/internal/feature"
)

// Thresholds is a rule table over NDVI, LST (Kelvin) and a moisture signal.
//
// Healthy when NDVI > HealthyMinNDVI, LST < HealthyMaxLST and moisture > HealthyMinMoisture.
// Otherwise Moderate when any of ModerateMinNDVI < NDVI <= HealthyMinNDVI,
// HealthyMaxLST <= LST < ModerateMaxLST or ModerateMinMoisture < moisture <= HealthyMinMoisture.
// Otherwise Critical.
type Thresholds struct {
	Name string

	HealthyMinNDVI     float64
	HealthyMaxLST      float64
	HealthyMinMoisture float64

	ModerateMinNDVI     float64
	ModerateMaxLST      float64
	ModerateMinMoisture float64
}

// SoilMoistureRules is the canonical table over soil moisture fraction.
func SoilMoistureRules() Thresholds {
	return Thresholds{
		Name:                "soil_moisture",
		HealthyMinNDVI:      0.6,
		HealthyMaxLST:       305,
		HealthyMinMoisture:  0.2,
		ModerateMinNDVI:     0.4,
		ModerateMaxLST:      310,
		ModerateMinMoisture: 0.1,
	}
}

// ETRules is the table for evapotranspiration (mm/day) in place of soil moisture.
// It must only be applied to vectors whose third entry is ET.
func ETRules() Thresholds {
	t := SoilMoistureRules()
	t.Name = "et"
	t.HealthyMinMoisture = 1.0
	t.ModerateMinMoisture = 0.6
	return t
}

// Label applies the table to v.
func (t Thresholds) Label(v feature.Vector) Category {
	if v.NDVI > t.HealthyMinNDVI && v.LST < t.HealthyMaxLST && v.SoilMoisture > t.HealthyMinMoisture {
		return Healthy
	}

	moderateNDVI := v.NDVI > t.ModerateMinNDVI && v.NDVI <= t.HealthyMinNDVI
	moderateLST := v.LST >= t.HealthyMaxLST && v.LST < t.ModerateMaxLST
	moderateMoisture := v.SoilMoisture > t.ModerateMinMoisture && v.SoilMoisture <= t.HealthyMinMoisture
	if moderateNDVI || moderateLST || moderateMoisture {
		return Moderate
	}

	return Critical
}

// RuleBased classifies with a fixed threshold table.
type RuleBased struct {
	thresholds Thresholds
}

// NewRuleBased creates a rule-based classifier. A zero table selects SoilMoistureRules.
func NewRuleBased(t Thresholds) *RuleBased {
	if t == (Thresholds{}) {
		t = SoilMoistureRules()
	}
	return &RuleBased{thresholds: t}
}

// Classify implements Classifier. It never fails.
func (r *RuleBased) Classify(_ context.Context, v feature.Vector) (Category, error) {
	return r.thresholds.Label(v), nil
}

// Name implements Classifier.
func (r *RuleBased) Name() string {
	return "rules:" + r.thresholds.Name
}
