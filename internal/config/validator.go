package config

import (
	"github.com/FerroO2000/pipert/internal"
)

// Validator is an utility struct for validating a configuration.
// Every anomaly is logged as a warning together with the applied fallback.
type Validator struct {
	tel *internal.Telemetry
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,
	}
}

// Validate validates the given configuration, fixing it in place.
// It returns the number of anomalies found.
func (v *Validator) Validate(config Config) int {
	return v.Report(Collect(config))
}

// Collect validates the given configuration, fixing it in place,
// and returns the anomalies without logging them.
func Collect(config Config) *AnomalyCollector {
	ac := NewAnomalyCollector()
	config.Validate(ac)
	return ac
}

// Report logs the collected anomalies.
// It returns the number of anomalies.
func (v *Validator) Report(ac *AnomalyCollector) int {
	for an := range ac.iter() {
		v.handleAnomaly(an)
	}

	return ac.Len()
}

func (v *Validator) handleAnomaly(an *anomaly) {
	v.tel.LogWarn("config anomaly",
		"field", an.field, "reason", an.reason,
		"actual", an.actual, "fallback", an.fallback)
}
