// Package config contains utility structs/functions and types
// for validating the configurations of the scheduler and of the channels.
package config

// Config defines the minimal interface for a configuration
// in order to be validated.
type Config interface {
	// Validate checks the configuration.
	Validate(ac *AnomalyCollector)
}
