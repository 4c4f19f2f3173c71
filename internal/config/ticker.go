package config

import "time"

// Default configuration values for a ticker.
const (
	DefaultTickerName     = "ticker"
	DefaultTickerInterval = 100 * time.Millisecond
)

// Ticker is the configuration of a periodic packet source.
type Ticker struct {
	// Name identifies the ticker in logs and metrics.
	Name string

	// Interval is the duration between two ticks.
	Interval time.Duration

	// MaxTicks stops the ticker after the given number of ticks.
	// Zero means no limit.
	MaxTicks int
}

// NewTicker returns the default configuration for a ticker.
func NewTicker(name string) *Ticker {
	return &Ticker{
		Name:     name,
		Interval: DefaultTickerInterval,
	}
}

// Validate checks the configuration.
func (t *Ticker) Validate(ac *AnomalyCollector) {
	CheckNotEmpty(ac, "Name", &t.Name, DefaultTickerName)
	CheckPositive(ac, "Interval", &t.Interval, DefaultTickerInterval)
	CheckNotNegative(ac, "MaxTicks", &t.MaxTicks, 0)
}
