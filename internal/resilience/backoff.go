package resilience

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// MaxJitter is the exclusive upper bound of the jitter fraction added to each delay.
const MaxJitter = 0.3

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps every wait, including server retry hints.
	MaxDelay time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64
}

// DefaultConfig returns the defaults from config.example.toml.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ConfigFrom converts the TOML retry section.
func ConfigFrom(c shared.RetryConfig) Config {
	return Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay.Duration,
		MaxDelay:     c.MaxDelay.Duration,
		Multiplier:   c.Multiplier,
	}
}

// Validate checks if the retry configuration is valid.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", shared.ErrInvalidConfig)
	case c.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive", shared.ErrInvalidConfig)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay must not be below initial delay", shared.ErrInvalidConfig)
	case c.Multiplier < 1:
		return fmt.Errorf("%w: multiplier must be at least 1", shared.ErrInvalidConfig)
	}
	return nil
}

// Delay returns the wait after failed attempt k (1-indexed) for jitter fraction j in [0, MaxJitter):
// min(initial * multiplier^(k-1) * (1 + j), max).
func (c Config) Delay(k int, j float64) time.Duration {
	if k < 1 {
		k = 1
	}
	base := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(k-1))
	d := base * (1 + j)
	if d >= float64(c.MaxDelay) || math.IsInf(d, 1) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Hinted caps a server-provided wait at MaxDelay.
func (c Config) Hinted(hint time.Duration) time.Duration {
	return min(max(hint, 0), c.MaxDelay)
}

func defaultJitter() float64 {
	return rand.Float64() * MaxJitter
}
