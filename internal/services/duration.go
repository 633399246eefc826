package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/desertthunder/ytsync/internal/shared"
)

// ParseDuration parses the ISO 8601 durations returned by the YouTube API, e.g. "PT1H2M3S" or "P1DT30M".
//
// Years and months are rejected since they have no fixed length, as are negative durations and values with no
// designated component. Fractional seconds are accepted.
func ParseDuration(s string) (time.Duration, error) {
	invalid := fmt.Errorf("%w: duration %q", shared.ErrInvalidInput, s)

	// The parser tolerates a bare "P", a dangling number and a repeated T; the API never sends those.
	if !strings.HasPrefix(s, "P") || strings.Count(s, "T") > 1 || !endsWithDesignator(s) {
		return 0, invalid
	}

	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", invalid, err)
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, invalid
	}
	return d.ToTimeDuration(), nil
}

func endsWithDesignator(s string) bool {
	if len(s) < 3 {
		return false
	}
	switch s[len(s)-1] {
	case 'W', 'D', 'H', 'M', 'S':
		return true
	}
	return false
}
