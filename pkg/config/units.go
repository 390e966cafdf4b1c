package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use extended units.
type Duration time.Duration

// Units beyond those of time.ParseDuration.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration parses a duration string. On top of the units known to
// time.ParseDuration it accepts d (day) and w (week); segments chain
// the usual way ("1w2d12h"). An empty string parses to zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	rest := s
	negative := false
	if rest[0] == '+' || rest[0] == '-' {
		negative = rest[0] == '-'
		rest = rest[1:]
	}

	var total time.Duration
	for len(rest) > 0 {
		// Leading number, integer or fractional.
		cut := strings.IndexFunc(rest, func(r rune) bool {
			return r != '.' && (r < '0' || r > '9')
		})
		if cut <= 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		value, err := strconv.ParseFloat(rest[:cut], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		rest = rest[cut:]

		// Unit runs until the next number starts.
		cut = strings.IndexFunc(rest, func(r rune) bool {
			return r == '.' || (r >= '0' && r <= '9')
		})
		if cut < 0 {
			cut = len(rest)
		}
		scale, ok := unitScale(rest[:cut])
		if !ok {
			return 0, fmt.Errorf("unknown unit %q in duration: %s", rest[:cut], s)
		}
		rest = rest[cut:]

		total += time.Duration(value * float64(scale))
	}

	if negative {
		total = -total
	}
	return total, nil
}

func unitScale(unit string) (time.Duration, bool) {
	switch unit {
	case "ns":
		return time.Nanosecond, true
	case "us", "µs", "μs":
		return time.Microsecond, true
	case "ms":
		return time.Millisecond, true
	case "s":
		return time.Second, true
	case "m":
		return time.Minute, true
	case "h":
		return time.Hour, true
	case "d":
		return Day, true
	case "w":
		return Week, true
	}
	return 0, false
}
