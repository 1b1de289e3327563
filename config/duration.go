package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Infinite disables a socket timeout.
const Infinite Duration = -1

// Duration is a time.Duration that reads from text in every config format.
// It accepts Go duration strings ("250ms"), bare integers as milliseconds,
// and "infinite" for no limit.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the string representation of Duration
func (d Duration) String() string {
	if d < 0 {
		return "infinite"
	}
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.EqualFold(s, "infinite") {
		*d = Infinite
		return nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			*d = Infinite
			return nil
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, ErrConfigParseError)
	}
	if v < 0 {
		v = time.Duration(Infinite)
	}
	*d = Duration(v)
	return nil
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	if s, err := strconv.Unquote(string(data)); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	return d.UnmarshalText(data)
}
