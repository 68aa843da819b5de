package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// timeLayouts are tried in order. Values without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time is a UTC timestamp that decodes from the layouts above. The zero
// value means unset.
type Time struct {
	time.Time
}

// ParseTime parses s with the first matching layout.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// UnmarshalYAML reads the raw scalar so YAML's own timestamp resolution does
// not interfere.
func (t *Time) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: time must be a scalar", value.Line)
	}
	if value.Value == "" || value.Tag == "!!null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTime(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	t.Time = parsed
	return nil
}

// MarshalYAML writes RFC3339, or null when unset.
func (t Time) MarshalYAML() (any, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(time.RFC3339), nil
}

// Decode implements envconfig.Decoder.
func (t *Time) Decode(value string) error {
	parsed, err := ParseTime(value)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// UnmarshalText accepts the same layouts as Decode.
func (t *Time) UnmarshalText(text []byte) error {
	return t.Decode(string(text))
}
