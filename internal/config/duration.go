package config

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "200ms" or "5s" in config files.
// Bare numbers are read as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch x := v.(type) {
	case string:
		p, err := ParseDuration(x)
		if err != nil {
			return err
		}
		*d = p
	case float64:
		*d = Duration(time.Duration(x) * time.Millisecond)
	case int:
		*d = Duration(time.Duration(x) * time.Millisecond)
	default:
		return errors.Newf("invalid duration %v", v)
	}
	return nil
}

// ParseDuration accepts Go duration syntax or a bare millisecond count.
func ParseDuration(s string) (Duration, error) {
	if td, err := time.ParseDuration(s); err == nil {
		return Duration(td), nil
	}
	var ms int64
	if err := json.Unmarshal([]byte(s), &ms); err == nil {
		return Duration(time.Duration(ms) * time.Millisecond), nil
	}
	return 0, errors.Newf("invalid duration %q", s)
}
