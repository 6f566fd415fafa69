package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// naiveLayouts are tried in order; fractional seconds are accepted by the first two
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// NaiveTime is an ISO 8601 date-time without a timezone, interpreted as UTC
type NaiveTime struct {
	t time.Time
}

// NewNaiveTime wraps t, dropping its location
func NewNaiveTime(t time.Time) NaiveTime {
	return NaiveTime{t: t.UTC()}
}

// ParseNaiveTime parses s as a naive date-time. RFC 3339 values with an
// offset are accepted too and converted to UTC.
func ParseNaiveTime(s string) (NaiveTime, error) {
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NaiveTime{t: t}, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NaiveTime{t: t.UTC()}, nil
	}
	return NaiveTime{}, fmt.Errorf("invalid ISO 8601 date-time %q", s)
}

// Time returns the UTC time
func (n NaiveTime) Time() time.Time { return n.t }

func (n NaiveTime) String() string {
	return n.t.Format("2006-01-02T15:04:05.999999999")
}

func (n NaiveTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *NaiveTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseNaiveTime(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// JSONSchema describes NaiveTime as a plain string; "date-time" would demand an offset
func (NaiveTime) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string"}
}
