package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Payload is the provider-neutral notification content.
// It is shared by every concurrent attempt of a request and must not be
// modified once built.
type Payload struct {
	Title    string
	Body     string
	Icon     string
	Badge    string
	Image    string
	URL      string
	Sound    string
	Priority Priority
	// TTL of zero means the adapter default.
	TTL  time.Duration
	Data Data
}

// Validate checks the fields every adapter relies on.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return Invalid("title is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return Invalid("body is required")
	}
	switch p.Priority {
	case PriorityHigh, PriorityNormal:
	default:
		return Invalid("priority must be %q or %q", PriorityHigh, PriorityNormal)
	}
	if p.TTL < 0 {
		return Invalid("ttl must not be negative")
	}
	return nil
}

// IsHighPriority is a convenience for the adapters' priority mapping.
func (p *Payload) IsHighPriority() bool {
	return p.Priority == PriorityHigh
}

// DataKind tags the variant held by a DataValue.
type DataKind int

const (
	DataString DataKind = iota
	DataNumber
	DataBool
)

// DataValue is a string, number or bool carried in the payload data map.
type DataValue struct {
	kind DataKind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) DataValue  { return DataValue{kind: DataString, str: s} }
func NumberValue(n float64) DataValue { return DataValue{kind: DataNumber, num: n} }
func BoolValue(b bool) DataValue      { return DataValue{kind: DataBool, b: b} }

func (v DataValue) Kind() DataKind { return v.kind }

// String renders the value the way string-only providers (FCM) need it.
func (v DataValue) String() string {
	switch v.kind {
	case DataNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case DataBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// Interface returns the native Go value.
func (v DataValue) Interface() any {
	switch v.kind {
	case DataNumber:
		return v.num
	case DataBool:
		return v.b
	default:
		return v.str
	}
}

func (v DataValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *DataValue) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("empty data value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	default:
		return fmt.Errorf("data values must be a string, number or bool, got %s", string(raw))
	}
	return nil
}

// Data is the payload's custom key/value map.
type Data map[string]DataValue

// Strings coerces every value to its string form.
func (d Data) Strings() map[string]string {
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v.String()
	}
	return out
}

// Native returns the values as plain Go types, suitable for JSON bodies.
func (d Data) Native() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.Interface()
	}
	return out
}

// Clone returns an independent copy.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}
