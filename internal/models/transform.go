package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// TransformKind names one variant of the transform union
type TransformKind string

const (
	TransformTrim   TransformKind = "trim"
	TransformRegex  TransformKind = "regex"
	TransformDate   TransformKind = "date"
	TransformNumber TransformKind = "number"
	TransformJSON   TransformKind = "json"
	TransformCustom TransformKind = "custom"
)

// RegexTransform extracts a capture group from the raw value
type RegexTransform struct {
	Pattern string `json:"pattern"`
	Group   *int   `json:"group,omitempty"` // Default 1 when the pattern has groups, else 0
}

// DateTransform parses the raw value into an RFC3339 string.
// Format is either a Go layout (detected by the 2006 year element) or
// moment-style tokens: YYYY YY MMMM MMM MM M DD D dddd ddd HH H hh h
// mm m ss s SSS A ZZ Z, with T allowed as a literal. Other letters and
// digits are rejected when the rule is validated. An empty format tries
// a list of common layouts.
type DateTransform struct {
	Format   string `json:"format,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA zone applied when the input has none
}

// NumberTransform parses locale formatted numeric text
type NumberTransform struct {
	DecimalSeparator   string `json:"decimal_separator,omitempty"`   // Default "."
	ThousandsSeparator string `json:"thousands_separator,omitempty"` // Default ","
}

// JSONTransform parses the raw value as JSON and optionally descends a path
type JSONTransform struct {
	Path string `json:"path,omitempty"` // gjson path syntax
}

// CustomTransform invokes a registered transform function by name
type CustomTransform struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// Transform is a closed tagged union over the supported transform kinds.
// Exactly the variant matching Kind is meaningful; the wire form is
// {"kind": "...", "config": {...}}.
type Transform struct {
	Kind   TransformKind
	Regex  *RegexTransform
	Date   *DateTransform
	Number *NumberTransform
	JSON   *JSONTransform
	Custom *CustomTransform
}

type transformWire struct {
	Kind   TransformKind   `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the transform in its kind/config wire form
func (t Transform) MarshalJSON() ([]byte, error) {
	var config interface{}
	switch t.Kind {
	case TransformRegex:
		config = t.Regex
	case TransformDate:
		config = t.Date
	case TransformNumber:
		config = t.Number
	case TransformJSON:
		config = t.JSON
	case TransformCustom:
		config = t.Custom
	}

	wire := transformWire{Kind: t.Kind}
	if config != nil {
		raw, err := json.Marshal(config)
		if err != nil {
			return nil, err
		}
		if string(raw) != "null" && string(raw) != "{}" {
			wire.Config = raw
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the wire form, rejecting unknown kinds and unknown config fields
func (t *Transform) UnmarshalJSON(data []byte) error {
	var wire transformWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("invalid transform: %w", err)
	}

	decoded := Transform{Kind: wire.Kind}
	var target interface{}
	switch wire.Kind {
	case TransformTrim:
		if len(wire.Config) > 0 && !isEmptyJSONObject(wire.Config) {
			return fmt.Errorf("transform trim takes no config")
		}
	case TransformRegex:
		decoded.Regex = &RegexTransform{}
		target = decoded.Regex
	case TransformDate:
		decoded.Date = &DateTransform{}
		target = decoded.Date
	case TransformNumber:
		decoded.Number = &NumberTransform{}
		target = decoded.Number
	case TransformJSON:
		decoded.JSON = &JSONTransform{}
		target = decoded.JSON
	case TransformCustom:
		decoded.Custom = &CustomTransform{}
		target = decoded.Custom
	case "":
		return fmt.Errorf("transform kind is required")
	default:
		return fmt.Errorf("unknown transform kind %q", wire.Kind)
	}

	if target != nil && len(wire.Config) > 0 && string(wire.Config) != "null" {
		dec := json.NewDecoder(bytes.NewReader(wire.Config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return fmt.Errorf("invalid %s transform config: %w", wire.Kind, err)
		}
	}

	if err := decoded.Validate(); err != nil {
		return err
	}
	*t = decoded
	return nil
}

// Validate checks the variant config. Custom names are checked against the
// transform registry by the caller.
func (t *Transform) Validate() error {
	switch t.Kind {
	case TransformTrim:
		return nil
	case TransformRegex:
		if t.Regex == nil || t.Regex.Pattern == "" {
			return fmt.Errorf("regex transform requires a pattern")
		}
		re, err := regexp.Compile(t.Regex.Pattern)
		if err != nil {
			return fmt.Errorf("regex transform pattern: %w", err)
		}
		if g := t.Regex.Group; g != nil && (*g < 0 || *g > re.NumSubexp()) {
			return fmt.Errorf("regex transform group %d out of range (pattern has %d groups)", *g, re.NumSubexp())
		}
		return nil
	case TransformDate:
		return nil
	case TransformNumber:
		if t.Number == nil {
			return nil
		}
		for name, sep := range map[string]string{
			"decimal_separator":   t.Number.DecimalSeparator,
			"thousands_separator": t.Number.ThousandsSeparator,
		} {
			if sep != "" && utf8.RuneCountInString(sep) != 1 {
				return fmt.Errorf("number transform %s must be a single character", name)
			}
		}
		if t.Number.DecimalSeparator != "" && t.Number.DecimalSeparator == t.Number.ThousandsSeparator {
			return fmt.Errorf("number transform separators must differ")
		}
		return nil
	case TransformJSON:
		return nil
	case TransformCustom:
		if t.Custom == nil || t.Custom.Name == "" {
			return fmt.Errorf("custom transform requires a name")
		}
		return nil
	default:
		return fmt.Errorf("unknown transform kind %q", t.Kind)
	}
}

func isEmptyJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return bytes.Equal(trimmed, []byte("null")) || bytes.Equal(bytes.ReplaceAll(trimmed, []byte(" "), nil), []byte("{}"))
}
