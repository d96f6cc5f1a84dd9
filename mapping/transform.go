package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransformKind names one of the closed set of value rewrites a field
// mapping may declare. Arbitrary code is deliberately not supported: every
// rewrite the engine can perform is enumerable and reviewable.
type TransformKind string

const (
	// KindLower lower-cases a text value.
	KindLower TransformKind = "lower"
	// KindUpper upper-cases a text value.
	KindUpper TransformKind = "upper"
	// KindTrim removes surrounding whitespace from a text value.
	KindTrim TransformKind = "trim"
	// KindEnum rewrites enumeration literals via a declared value table.
	KindEnum TransformKind = "enum"
	// KindCast coerces the value to another primitive type.
	KindCast TransformKind = "cast"
	// KindNullIf turns a declared sentinel value into NULL.
	KindNullIf TransformKind = "null_if"
)

// Cast targets accepted by KindCast.
const (
	CastInteger   = "integer"
	CastFloat     = "float"
	CastText      = "text"
	CastBoolean   = "boolean"
	CastTimestamp = "timestamp"
)

// Transform is one declared value rewrite. Exactly one kind applies; the
// remaining fields parameterize it.
type Transform struct {
	Kind TransformKind `yaml:"kind" json:"kind"`
	// To is the cast target for KindCast.
	To string `yaml:"to,omitempty" json:"to,omitempty"`
	// Values is the rewrite table for KindEnum.
	Values map[string]string `yaml:"values,omitempty" json:"values,omitempty"`
	// Strict makes KindEnum fail the row on literals missing from Values
	// instead of passing them through.
	Strict bool `yaml:"strict,omitempty" json:"strict,omitempty"`
	// NullIf is the sentinel literal for KindNullIf.
	NullIf string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Validate checks that the transform declaration is complete.
func (t *Transform) Validate() error {
	switch t.Kind {
	case KindLower, KindUpper, KindTrim:
		return nil
	case KindEnum:
		if len(t.Values) == 0 {
			return fmt.Errorf("enum transform needs a values table")
		}
		return nil
	case KindCast:
		switch t.To {
		case CastInteger, CastFloat, CastText, CastBoolean, CastTimestamp:
			return nil
		}
		return fmt.Errorf("unknown cast target %q", t.To)
	case KindNullIf:
		if t.NullIf == "" {
			return fmt.Errorf("null_if transform needs a sentinel value")
		}
		return nil
	}
	return fmt.Errorf("unknown transform kind %q", t.Kind)
}

// TextOnly reports whether the transform only makes sense on text input.
func (t *Transform) TextOnly() bool {
	switch t.Kind {
	case KindLower, KindUpper, KindTrim, KindEnum:
		return true
	}
	return false
}

// Apply rewrites a single raw value. NULL passes through untouched for
// every kind. Errors are row errors: the caller skips the row and records
// the cause, the table keeps going.
func (t *Transform) Apply(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch t.Kind {
	case KindLower:
		s, err := textValue(value)
		if err != nil {
			return nil, fmt.Errorf("lower: %w", err)
		}
		return strings.ToLower(s), nil
	case KindUpper:
		s, err := textValue(value)
		if err != nil {
			return nil, fmt.Errorf("upper: %w", err)
		}
		return strings.ToUpper(s), nil
	case KindTrim:
		s, err := textValue(value)
		if err != nil {
			return nil, fmt.Errorf("trim: %w", err)
		}
		return strings.TrimSpace(s), nil
	case KindEnum:
		s, err := textValue(value)
		if err != nil {
			return nil, fmt.Errorf("enum: %w", err)
		}
		if mapped, ok := t.Values[s]; ok {
			return mapped, nil
		}
		if t.Strict {
			return nil, fmt.Errorf("enum: literal %q not in value table", s)
		}
		return s, nil
	case KindCast:
		return castValue(value, t.To)
	case KindNullIf:
		s, err := textValue(value)
		if err == nil && s == t.NullIf {
			return nil, nil
		}
		if err != nil && fmt.Sprint(value) == t.NullIf {
			return nil, nil
		}
		return value, nil
	}
	return nil, fmt.Errorf("unknown transform kind %q", t.Kind)
}

// textValue narrows a scanned value to a string. Drivers disagree on text
// representation: some return string, some []byte.
func textValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", fmt.Errorf("value %v (%T) is not text", value, value)
}

func castValue(value any, to string) (any, error) {
	switch to {
	case CastInteger:
		return castInteger(value)
	case CastFloat:
		return castFloat(value)
	case CastText:
		return castText(value)
	case CastBoolean:
		return castBoolean(value)
	case CastTimestamp:
		return castTimestamp(value)
	}
	return nil, fmt.Errorf("unknown cast target %q", to)
}

func castInteger(value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("cast integer: %v has a fractional part", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string, []byte:
		s, _ := textValue(v)
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cast integer: %q is not an integer", s)
		}
		return n, nil
	}
	return nil, fmt.Errorf("cast integer: unsupported value type %T", value)
}

func castFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string, []byte:
		s, _ := textValue(v)
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("cast float: %q is not a number", s)
		}
		return f, nil
	}
	return nil, fmt.Errorf("cast float: unsupported value type %T", value)
}

func castText(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	}
	return fmt.Sprint(value), nil
}

func castBoolean(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("cast boolean: %d is neither 0 nor 1", v)
	case string, []byte:
		s, _ := textValue(v)
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, fmt.Errorf("cast boolean: %q is not a boolean literal", s)
	}
	return nil, fmt.Errorf("cast boolean: unsupported value type %T", value)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func castTimestamp(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		// Epoch seconds, the common legacy representation.
		return time.Unix(v, 0).UTC(), nil
	case string, []byte:
		s, _ := textValue(v)
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("cast timestamp: %q matches no known layout", s)
	}
	return nil, fmt.Errorf("cast timestamp: unsupported value type %T", value)
}
