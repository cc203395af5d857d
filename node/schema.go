package node

import (
	"net/mail"
	"net/url"
	"regexp"
	"time"

	"github.com/xraph/journey"
)

// FieldType enumerates the primitive types a config field may declare.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeEmail  FieldType = "email"
	TypeURL    FieldType = "url"
	TypeDate   FieldType = "date"
)

// Field declares one config field of a node schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool

	// Min and Max bound numeric values (inclusive).
	Min *float64
	Max *float64

	// MinLen and MaxLen bound string lengths (inclusive).
	MinLen *int
	MaxLen *int

	// Pattern is a regular expression string values must match.
	Pattern string

	// Enum restricts string values to a fixed set.
	Enum []string
}

// dateLayouts are the accepted formats for TypeDate fields.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ValidateConfig checks cfg against the declared fields and collects
// every violation. Returns nil when the config is valid.
func ValidateConfig(fields []Field, cfg map[string]any) *journey.ValidationError {
	var verr journey.ValidationError

	for _, f := range fields {
		val, present := cfg[f.Name]
		if !present || val == nil {
			if f.Required {
				verr.Add(f.Name, "required")
			}
			continue
		}
		checkField(&verr, f, val)
	}

	if verr.Empty() {
		return nil
	}
	return &verr
}

func checkField(verr *journey.ValidationError, f Field, val any) {
	switch f.Type {
	case TypeString, TypeEmail, TypeURL, TypeDate:
		s, ok := val.(string)
		if !ok {
			verr.Add(f.Name, "expected %s, got %T", f.Type, val)
			return
		}
		checkString(verr, f, s)
	case TypeInt:
		n, ok := asFloat(val)
		if !ok || n != float64(int64(n)) {
			verr.Add(f.Name, "expected int, got %v", val)
			return
		}
		checkRange(verr, f, n)
	case TypeFloat:
		n, ok := asFloat(val)
		if !ok {
			verr.Add(f.Name, "expected float, got %T", val)
			return
		}
		checkRange(verr, f, n)
	case TypeBool:
		if _, ok := val.(bool); !ok {
			verr.Add(f.Name, "expected bool, got %T", val)
		}
	case TypeArray:
		if _, ok := val.([]any); !ok {
			verr.Add(f.Name, "expected array, got %T", val)
		}
	default:
		verr.Add(f.Name, "unknown field type %q", f.Type)
	}
}

func checkString(verr *journey.ValidationError, f Field, s string) {
	if f.MinLen != nil && len(s) < *f.MinLen {
		verr.Add(f.Name, "length %d below minimum %d", len(s), *f.MinLen)
	}
	if f.MaxLen != nil && len(s) > *f.MaxLen {
		verr.Add(f.Name, "length %d above maximum %d", len(s), *f.MaxLen)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			verr.Add(f.Name, "invalid pattern %q: %v", f.Pattern, err)
		} else if !re.MatchString(s) {
			verr.Add(f.Name, "value %q does not match pattern %q", s, f.Pattern)
		}
	}
	if len(f.Enum) > 0 && !contains(f.Enum, s) {
		verr.Add(f.Name, "value %q not in %v", s, f.Enum)
	}

	switch f.Type {
	case TypeEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			verr.Add(f.Name, "invalid email address %q", s)
		}
	case TypeURL:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			verr.Add(f.Name, "invalid url %q", s)
		}
	case TypeDate:
		if !parseableDate(s) {
			verr.Add(f.Name, "invalid date %q, expected one of %v", s, dateLayouts)
		}
	}
}

func checkRange(verr *journey.ValidationError, f Field, n float64) {
	if f.Min != nil && n < *f.Min {
		verr.Add(f.Name, "value %v below minimum %v", n, *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		verr.Add(f.Name, "value %v above maximum %v", n, *f.Max)
	}
}

func parseableDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// asFloat widens the numeric types a JSON-decoded config map may carry.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(set []string, s string) bool {
	for _, item := range set {
		if item == s {
			return true
		}
	}
	return false
}

// FloatPtr is a convenience for declaring Min/Max bounds inline.
func FloatPtr(f float64) *float64 { return &f }

// IntPtr is a convenience for declaring MinLen/MaxLen bounds inline.
func IntPtr(i int) *int { return &i }

// ConfigString extracts a string config value, with an empty default.
func ConfigString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// ConfigInt extracts an integer config value, returning def when the key
// is absent or not numeric.
func ConfigInt(cfg map[string]any, key string, def int) int {
	n, ok := asFloat(cfg[key])
	if !ok {
		return def
	}
	return int(n)
}
