package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform is a pure value-to-value function. Every transform maps nil to
// nil and malformed input to nil; transforms never panic.
type Transform func(any) any

// registry holds the fixed transform set keyed by transform ID.
var registry = map[string]Transform{
	// boolean
	"yesNo":      boolTransform("Yes", "No"),
	"yesNoLower": boolTransform("yes", "no"),
	"YN":         boolTransform("Y", "N"),
	"oneZero":    boolTransform(1, 0),
	"truefalse":  boolTransform("true", "false"),

	// string
	"uppercase":   stringTransform(strings.ToUpper),
	"lowercase":   stringTransform(strings.ToLower),
	"titlecase":   stringTransform(cases.Title(language.AmericanEnglish).String),
	"trim":        stringTransform(strings.TrimSpace),
	"truncate50":  truncate(50),
	"truncate100": truncate(100),
	"truncate255": truncate(255),

	// phone
	"digitsOnly":  phoneTransform(func(d string) any { return d }),
	"e164":        phoneTransform(formatE164),
	"dashed":      phoneTransform(formatNANP("%s-%s-%s")),
	"dotted":      phoneTransform(formatNANP("%s.%s.%s")),
	"parentheses": phoneTransform(formatNANP("(%s) %s-%s")),

	// date
	"isoDate":     dateTransform(func(t time.Time) any { return t.Format("2006-01-02") }),
	"usDate":      dateTransform(func(t time.Time) any { return t.Format("01/02/2006") }),
	"usDateShort": dateTransform(func(t time.Time) any { return t.Format("1/2/06") }),
	"timestamp":   dateTransform(func(t time.Time) any { return t.Unix() }),
	"timestampMs": dateTransform(func(t time.Time) any { return t.UnixMilli() }),
	"iso8601":     dateTransform(func(t time.Time) any { return t.UTC().Format(time.RFC3339) }),

	// number
	"integer":     numberTransform(func(f float64) any { return int64(f) }),
	"round":       numberTransform(func(f float64) any { return int64(math.Round(f)) }),
	"twoDecimals": numberTransform(func(f float64) any { return strconv.FormatFloat(f, 'f', 2, 64) }),
	"currency":    numberTransform(func(f float64) any { return "$" + strconv.FormatFloat(f, 'f', 2, 64) }),
	"percentage":  numberTransform(func(f float64) any { return strconv.FormatFloat(f, 'f', 0, 64) + "%" }),

	// service enums
	"windowTypeCode": codeTable(map[string]string{
		"double_hung": "DH",
		"casement":    "CA",
		"sliding":     "SL",
		"bay":         "BY",
		"picture":     "PI",
		"awning":      "AW",
	}),
	"roofTypeCode": codeTable(map[string]string{
		"asphalt_shingle": "AS",
		"metal":           "MT",
		"tile":            "TL",
		"flat":            "FL",
		"slate":           "ST",
		"wood_shake":      "WS",
	}),
	"timeframeCode": codeTable(map[string]string{
		"immediate":  "IMM",
		"1_3_months": "1-3M",
		"3_6_months": "3-6M",
		"flexible":   "FLEX",
	}),
}

// Apply runs the named transform. Unknown IDs pass the value through
// unchanged; nil input is always nil.
func Apply(transformID string, v any) any {
	if v == nil {
		return nil
	}
	fn, ok := registry[transformID]
	if !ok {
		return v
	}
	return fn(v)
}

// HasTransform reports whether the ID names a registered transform.
func HasTransform(transformID string) bool {
	_, ok := registry[transformID]
	return ok
}

// TransformIDs lists all registered transform IDs.
func TransformIDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}

// Input coercion helpers. All return ok=false on malformed input, which the
// transform surfaces as nil.

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "yes", "y", "true", "1":
			return true, true
		case "no", "n", "false", "0", "":
			return false, true
		}
		return false, false
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case json.Number:
		return val.String() != "0", true
	default:
		return false, false
	}
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		// Epoch seconds or milliseconds as a string.
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n), true
		}
		return time.Time{}, false
	case float64:
		return epochToTime(int64(val)), true
	case int64:
		return epochToTime(val), true
	default:
		return time.Time{}, false
	}
}

func epochToTime(n int64) time.Time {
	// Heuristic: values past the year 33658 in seconds are milliseconds.
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func boolTransform(yes, no any) Transform {
	return func(v any) any {
		b, ok := toBool(v)
		if !ok {
			return nil
		}
		if b {
			return yes
		}
		return no
	}
}

func stringTransform(fn func(string) string) Transform {
	return func(v any) any {
		s, ok := toString(v)
		if !ok {
			return nil
		}
		return fn(s)
	}
}

func truncate(max int) Transform {
	return func(v any) any {
		s, ok := toString(v)
		if !ok {
			return nil
		}
		if len(s) <= max {
			return s
		}
		// Back the cut off to a rune boundary so a multi-byte character
		// is never split mid-sequence.
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut]
	}
}

func phoneTransform(fn func(digits string) any) Transform {
	return func(v any) any {
		s, ok := toString(v)
		if !ok {
			return nil
		}
		var digits strings.Builder
		for _, r := range s {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		d := digits.String()
		if d == "" {
			return nil
		}
		return fn(d)
	}
}

// formatE164 normalizes 10- and 11-digit North American numbers to +1XXXXXXXXXX.
func formatE164(d string) any {
	switch {
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	default:
		return nil
	}
}

func formatNANP(layout string) func(string) any {
	return func(d string) any {
		if len(d) == 11 && d[0] == '1' {
			d = d[1:]
		}
		if len(d) != 10 {
			return nil
		}
		return fmt.Sprintf(layout, d[0:3], d[3:6], d[6:10])
	}
}

func dateTransform(fn func(time.Time) any) Transform {
	return func(v any) any {
		t, ok := toTime(v)
		if !ok {
			return nil
		}
		return fn(t)
	}
}

func numberTransform(fn func(float64) any) Transform {
	return func(v any) any {
		f, ok := toFloat(v)
		if !ok {
			return nil
		}
		return fn(f)
	}
}

func codeTable(table map[string]string) Transform {
	return func(v any) any {
		s, ok := toString(v)
		if !ok {
			return nil
		}
		code, ok := table[strings.ToLower(strings.TrimSpace(s))]
		if !ok {
			return nil
		}
		return code
	}
}
