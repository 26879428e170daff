package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/ternarybob/quarry/internal/models"
)

// patternCache memoises compiled regular expressions
type patternCache struct {
	compiled sync.Map
}

func (c *patternCache) get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.compiled.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.compiled.Store(pattern, re)
	return re, nil
}

// applyTransform runs the single transform stage of a rule over the raw value.
// A nil variant config behaves as the zero config of its kind.
func (e *Evaluator) applyTransform(raw string, t *models.Transform) (interface{}, error) {
	if t == nil {
		return raw, nil
	}

	switch t.Kind {
	case models.TransformTrim:
		return strings.TrimSpace(raw), nil

	case models.TransformRegex:
		if t.Regex == nil {
			return nil, fmt.Errorf("regex transform has no pattern")
		}
		re, err := e.patterns.get(t.Regex.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		match := re.FindStringSubmatch(raw)
		if match == nil {
			return nil, fmt.Errorf("pattern %q did not match", t.Regex.Pattern)
		}
		group := 0
		if re.NumSubexp() > 0 {
			group = 1
		}
		if t.Regex.Group != nil {
			group = *t.Regex.Group
		}
		if group >= len(match) {
			return nil, fmt.Errorf("pattern has no group %d", group)
		}
		return match[group], nil

	case models.TransformDate:
		cfg := models.DateTransform{}
		if t.Date != nil {
			cfg = *t.Date
		}
		parsed, err := parseDate(strings.TrimSpace(raw), cfg.Format, cfg.Timezone)
		if err != nil {
			return nil, err
		}
		return parsed.Format(time.RFC3339), nil

	case models.TransformNumber:
		cfg := models.NumberTransform{}
		if t.Number != nil {
			cfg = *t.Number
		}
		return parseLocaleNumber(raw, cfg.DecimalSeparator, cfg.ThousandsSeparator)

	case models.TransformJSON:
		path := ""
		if t.JSON != nil {
			path = t.JSON.Path
		}
		return extractJSON(raw, path)

	case models.TransformCustom:
		if t.Custom == nil {
			return nil, fmt.Errorf("custom transform has no name")
		}
		fn, ok := e.registry.Lookup(t.Custom.Name)
		if !ok {
			return nil, fmt.Errorf("custom transform %q is not registered", t.Custom.Name)
		}
		return fn(raw, t.Custom.Args)

	default:
		return nil, fmt.Errorf("unknown transform kind %q", t.Kind)
	}
}

// dateLayouts are tried in order when a date transform has no format
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	"Monday, January 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	"2 Jan 2006",
}

// dateTokens maps moment-style format tokens to Go layout elements.
// Longer tokens are listed first; goLayout takes the first match.
var dateTokens = []struct{ token, layout string }{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"DD", "02"},
	{"D", "2"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"HH", "15"},
	{"H", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"SSS", "000"},
	{"A", "PM"},
	{"ZZ", "-0700"},
	{"Z", "-07:00"},
}

// dateLayoutCheck is formatted and parsed back to confirm a layout is usable
var dateLayoutCheck = time.Date(2024, time.November, 23, 17, 45, 9, 0, time.FixedZone("", -5*3600))

// goLayout converts a date format into a Go layout. Formats containing
// 2006 are taken as Go layouts already. Otherwise every letter must
// belong to a token, except a literal T between date and time; digits
// are rejected because Go reads them as layout elements.
func goLayout(format string) (string, error) {
	if strings.Contains(format, "2006") {
		return format, checkLayout(format, format)
	}

	var b strings.Builder
	tokens := 0
	for i := 0; i < len(format); {
		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok.token) {
				b.WriteString(tok.layout)
				i += len(tok.token)
				tokens++
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		r, size := utf8.DecodeRuneInString(format[i:])
		switch {
		case r == 'T':
		case unicode.IsLetter(r):
			return "", fmt.Errorf("date format %q: unsupported token %q", format, string(r))
		case unicode.IsDigit(r):
			return "", fmt.Errorf("date format %q: digits are not allowed outside a Go layout", format)
		}
		b.WriteString(format[i : i+size])
		i += size
	}
	if tokens == 0 {
		return "", fmt.Errorf("date format %q has no date or time tokens", format)
	}
	return b.String(), checkLayout(format, b.String())
}

func checkLayout(format, layout string) error {
	if _, err := time.Parse(layout, dateLayoutCheck.Format(layout)); err != nil {
		return fmt.Errorf("date format %q cannot be parsed: %w", format, err)
	}
	return nil
}

func parseDate(value, format, timezone string) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}

	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}

	if format != "" {
		layout, err := goLayout(format)
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q does not match format %q", value, format)
		}
		return t, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// parseLocaleNumber reads the first number in text, dropping currency
// symbols and thousands separators.
func parseLocaleNumber(text, decimalSep, thousandsSep string) (float64, error) {
	if decimalSep == "" {
		decimalSep = "."
	}
	if thousandsSep == "" {
		thousandsSep = ","
		if decimalSep == "," {
			thousandsSep = "."
		}
	}
	dec := []rune(decimalSep)[0]
	thou := []rune(thousandsSep)[0]

	runes := []rune(text)
	start := -1
	for i, r := range runes {
		if unicode.IsDigit(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("no numeric content in %q", strings.TrimSpace(text))
	}
	if start > 0 && runes[start-1] == dec {
		start--
	}

	// A minus sign directly before the number, or accounting parentheses
	// around it, make it negative. Currency and spaces may sit in between.
	negative, opened := false, false
	for i := start - 1; i >= 0; i-- {
		r := runes[i]
		if r == '-' || r == '−' {
			negative = true
			break
		}
		if r == '(' {
			opened = true
			break
		}
		if unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		break
	}

	var b strings.Builder
	end := len(runes)
scan:
	for i := start; i < len(runes); i++ {
		r := runes[i]
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == dec:
			b.WriteRune('.')
		case r == thou:
		default:
			end = i
			break scan
		}
	}

	if opened {
		for _, r := range runes[end:] {
			if r == ')' {
				negative = true
				break
			}
			if unicode.IsSpace(r) || unicode.IsSymbol(r) {
				continue
			}
			break
		}
	}

	digits := b.String()
	if negative {
		digits = "-" + digits
	}
	n, err := strconv.ParseFloat(strings.TrimRight(digits, "."), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", strings.TrimSpace(text))
	}
	return n, nil
}

func extractJSON(raw, path string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("value is not valid JSON")
	}
	if path == "" {
		return gjson.Parse(raw).Value(), nil
	}
	result := gjson.Get(raw, path)
	if !result.Exists() {
		return nil, fmt.Errorf("JSON path %q not found", path)
	}
	return result.Value(), nil
}
