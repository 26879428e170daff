package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/ternarybob/quarry/internal/models"
)

// Coerce converts a value produced outside the rule pipeline, such as an
// llm capture, to the declared data type
func Coerce(value interface{}, dataType models.DataType) (interface{}, error) {
	return coerce(value, dataType)
}

// coerce converts a transformed value to the declared data type. An
// undeclared type keeps whatever the transform produced.
func coerce(value interface{}, dataType models.DataType) (interface{}, error) {
	if value == nil || dataType == "" {
		return value, nil
	}

	switch dataType {
	case models.DataTypeString:
		return stringForm(value)

	case models.DataTypeInteger:
		switch v := value.(type) {
		case string:
			s := strings.TrimSpace(v)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return integral(f)
		case float64:
			return integral(v)
		case float32:
			return integral(float64(v))
		default:
			return cast.ToInt64E(v)
		}

	case models.DataTypeNumber:
		if s, ok := value.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", s)
			}
			return f, nil
		}
		return cast.ToFloat64E(value)

	case models.DataTypeBoolean:
		if s, ok := value.(string); ok {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "yes", "y", "on", "✓":
				return true, nil
			case "no", "n", "off", "":
				return false, nil
			}
		}
		return cast.ToBoolE(value)

	case models.DataTypeDate:
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			t, err := parseDate(strings.TrimSpace(v), "", "")
			if err != nil {
				return nil, err
			}
			return t.Format(time.RFC3339), nil
		default:
			return nil, fmt.Errorf("cannot convert %T to a date", value)
		}

	case models.DataTypeJSON:
		if s, ok := value.(string); ok {
			var decoded interface{}
			if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &decoded); err != nil {
				return nil, fmt.Errorf("value is not valid JSON")
			}
			return decoded, nil
		}
		return value, nil

	default:
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
}

func integral(f float64) (interface{}, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

// stringForm renders a value the way validation patterns and string columns see it
func stringForm(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return cast.ToStringE(v)
	}
}
