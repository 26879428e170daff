package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Row is one extracted record keyed by target column
type Row map[string]interface{}

// StagedPayload is the uncommitted output of one job.
// Rows are held as JSON, inline for small payloads or in a file otherwise.
type StagedPayload struct {
	JobID     string    `json:"job_id"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"row_count"`
	Inline    []byte    `json:"-"`
	FilePath  string    `json:"file_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeRows serialises rows for staging
func EncodeRows(rows []Row) ([]byte, error) {
	return json.Marshal(rows)
}

// DecodeRows restores staged rows. Integral numbers come back as int64
// and the rest as float64.
func DecodeRows(data []byte) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rows []Row
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = normalizeJSONValue(v)
		}
	}
	return rows, nil
}

func normalizeJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		for k, inner := range val {
			val[k] = normalizeJSONValue(inner)
		}
		return val
	case []interface{}:
		for i, inner := range val {
			val[i] = normalizeJSONValue(inner)
		}
		return val
	default:
		return v
	}
}
