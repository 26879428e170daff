package models

import "strings"

// ColumnSchema describes one column of a target table
type ColumnSchema struct {
	Name         string `json:"name" db:"name"`
	DataType     string `json:"data_type" db:"data_type"`
	Nullable     bool   `json:"nullable" db:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key" db:"is_primary_key"`
}

// RuleDataType maps the column's SQL type onto the type extracted values are coerced to
func (c ColumnSchema) RuleDataType() DataType {
	t := strings.ToLower(c.DataType)
	switch {
	case t == "interval" || t == "point":
		return DataTypeString
	case strings.Contains(t, "int") || t == "serial" || t == "bigserial":
		return DataTypeInteger
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal") ||
		strings.Contains(t, "real") || strings.Contains(t, "double") || strings.Contains(t, "float"):
		return DataTypeNumber
	case strings.HasPrefix(t, "bool"):
		return DataTypeBoolean
	case strings.HasPrefix(t, "date") || strings.HasPrefix(t, "timestamp"):
		return DataTypeDate
	case strings.HasPrefix(t, "json"):
		return DataTypeJSON
	default:
		return DataTypeString
	}
}

// TableSchema describes a table in the target database
type TableSchema struct {
	Schema  string         `json:"schema"`
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// Column returns the named column, or nil
func (t *TableSchema) Column(name string) *ColumnSchema {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// RowError records why a single row failed to insert
type RowError struct {
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// InsertResult is the row-partitioned outcome of an insert batch
type InsertResult struct {
	Inserted int        `json:"inserted"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors,omitempty"`
}
