package models

import "time"

// DetectedField is a field found inside a repeating element during analysis
type DetectedField struct {
	Name        string   `json:"name"`
	Selector    string   `json:"selector"` // Relative to the repeating element
	Attribute   string   `json:"attribute"`
	SampleValue string   `json:"sample_value"`
	DataType    DataType `json:"data_type"`
}

// RepeatingElement is a DOM pattern that recurs on a page, one occurrence per row
type RepeatingElement struct {
	Selector   string          `json:"selector"`
	ItemCount  int             `json:"item_count"`
	SampleHTML string          `json:"sample_html"` // Sanitised markup of the first occurrence
	Fields     []DetectedField `json:"fields"`
}

// DetectedForm describes a form found on the analysed page
type DetectedForm struct {
	Action string   `json:"action"`
	Method string   `json:"method"`
	Inputs []string `json:"inputs"`
}

// WebsiteStructure is the cached result of a structural analysis pass
type WebsiteStructure struct {
	AnalyzedURL       string             `json:"analyzed_url"`
	RepeatingElements []RepeatingElement `json:"repeating_elements"`
	Pagination        PaginationConfig   `json:"pagination"`
	Forms             []DetectedForm     `json:"forms"`
	AnalyzedAt        time.Time          `json:"analyzed_at"`
}

// ColumnSuggestion maps a target column to a suggested selector
type ColumnSuggestion struct {
	Column       string       `json:"column"`
	Selector     string       `json:"selector"`
	SelectorKind SelectorKind `json:"selector_kind"`
	Attribute    string       `json:"attribute"`
	DataType     DataType     `json:"data_type"`
	Confidence   float64      `json:"confidence"` // 0..1
	Reasoning    string       `json:"reasoning,omitempty"`
}
