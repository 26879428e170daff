package models

import "time"

// CaptureColumn describes one column the LLM capture must fill
type CaptureColumn struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	DataType    DataType `json:"data_type"`
	Required    bool     `json:"required"`
}

// CaptureConfig is the structured capture configuration replayed for
// llm-mode assignments
type CaptureConfig struct {
	Provider     string          `json:"provider"`
	ItemHint     string          `json:"item_hint"`    // Plain-language description of one repeating item
	Instructions string          `json:"instructions"` // Extra extraction guidance
	Columns      []CaptureColumn `json:"columns"`
	CreatedAt    time.Time       `json:"created_at"`
}
