// -----------------------------------------------------------------------
// Extraction Rule - Maps one target column to one page location
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// SelectorKind is the selector language of a rule
type SelectorKind string

const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
)

// DataType is the declared type a field value is coerced to
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeJSON    DataType = "json"
)

// Well-known attribute names. Any other name reads the DOM attribute literally.
const (
	AttributeText = "text"
	AttributeHref = "href"
	AttributeSrc  = "src"
	AttributeHTML = "html"
)

// ExtractionRule is one ordered mapping from a target column to a page location
type ExtractionRule struct {
	ID              string       `json:"id"`
	AssignmentID    string       `json:"assignment_id" validate:"required"`
	TargetColumn    string       `json:"target_column" validate:"required"`
	Selector        string       `json:"selector" validate:"required"`
	SelectorKind    SelectorKind `json:"selector_kind" validate:"omitempty,oneof=css xpath"`
	Attribute       string       `json:"attribute"` // text, href, src, html or any DOM attribute name
	Transform       *Transform   `json:"transform,omitempty"`
	DefaultValue    *string      `json:"default_value,omitempty"`
	DataType        DataType     `json:"data_type" validate:"omitempty,oneof=string integer number boolean date json"`
	IsRequired      bool         `json:"is_required"`
	ValidationRegex string       `json:"validation_regex,omitempty"`
	SortOrder       int          `json:"sort_order"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Kind returns the selector kind, defaulting to css
func (r *ExtractionRule) Kind() SelectorKind {
	if r.SelectorKind == "" {
		return SelectorCSS
	}
	return r.SelectorKind
}

// AttributeOrDefault returns the attribute to read, defaulting to text
func (r *ExtractionRule) AttributeOrDefault() string {
	if r.Attribute == "" {
		return AttributeText
	}
	return r.Attribute
}

// DataTypeOrDefault returns the declared type, defaulting to string
func (r *ExtractionRule) DataTypeOrDefault() DataType {
	if r.DataType == "" {
		return DataTypeString
	}
	return r.DataType
}
