package models

// PaginationType names a pagination strategy
type PaginationType string

const (
	PaginationNone           PaginationType = "none"
	PaginationQueryParam     PaginationType = "query_param"
	PaginationPath           PaginationType = "path"
	PaginationNextButton     PaginationType = "next_button"
	PaginationInfiniteScroll PaginationType = "infinite_scroll"
)

// PaginationConfig describes how to move from one page of results to the next
type PaginationConfig struct {
	Type         PaginationType `json:"type" validate:"omitempty,oneof=none query_param path next_button infinite_scroll"`
	Param        string         `json:"param,omitempty"`         // query_param: parameter name, default "page"
	StartPage    int            `json:"start_page,omitempty"`    // query_param/path: first page number, default 1
	PathTemplate string         `json:"path_template,omitempty"` // path: URL containing {page}
	NextSelector string         `json:"next_selector,omitempty"` // next_button: selector of the next link
	MaxPages     int            `json:"max_pages,omitempty" validate:"omitempty,min=1"`
	MinPages     int            `json:"min_pages,omitempty" validate:"omitempty,min=0"` // Pages always visited before the empty-page stop applies
}

// TypeOrDefault returns the pagination type, defaulting to none
func (p PaginationConfig) TypeOrDefault() PaginationType {
	if p.Type == "" {
		return PaginationNone
	}
	return p.Type
}
