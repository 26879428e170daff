package common

import (
	"github.com/google/uuid"
)

// ID prefixes by entity
const (
	PrefixWebSource  = "src"
	PrefixAssignment = "asg"
	PrefixRule       = "rule"
	PrefixJob        = "job"
	PrefixLog        = "log"
)

// NewID generates a unique entity ID of the form <prefix>_<uuid>
func NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
