package runner

import "github.com/ternarybob/quarry/internal/models"

// PageSignal describes a fetched page to an escalation policy
type PageSignal struct {
	URL          string
	Strategy     models.FetchStrategy
	StatusCode   int
	ItemSelector string // Empty in whole-page mode
	ItemCount    int    // Repeating elements found, or rule selectors matched in whole-page mode
	ContentBytes int
}

// EscalationPolicy decides whether a hybrid run refetches a page with the
// browser strategy
type EscalationPolicy interface {
	ShouldEscalate(signal PageSignal) bool
}

// EscalationFunc adapts a function to EscalationPolicy
type EscalationFunc func(signal PageSignal) bool

// ShouldEscalate implements EscalationPolicy
func (f EscalationFunc) ShouldEscalate(signal PageSignal) bool {
	return f(signal)
}

// EmptyPagePolicy escalates an http fetch that yielded no repeating elements
type EmptyPagePolicy struct{}

// ShouldEscalate implements EscalationPolicy
func (EmptyPagePolicy) ShouldEscalate(signal PageSignal) bool {
	return signal.Strategy == models.FetchHTTP && signal.ItemCount == 0
}
