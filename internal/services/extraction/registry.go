package extraction

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// TransformFunc is a named custom transform. It receives the raw extracted
// string and the rule's configured arguments.
type TransformFunc func(value string, args map[string]string) (interface{}, error)

// Registry is the allow-list of custom transforms a rule may name
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TransformFunc
}

// NewRegistry creates a registry holding the built-in transforms
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]TransformFunc)}
	r.funcs["lowercase"] = func(v string, _ map[string]string) (interface{}, error) {
		return strings.ToLower(v), nil
	}
	r.funcs["uppercase"] = func(v string, _ map[string]string) (interface{}, error) {
		return strings.ToUpper(v), nil
	}
	r.funcs["replace"] = replaceTransform
	r.funcs["strip_prefix"] = func(v string, args map[string]string) (interface{}, error) {
		return strings.TrimPrefix(strings.TrimSpace(v), args["prefix"]), nil
	}
	r.funcs["strip_suffix"] = func(v string, args map[string]string) (interface{}, error) {
		return strings.TrimSuffix(strings.TrimSpace(v), args["suffix"]), nil
	}
	r.funcs["slugify"] = slugify
	return r
}

// Register adds a custom transform. Names are unique.
func (r *Registry) Register(name string, fn TransformFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("custom transform needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("custom transform %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Lookup returns the transform registered under name
func (r *Registry) Lookup(name string) (TransformFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names lists the registered transforms in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func replaceTransform(v string, args map[string]string) (interface{}, error) {
	old, ok := args["old"]
	if !ok || old == "" {
		return nil, fmt.Errorf("replace requires an 'old' argument")
	}
	return strings.ReplaceAll(v, old, args["new"]), nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(v string, _ map[string]string) (interface{}, error) {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(v), "-")
	return strings.Trim(slug, "-"), nil
}
