package sipmsg

import "strings"

// HeaderValues is one header name together with every value recorded for
// it, in append order.
type HeaderValues struct {
	Name   string
	Values []string
}

// Headers is an ordered multimap keyed by lowercased header name. Insertion
// order of distinct names is preserved for serialization; multiple values
// for the same name are kept in append order.
type Headers interface {
	// Add appends value under name (lowercased), preserving any existing
	// values and creating a new ordered slot if name is new.
	Add(name, value string)
	// Set replaces all values for name with a single value.
	Set(name, value string)
	// Get returns the first value for name, if any.
	Get(name string) (string, bool)
	// All returns every value recorded for name, in append order.
	All(name string) []string
	// Ordered returns every (name, values) entry in first-seen order.
	Ordered() []HeaderValues
}

type headers struct {
	order []string
	vals  map[string][]string
	// display preserves the first-seen casing for serialization, even
	// though lookups are case-insensitive.
	display map[string]string
}

// NewHeaders builds an empty Headers multimap.
func NewHeaders() Headers {
	return &headers{
		vals:    make(map[string][]string),
		display: make(map[string]string),
	}
}

func (h *headers) Add(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		h.order = append(h.order, key)
		h.display[key] = name
	}
	h.vals[key] = append(h.vals[key], value)
}

func (h *headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		h.order = append(h.order, key)
		h.display[key] = name
	}
	h.vals[key] = []string{value}
}

func (h *headers) Get(name string) (string, bool) {
	vs, ok := h.vals[strings.ToLower(name)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func (h *headers) All(name string) []string {
	return h.vals[strings.ToLower(name)]
}

func (h *headers) Ordered() []HeaderValues {
	out := make([]HeaderValues, 0, len(h.order))
	for _, key := range h.order {
		out = append(out, HeaderValues{Name: h.display[key], Values: h.vals[key]})
	}
	return out
}
