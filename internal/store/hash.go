package store

import (
	"sort"
	"sync"

	"github.com/emberdb/emberdb/internal/protocol"
)

// Hash is a map of field→value pairs stored under a single key.
// It carries its own lock so writers to different hashes in the same shard
// do not serialize on the shard lock.
type Hash struct {
	mu     sync.RWMutex
	fields map[string]protocol.Frame
}

// HashFieldValue represents a field-value pair in a hash.
type HashFieldValue struct {
	Field string
	Value protocol.Frame
}

// NewHash creates a new empty Hash.
func NewHash() *Hash {
	return &Hash{
		fields: make(map[string]protocol.Frame),
	}
}

// Set sets field to value. Returns true if the field is new (didn't exist before).
func (h *Hash) Set(field string, value protocol.Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, existed := h.fields[field]
	h.fields[field] = value
	return !existed
}

// Get returns the value of a field.
func (h *Hash) Get(field string) (protocol.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	val, ok := h.fields[field]
	return val, ok
}

// GetMany returns the values of the given fields in order, nil for each missing field.
func (h *Hash) GetMany(fields ...string) []protocol.Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.Frame, len(fields))
	for i, f := range fields {
		out[i] = h.fields[f]
	}
	return out
}

// Len returns the number of fields in the hash.
func (h *Hash) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.fields)
}

// GetAll returns all field-value pairs sorted by field name.
func (h *Hash) GetAll() []HashFieldValue {
	h.mu.RLock()
	result := make([]HashFieldValue, 0, len(h.fields))
	for field, value := range h.fields {
		result = append(result, HashFieldValue{Field: field, Value: value})
	}
	h.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Field < result[j].Field })
	return result
}
