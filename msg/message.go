package msg

import (
	"fmt"
	"time"
)

// MaxMessageLen is the maximum length-prefixed record size, including the
// 4-byte length prefix itself (spec.md §3: "maximum MAX_MESSAGE_LEN ≈ 64 MiB").
const MaxMessageLen = 64 << 20

// MinMessageLen is the minimum valid length-prefixed record size.
const MinMessageLen = 5

// Value is one of: int32, int64, uint32, float64, bool, string, []byte,
// []Value, *Message, ID, Timestamp, or nil — spec.md §3's typed value set.
type Value = interface{}

// Message is an ordered mapping from string keys to typed Values. Ordering
// is insertion order; re-Set of an existing key updates the value in place
// without moving it, so repeated encode/decode round-trips are bytewise
// stable (spec.md §8 P3).
type Message struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Message ready for use.
func New() *Message {
	return &Message{values: make(map[string]Value)}
}

// Set assigns key to value, appending key to the iteration order the first
// time it is used.
func (m *Message) Set(key string, value Value) *Message {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Get returns the value for key and whether it was present.
func (m *Message) Get(key string) (Value, bool) {
	if m.values == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes key, if present.
func (m *Message) Delete(key string) {
	if m.values == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Message) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Clone returns a deep-enough copy: top-level keys/values are copied, but
// nested *Message/[]Value values are shared. Sufficient for the fabric's
// routing path, which never mutates a value after Set.
func (m *Message) Clone() *Message {
	c := New()
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}

func (m *Message) String() string {
	s := "{"
	for i, k := range m.keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %v", k, m.values[k])
	}
	return s + "}"
}

// GetString fetches a string field, returning ok=false if absent or the
// wrong type.
func (m *Message) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetID fetches an ID field.
func (m *Message) GetID(key string) (ID, bool) {
	v, ok := m.Get(key)
	if !ok {
		return Zero, false
	}
	id, ok := v.(ID)
	return id, ok
}

// GetBool fetches a bool field.
func (m *Message) GetBool(key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetInt32 fetches an int32 field.
func (m *Message) GetInt32(key string) (int32, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int32)
	return i, ok
}

// GetLabels normalizes the LABEL field (string or []Value of strings) into
// a plain string slice.
func (m *Message) GetLabels() []string {
	v, ok := m.Get(KeyLabel)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []Value:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// GetToIDs normalizes the TO field (a single ID or an array of them) into a
// slice of IDs.
func (m *Message) GetToIDs() []ID {
	v, ok := m.Get(KeyTo)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case ID:
		return []ID{t}
	case []Value:
		out := make([]ID, 0, len(t))
		for _, e := range t {
			if id, ok := e.(ID); ok {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

// Timestamp is an explicit wrapper so encoders can distinguish a timestamp
// value from an arbitrary int64.
type Timestamp time.Time
