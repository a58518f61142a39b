package core

import "strings"

// AttributeMap holds LDAP attribute values keyed case-insensitively by
// attribute name, while preserving the case of the name as it was first
// set. Lookups normalize the requested name to lower case, matching the
// LDAP rule that attribute descriptions are compared case-insensitively.
type AttributeMap struct {
	values map[string][]string
	names  map[string]string // lower(name) -> name as first set
	order  []string          // lower(name), in insertion order
}

// NewAttributeMap returns an empty AttributeMap.
func NewAttributeMap() *AttributeMap {
	return &AttributeMap{
		values: make(map[string][]string),
		names:  make(map[string]string),
	}
}

func (m *AttributeMap) key(name string) string {
	return strings.ToLower(name)
}

// Set replaces all values of the named attribute.
func (m *AttributeMap) Set(name string, values ...string) {
	k := m.key(name)
	if _, exists := m.names[k]; !exists {
		m.order = append(m.order, k)
		m.names[k] = name
	}
	m.values[k] = values
}

// Add appends values to the named attribute, creating it if necessary.
func (m *AttributeMap) Add(name string, values ...string) {
	k := m.key(name)
	if _, exists := m.names[k]; !exists {
		m.order = append(m.order, k)
		m.names[k] = name
	}
	m.values[k] = append(m.values[k], values...)
}

// Get returns the values of the named attribute (nil if absent).
func (m *AttributeMap) Get(name string) []string {
	if m == nil {
		return nil
	}
	return m.values[m.key(name)]
}

// GetOne returns the first value of the named attribute, or "" if absent.
func (m *AttributeMap) GetOne(name string) string {
	vals := m.Get(name)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Has reports whether the named attribute carries at least one value.
func (m *AttributeMap) Has(name string) bool {
	return len(m.Get(name)) > 0
}

// Names returns the attribute names in first-seen order, in their
// originally-set case.
func (m *AttributeMap) Names() []string {
	result := make([]string, len(m.order))
	for i, k := range m.order {
		result[i] = m.names[k]
	}
	return result
}

// Clone returns a deep copy of this AttributeMap.
func (m *AttributeMap) Clone() *AttributeMap {
	clone := NewAttributeMap()
	for _, k := range m.order {
		name := m.names[k]
		values := append([]string(nil), m.values[k]...)
		clone.Set(name, values...)
	}
	return clone
}
