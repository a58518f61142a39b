package core

import (
	"fmt"
	"strings"

	"github.com/sapcc/go-bits/logg"
)

// Entry is a single node in the directory tree: a DN, its attributes, and
// its children keyed by RDN text.
type Entry struct {
	DN         string
	Attributes *AttributeMap
	children   map[string]*Entry // keyed by NormalizeDN(childRDN)
	childOrder []string
}

// NewEntry creates an entry with no children.
func NewEntry(dn string, attrs *AttributeMap) *Entry {
	return &Entry{
		DN:         dn,
		Attributes: attrs,
		children:   make(map[string]*Entry),
	}
}

// AddChild attaches a child entry. If an entry with the same RDN is already
// present, the existing child is kept and returned rather than replaced.
func (e *Entry) AddChild(rdn string, child *Entry) *Entry {
	key, ok := NormalizeDN(rdn)
	if !ok {
		key = strings.ToLower(rdn)
	}
	if existing, exists := e.children[key]; exists {
		logg.Info("directory: entry %s already has a child %s, keeping the existing one", e.DN, rdn)
		return existing
	}
	e.children[key] = child
	e.childOrder = append(e.childOrder, key)
	return child
}

// Children returns this entry's children in the order they were attached.
func (e *Entry) Children() []*Entry {
	result := make([]*Entry, 0, len(e.childOrder))
	for _, key := range e.childOrder {
		result = append(result, e.children[key])
	}
	return result
}

// ErrNoSuchObject is returned by Lookup when no entry matches the DN.
var ErrNoSuchObject = fmt.Errorf("no such object")

// Lookup descends the tree RDN by RDN (matching case-insensitively) and
// returns the entry at dn, or ErrNoSuchObject.
func (e *Entry) Lookup(dn string) (*Entry, error) {
	rootKey, ok := NormalizeDN(e.DN)
	if !ok {
		return nil, ErrNoSuchObject
	}
	targetKey, ok := NormalizeDN(dn)
	if !ok {
		return nil, ErrNoSuchObject
	}
	if targetKey == rootKey {
		return e, nil
	}
	if !strings.HasSuffix(targetKey, ","+rootKey) {
		return nil, ErrNoSuchObject
	}
	relative := strings.TrimSuffix(targetKey, ","+rootKey)
	return e.lookupRelative(relative)
}

func (e *Entry) lookupRelative(relativeKey string) (*Entry, error) {
	if relativeKey == "" {
		return e, nil
	}
	// relativeKey lists RDNs leaf first, so the child of e is the last one.
	head, rest := relativeKey, ""
	if idx := strings.LastIndex(relativeKey, ","); idx >= 0 {
		head, rest = relativeKey[idx+1:], relativeKey[:idx]
	}
	child, exists := e.children[head]
	if !exists {
		return nil, ErrNoSuchObject
	}
	if rest == "" {
		return child, nil
	}
	return child.lookupRelative(rest)
}

// Walk visits this entry and all of its descendants, depth-first, in
// attachment order.
func (e *Entry) Walk(visit func(*Entry)) {
	visit(e)
	for _, child := range e.Children() {
		child.Walk(visit)
	}
}
