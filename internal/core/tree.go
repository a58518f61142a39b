package core

import (
	"sync"
)

// Tree is the hierarchical, ordered store of LDAP entries rooted at the
// configured domain DN. The root pointer is replaced wholesale by every
// successful rebuild; between rebuilds, entries are immutable. Readers
// take RLock and read a pointer that is never mutated in place; the
// writer takes Lock only to swap it for a freshly-built replacement.
type Tree struct {
	mu   sync.RWMutex
	root *Entry
}

// NewTree returns an empty Tree; Root() returns nil until the first
// Replace().
func NewTree() *Tree {
	return &Tree{}
}

// Root returns the currently-visible root entry, or nil if no rebuild has
// ever succeeded.
func (t *Tree) Root() *Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Replace atomically swaps in a newly-built root. A Lookup running
// concurrently with Replace will observe either the pre- or post-Replace
// tree in its entirety, never a hybrid.
func (t *Tree) Replace(root *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root
}

// Lookup resolves dn against the currently-visible tree.
func (t *Tree) Lookup(dn string) (*Entry, error) {
	root := t.Root()
	if root == nil {
		return nil, ErrNoSuchObject
	}
	return root.Lookup(dn)
}

// BuildRoot constructs a fresh root entry with the two fixed organizational
// units and the given validated group/user attribute maps attached under
// them.
func BuildRoot(rootDN string, groups, users []*AttributeMap) *Entry {
	root := NewEntry(rootDN, topLevelAttributes())

	groupsOU := NewEntry(GroupsOU(rootDN), organizationalUnitAttributes("groups"))
	usersOU := NewEntry(UsersOU(rootDN), organizationalUnitAttributes("users"))
	root.AddChild("OU=groups", groupsOU)
	root.AddChild("OU=users", usersOU)

	for _, attrs := range groups {
		cn := attrs.GetOne("cn")
		entry := NewEntry(GroupDN(cn, rootDN), attrs)
		groupsOU.AddChild("CN="+cn, entry)
	}
	for _, attrs := range users {
		cn := attrs.GetOne("cn")
		entry := NewEntry(UserDN(cn, rootDN), attrs)
		usersOU.AddChild("CN="+cn, entry)
	}
	return root
}

func topLevelAttributes() *AttributeMap {
	attrs := NewAttributeMap()
	attrs.Set("objectClass", "top", "dcObject")
	return attrs
}

func organizationalUnitAttributes(name string) *AttributeMap {
	attrs := NewAttributeMap()
	attrs.Set("objectClass", "top", "organizationalUnit")
	attrs.Set("ou", name)
	return attrs
}
