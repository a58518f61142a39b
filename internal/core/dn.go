package core

import (
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
)

// RootDN builds the tree's root DN from a dotted domain, e.g. "a.b.c"
// becomes "DC=a,DC=b,DC=c".
func RootDN(domain string) string {
	labels := strings.Split(domain, ".")
	rdns := make([]string, len(labels))
	for i, label := range labels {
		rdns[i] = "DC=" + label
	}
	return strings.Join(rdns, ",")
}

// UserDN builds the DN of a user entry under "OU=users" of the given root.
func UserDN(cn, rootDN string) string {
	return fmt.Sprintf("CN=%s,OU=users,%s", cn, rootDN)
}

// GroupDN builds the DN of a group entry under "OU=groups" of the given root.
func GroupDN(cn, rootDN string) string {
	return fmt.Sprintf("CN=%s,OU=groups,%s", cn, rootDN)
}

// UsersOU returns the DN of the fixed "OU=users" container.
func UsersOU(rootDN string) string {
	return "OU=users," + rootDN
}

// GroupsOU returns the DN of the fixed "OU=groups" container.
func GroupsOU(rootDN string) string {
	return "OU=groups," + rootDN
}

// AsGroupMemberDN rewrites a user DN produced by UserDN into the
// corresponding group DN by swapping "OU=users" for "OU=groups" (used
// when mirroring a user's group memberships as a group-of-groups).
func AsGroupMemberDN(userDN string) string {
	return strings.Replace(userDN, "OU=users", "OU=groups", 1)
}

// NormalizeDN parses a DN string using the same parser the LDAP wire
// library would use for matching, so that RDN comparisons obey LDAP's
// case-insensitive-attribute-name / case-insensitive-RDN rules. The zero
// value is returned, with ok=false, for an empty or unparseable DN.
func NormalizeDN(dn string) (key string, ok bool) {
	if strings.TrimSpace(dn) == "" {
		return "", false
	}
	parsed, err := goldap.ParseDN(dn)
	if err != nil {
		return "", false
	}
	parts := make([]string, len(parsed.RDNs))
	for i, rdn := range parsed.RDNs {
		attrs := make([]string, len(rdn.Attributes))
		for j, atv := range rdn.Attributes {
			attrs[j] = strings.ToLower(atv.Type) + "=" + strings.ToLower(atv.Value)
		}
		parts[i] = strings.Join(attrs, "+")
	}
	return strings.Join(parts, ","), true
}

// SplitLeadingRDN splits a DN into its leading RDN text and the remainder,
// e.g. "CN=alice,OU=users,DC=a,DC=b" -> ("CN=alice", "OU=users,DC=a,DC=b").
// A single-RDN DN yields that RDN and an empty remainder. It returns
// ok=false for an empty or unparseable DN.
func SplitLeadingRDN(dn string) (head, rest string, ok bool) {
	parsed, err := goldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return "", "", false
	}
	head = rdnText(parsed.RDNs[0])
	if len(parsed.RDNs) == 1 {
		return head, "", true
	}
	tailParts := make([]string, len(parsed.RDNs)-1)
	for i, rdn := range parsed.RDNs[1:] {
		tailParts[i] = rdnText(rdn)
	}
	rest = strings.Join(tailParts, ",")
	return head, rest, true
}

func rdnText(rdn *goldap.RelativeDN) string {
	parts := make([]string, len(rdn.Attributes))
	for i, atv := range rdn.Attributes {
		parts[i] = atv.Type + "=" + atv.Value
	}
	return strings.Join(parts, "+")
}
