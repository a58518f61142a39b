package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sapcc/go-bits/errext"
)

// FieldKind is the type discipline of a schema field.
type FieldKind int

const (
	// FieldString is a single string value.
	FieldString FieldKind = iota
	// FieldInteger is a single integer value, rendered as a decimal string.
	FieldInteger
	// FieldStringList is a multi-valued string attribute.
	FieldStringList
)

// Field describes one attribute required (or optionally carried) by an
// object class.
type Field struct {
	Name     string
	Kind     FieldKind
	Optional bool
}

// ObjectClass is a named set of required/optional attributes.
type ObjectClass struct {
	Name   string
	Fields []Field
}

// POSIX ID ranges.
const (
	MinUserUID  = 2000
	MaxUserUID  = 60000
	MinGroupGID = 3000
	MaxGroupGID = 4294967295
)

// Supported object classes. Order here controls the
// order in which fields are merged into a record's attribute map.
var (
	ClassPerson = ObjectClass{
		Name: "person",
		Fields: []Field{
			{Name: "cn", Kind: FieldString},
			{Name: "sn", Kind: FieldString},
		},
	}
	ClassOrganizationalPerson = ObjectClass{
		Name: "organizationalPerson",
		Fields: append(clone(ClassPerson.Fields),
			Field{Name: "description", Kind: FieldString},
		),
	}
	ClassInetOrgPerson = ObjectClass{
		Name: "inetOrgPerson",
		Fields: append(clone(ClassOrganizationalPerson.Fields),
			Field{Name: "displayName", Kind: FieldString, Optional: true},
			Field{Name: "employeeNumber", Kind: FieldString, Optional: true},
			Field{Name: "givenName", Kind: FieldString, Optional: true},
			Field{Name: "mail", Kind: FieldString, Optional: true},
			Field{Name: "telephoneNumber", Kind: FieldString, Optional: true},
		),
	}
	ClassPosixAccount = ObjectClass{
		Name: "posixAccount",
		Fields: []Field{
			{Name: "cn", Kind: FieldString},
			{Name: "uid", Kind: FieldString},
			{Name: "uidNumber", Kind: FieldInteger},
			{Name: "gidNumber", Kind: FieldInteger},
			{Name: "homeDirectory", Kind: FieldString},
		},
	}
	ClassPosixGroup = ObjectClass{
		Name: "posixGroup",
		Fields: []Field{
			{Name: "description", Kind: FieldString},
			{Name: "gidNumber", Kind: FieldInteger},
			{Name: "memberUid", Kind: FieldStringList},
		},
	}
	ClassGroupOfNames = ObjectClass{
		Name: "groupOfNames",
		Fields: []Field{
			{Name: "cn", Kind: FieldString},
			{Name: "description", Kind: FieldString},
			{Name: "member", Kind: FieldStringList},
		},
	}
	// ClassMemberOf is the "memberOf" overlay.
	ClassMemberOf = ObjectClass{
		Name: "memberOf",
		Fields: []Field{
			{Name: "memberOf", Kind: FieldStringList},
		},
	}
	// ClassOauthEntry is the "oauthEntry" overlay.
	ClassOauthEntry = ObjectClass{
		Name: "oauthEntry",
		Fields: []Field{
			{Name: "oauth_id", Kind: FieldString},
			{Name: "oauth_username", Kind: FieldString, Optional: true},
		},
	}
)

var classesByName = map[string]ObjectClass{
	ClassPerson.Name:               ClassPerson,
	ClassOrganizationalPerson.Name:  ClassOrganizationalPerson,
	ClassInetOrgPerson.Name:         ClassInetOrgPerson,
	ClassPosixAccount.Name:          ClassPosixAccount,
	ClassPosixGroup.Name:            ClassPosixGroup,
	ClassGroupOfNames.Name:          ClassGroupOfNames,
	ClassMemberOf.Name:              ClassMemberOf,
	ClassOauthEntry.Name:            ClassOauthEntry,
}

func clone(fields []Field) []Field {
	return append([]Field(nil), fields...)
}

var whitespaceRx = regexp.MustCompile(`\s+`)

// Validate checks record against the given required object classes and
// returns a single merged attribute map (objectClass = "top" plus the
// union of class names, plus the union of class-declared fields). On any
// field failure, Validate returns a nil map and a non-empty
// errext.ErrorSet describing every problem found; it does not stop at the
// first error.
func Validate(record map[string]any, requiredClasses []string) (*AttributeMap, errext.ErrorSet) {
	var errs errext.ErrorSet
	classNames := []string{"top"}
	seenField := make(map[string]bool)
	result := NewAttributeMap()

	for _, className := range requiredClasses {
		class, known := classesByName[className]
		if !known {
			errs.Addf("unknown object class %q", className)
			continue
		}
		classNames = append(classNames, class.Name)
		for _, field := range class.Fields {
			if seenField[strings.ToLower(field.Name)] {
				continue
			}
			value, present := record[field.Name]
			if !present || isEmptyValue(field.Kind, value) {
				if field.Optional {
					continue
				}
				errs.Addf("%s: %s", field.Name, errFieldMissing)
				continue
			}
			seenField[strings.ToLower(field.Name)] = true
			rendered, err := renderField(field, value)
			if err != nil {
				errs.Addf("%s: %s", field.Name, err.Error())
				continue
			}
			result.Set(field.Name, rendered...)
		}
	}

	if !errs.IsEmpty() {
		return nil, errs
	}

	if err := checkConstraints(result); err != nil {
		errs.Add(err)
		return nil, errs
	}

	result.Set("objectClass", classNames...)
	return result, nil
}

var errFieldMissing = fmt.Errorf("is missing")

// isEmptyValue reports whether value should be treated as absent for a
// required field. A zero-value string/integer is absent, but an empty
// string list is a legitimate value (e.g. a user who belongs to no
// groups still has a "memberOf" list, just an empty one) and only counts
// as absent if the key itself is missing from the record (handled by the
// caller before isEmptyValue is reached).
func isEmptyValue(kind FieldKind, value any) bool {
	if value == nil {
		return true
	}
	if kind == FieldStringList {
		_, ok := value.([]string)
		return !ok
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	if n, ok := value.(int); ok {
		return n == 0
	}
	return false
}

func renderField(field Field, value any) ([]string, error) {
	switch field.Kind {
	case FieldStringList:
		list, ok := value.([]string)
		if !ok {
			return nil, fmt.Errorf("must be a list of strings")
		}
		return list, nil
	case FieldInteger:
		switch v := value.(type) {
		case int:
			return []string{strconv.Itoa(v)}, nil
		case string:
			if _, err := strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("must be an integer")
			}
			return []string{v}, nil
		default:
			return nil, fmt.Errorf("must be an integer")
		}
	default: // FieldString
		switch v := value.(type) {
		case string:
			return []string{v}, nil
		case []string:
			if len(v) != 1 {
				return nil, fmt.Errorf("must be a single string")
			}
			return v, nil
		default:
			return nil, fmt.Errorf("must be a string")
		}
	}
}

// checkConstraints enforces the additional per-field constraints beyond
// presence and type: uidNumber/gidNumber range checks, and homeDirectory
// normalization (lower-cased, internal whitespace replaced by "-").
func checkConstraints(attrs *AttributeMap) error {
	if raw := attrs.GetOne("uidNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < MinUserUID || n > MaxUserUID {
			return fmt.Errorf("uidNumber: must be between %d and %d", MinUserUID, MaxUserUID)
		}
	}
	if raw := attrs.GetOne("gidNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < MinGroupGID || n > MaxGroupGID {
			return fmt.Errorf("gidNumber: must be between %d and %d", MinGroupGID, MaxGroupGID)
		}
	}
	if raw := attrs.GetOne("homeDirectory"); raw != "" {
		normalized := whitespaceRx.ReplaceAllString(strings.ToLower(raw), "-")
		attrs.Set("homeDirectory", normalized)
	}
	return nil
}
