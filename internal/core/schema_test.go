package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePosixAccountSuccess(t *testing.T) {
	record := map[string]any{
		"cn":            "alice",
		"sn":            "Doe",
		"uid":           "alice",
		"uidNumber":     2001,
		"gidNumber":     3001,
		"homeDirectory": "/home/Alice Doe",
	}
	attrs, errs := Validate(record, []string{ClassPerson.Name, ClassPosixAccount.Name})
	require.Empty(t, errs)
	require.NotNil(t, attrs)
	assert.Equal(t, "/home/alice-doe", attrs.GetOne("homeDirectory"))
	assert.Contains(t, attrs.Get("objectClass"), "posixAccount")
}

func TestValidateMissingRequiredFieldIsReported(t *testing.T) {
	record := map[string]any{
		"cn": "alice",
		// "sn" deliberately missing
	}
	attrs, errs := Validate(record, []string{ClassPerson.Name})
	assert.Nil(t, attrs)
	require.NotEmpty(t, errs)
}

func TestValidateUIDNumberOutOfRangeIsRejected(t *testing.T) {
	record := map[string]any{
		"cn":            "bob",
		"sn":            "Bobson",
		"uid":           "bob",
		"uidNumber":     1,
		"gidNumber":     3001,
		"homeDirectory": "/home/bob",
	}
	_, errs := Validate(record, []string{ClassPerson.Name, ClassPosixAccount.Name})
	require.NotEmpty(t, errs)
}

func TestValidateEmptyStringListIsLegitimate(t *testing.T) {
	record := map[string]any{
		"memberOf": []string{},
	}
	attrs, errs := Validate(record, []string{ClassMemberOf.Name})
	require.Empty(t, errs)
	require.NotNil(t, attrs)
	assert.Empty(t, attrs.Get("memberOf"))
}

func TestValidateUnknownObjectClassIsReported(t *testing.T) {
	_, errs := Validate(map[string]any{}, []string{"bogusClass"})
	require.NotEmpty(t, errs)
}
