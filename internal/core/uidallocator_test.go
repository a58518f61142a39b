package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUIDAllocatesOnce(t *testing.T) {
	alloc := NewMemoryAllocator()

	uid, err := GetUID(alloc, "idp-user-1", "user", MinUserUID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, uid, MinUserUID)

	again, err := GetUID(alloc, "idp-user-1", "user", MinUserUID)
	require.NoError(t, err)
	assert.Equal(t, uid, again, "a second lookup for the same id must return the same allocation")
}

func TestGetUIDIsMonotonic(t *testing.T) {
	alloc := NewMemoryAllocator()

	first, err := GetUID(alloc, "a", "user", MinUserUID)
	require.NoError(t, err)
	second, err := GetUID(alloc, "b", "user", MinUserUID)
	require.NoError(t, err)

	assert.Greater(t, second, first)
}

func TestGetUIDIsScopedByCategory(t *testing.T) {
	alloc := NewMemoryAllocator()

	uid, err := GetUID(alloc, "shared-id", "user", MinUserUID)
	require.NoError(t, err)
	gid, err := GetUID(alloc, "shared-id", "group", MinGroupGID)
	require.NoError(t, err)

	assert.NotEqual(t, uid, gid)
	assert.GreaterOrEqual(t, gid, MinGroupGID)
}

func TestOverwriteUID(t *testing.T) {
	alloc := NewMemoryAllocator()

	require.NoError(t, OverwriteUID(alloc, "preassigned", "user", 12345))

	uid, err := GetUID(alloc, "preassigned", "user", MinUserUID)
	require.NoError(t, err)
	assert.Equal(t, 12345, uid)
}

func TestMemoryAllocatorKeysAndValues(t *testing.T) {
	alloc := NewMemoryAllocator()
	_, err := GetUID(alloc, "x", "user", MinUserUID)
	require.NoError(t, err)
	_, err = GetUID(alloc, "y", "group", MinGroupGID)
	require.NoError(t, err)

	userKeys, err := alloc.Keys("user-")
	require.NoError(t, err)
	assert.Len(t, userKeys, 1)

	groupKeys, err := alloc.Keys("group-")
	require.NoError(t, err)
	assert.Len(t, groupKeys, 1)

	values, err := alloc.Values(append(userKeys, "user-unset"))
	require.NoError(t, err)
	assert.Equal(t, []int{MinUserUID, noAllocation}, values)
}
