package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apricot-ldap/apricot/internal/idp"
)

type fakeIdPClient struct {
	groups []idp.Group
	users  []idp.User
}

func (f *fakeIdPClient) BearerToken(context.Context) (string, error) { return "token", nil }
func (f *fakeIdPClient) Groups(context.Context) ([]idp.Group, error) { return f.groups, nil }
func (f *fakeIdPClient) Users(context.Context) ([]idp.User, error)   { return f.users, nil }
func (f *fakeIdPClient) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

func testAdaptorConfig() AdaptorConfig {
	return AdaptorConfig{
		RootDN:               "DC=example,DC=com",
		Domain:               "example.com",
		EnablePrimaryGroups:  true,
		EnableMirroredGroups: true,
	}
}

func TestAdaptSynthesizesPrimaryAndMirrorGroups(t *testing.T) {
	client := &fakeIdPClient{
		groups: []idp.Group{
			{CN: "engineers", Description: "Engineers", OAuthID: "g1", MemberUID: []string{"alice"}},
		},
		users: []idp.User{
			{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "example.com", Description: "Alice Doe", HomeDirectory: "/home/alice"},
		},
	}
	allocator := NewMemoryAllocator()

	groups, users, err := Adapt(context.Background(), client, allocator, testAdaptorConfig())
	require.NoError(t, err)
	require.Len(t, users, 1)

	var names []string
	for _, g := range groups {
		names = append(names, g.GetOne("cn"))
	}
	assert.Contains(t, names, "engineers")
	assert.Contains(t, names, "alice", "a primary group must be synthesized for the user")
	assert.Contains(t, names, "Primary user groups for engineers", "a mirror group-of-groups must be synthesized")
}

func TestAdaptComputesBidirectionalMembership(t *testing.T) {
	client := &fakeIdPClient{
		groups: []idp.Group{
			{CN: "engineers", Description: "Engineers", OAuthID: "g1", MemberUID: []string{"alice"}},
		},
		users: []idp.User{
			{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "example.com", Description: "Alice Doe", HomeDirectory: "/home/alice"},
		},
	}
	allocator := NewMemoryAllocator()
	cfg := testAdaptorConfig()
	cfg.EnablePrimaryGroups = false
	cfg.EnableMirroredGroups = false

	groups, users, err := Adapt(context.Background(), client, allocator, cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, users, 1)

	assert.Contains(t, groups[0].Get("member"), "CN=alice,OU=users,DC=example,DC=com")
	assert.Contains(t, users[0].Get("memberOf"), "CN=engineers,OU=groups,DC=example,DC=com")
}

func TestAdaptAllocatesGIDForRawGroupWithoutOne(t *testing.T) {
	client := &fakeIdPClient{
		groups: []idp.Group{
			{CN: "engineers", Description: "Engineers", OAuthID: "g1"},
		},
	}
	allocator := NewMemoryAllocator()
	cfg := testAdaptorConfig()
	cfg.EnablePrimaryGroups = false
	cfg.EnableMirroredGroups = false

	groups, _, err := Adapt(context.Background(), client, allocator, cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	gid := groups[0].GetOne("gidNumber")
	assert.NotEmpty(t, gid)
}

func TestAdaptDomainFilteringDropsMismatchedUsers(t *testing.T) {
	client := &fakeIdPClient{
		users: []idp.User{
			{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "other.com", Description: "Alice Doe", HomeDirectory: "/home/alice"},
		},
	}
	allocator := NewMemoryAllocator()
	cfg := testAdaptorConfig()
	cfg.EnableUserDomainVerification = true

	_, users, err := Adapt(context.Background(), client, allocator, cfg)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestAdaptOverwritesAllocatorWithAssertedIDs(t *testing.T) {
	client := &fakeIdPClient{
		users: []idp.User{
			{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "example.com", Description: "Alice Doe", HomeDirectory: "/home/alice", UIDNumber: 5000, GIDNumber: 6000},
		},
	}
	allocator := NewMemoryAllocator()
	cfg := testAdaptorConfig()
	cfg.EnablePrimaryGroups = false
	cfg.EnableMirroredGroups = false

	_, users, err := Adapt(context.Background(), client, allocator, cfg)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "5000", users[0].GetOne("uidNumber"))

	stored, ok, err := allocator.Get("user-u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5000, stored)

	storedGID, ok, err := allocator.Get("group-u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6000, storedGID)
}

type writeBackRecorder struct {
	fakeIdPClient
	calls []string
}

func (f *writeBackRecorder) WriteBackUID(ctx context.Context, userID string, uid, gid int) error {
	f.calls = append(f.calls, userID)
	return nil
}

func TestAdaptWritesBackAllocatedIDsWhenSupported(t *testing.T) {
	client := &writeBackRecorder{
		fakeIdPClient: fakeIdPClient{
			users: []idp.User{
				{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "example.com", Description: "Alice Doe", HomeDirectory: "/home/alice"},
				{CN: "bob", SN: "Lee", OAuthID: "u2", Domain: "example.com", Description: "Bob Lee", HomeDirectory: "/home/bob", UIDNumber: 5000, GIDNumber: 6000},
			},
		},
	}
	allocator := NewMemoryAllocator()
	cfg := testAdaptorConfig()
	cfg.EnablePrimaryGroups = false
	cfg.EnableMirroredGroups = false

	_, users, err := Adapt(context.Background(), client, allocator, cfg)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, []string{"u1"}, client.calls, "only the allocated user, not the IdP-asserted one, is written back")
}

func TestAdaptDropsInvalidRecordsWithoutAborting(t *testing.T) {
	client := &fakeIdPClient{
		groups: []idp.Group{
			{CN: "engineers", Description: "Engineers", OAuthID: "g1"},
		},
		users: []idp.User{
			// missing "sn" makes this user invalid; must be dropped, not fatal
			{CN: "bob", OAuthID: "u2", Domain: "example.com", Description: "Bob", HomeDirectory: "/home/bob"},
			{CN: "alice", SN: "Doe", OAuthID: "u1", Domain: "example.com", Description: "Alice Doe", HomeDirectory: "/home/alice"},
		},
	}
	allocator := NewMemoryAllocator()

	groups, users, err := Adapt(context.Background(), client, allocator, testAdaptorConfig())
	require.NoError(t, err)
	require.NotEmpty(t, groups)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].GetOne("cn"))
}
