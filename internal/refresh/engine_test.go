package refresh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apricot-ldap/apricot/internal/core"
	"github.com/apricot-ldap/apricot/internal/idp"
)

type fakeClient struct {
	groups  []idp.Group
	users   []idp.User
	failing bool
}

func (f *fakeClient) BearerToken(context.Context) (string, error) { return "token", nil }
func (f *fakeClient) Groups(context.Context) ([]idp.Group, error) {
	if f.failing {
		return nil, assert.AnError
	}
	return f.groups, nil
}
func (f *fakeClient) Users(context.Context) ([]idp.User, error) { return f.users, nil }
func (f *fakeClient) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

func testCfg() core.AdaptorConfig {
	return core.AdaptorConfig{RootDN: "DC=example,DC=com", Domain: "example.com"}
}

func TestEnsureFreshRebuildsOnFirstLookup(t *testing.T) {
	client := &fakeClient{users: []idp.User{
		{CN: "alice", SN: "Doe", OAuthID: "u1", Description: "Alice Doe", HomeDirectory: "/home/alice"},
	}}
	tree := core.NewTree()
	engine := NewEngine(tree, client, core.NewMemoryAllocator(), testCfg(), OnDemand, time.Hour)

	require.NoError(t, engine.EnsureFresh(context.Background()))
	require.NotNil(t, tree.Root())

	_, err := tree.Lookup("CN=alice,OU=users,DC=example,DC=com")
	assert.NoError(t, err)
}

func TestEnsureFreshServesStaleTreeOnRebuildFailure(t *testing.T) {
	client := &fakeClient{users: []idp.User{
		{CN: "alice", SN: "Doe", OAuthID: "u1", Description: "Alice Doe", HomeDirectory: "/home/alice"},
	}}
	tree := core.NewTree()
	engine := NewEngine(tree, client, core.NewMemoryAllocator(), testCfg(), OnDemand, time.Millisecond)

	require.NoError(t, engine.Rebuild(context.Background()))
	firstRoot := tree.Root()

	client.failing = true
	time.Sleep(2 * time.Millisecond)

	err := engine.EnsureFresh(context.Background())
	assert.NoError(t, err, "a previously-built tree must still be served despite the failed refresh")
	assert.Same(t, firstRoot, tree.Root())
}

func TestEnsureFreshFailsWithNoPriorTree(t *testing.T) {
	client := &fakeClient{failing: true}
	tree := core.NewTree()
	engine := NewEngine(tree, client, core.NewMemoryAllocator(), testCfg(), OnDemand, time.Hour)

	err := engine.EnsureFresh(context.Background())
	assert.Error(t, err)
}

func TestEnsureFreshIsNoopInBackgroundMode(t *testing.T) {
	client := &fakeClient{failing: true}
	tree := core.NewTree()
	engine := NewEngine(tree, client, core.NewMemoryAllocator(), testCfg(), Background, time.Hour)

	assert.NoError(t, engine.EnsureFresh(context.Background()))
	assert.Nil(t, tree.Root(), "background mode must never rebuild from a lookup")
}
