// Package idp normalizes user and group records from an upstream identity
// provider behind a single Client contract, with Microsoft Entra and
// Keycloak backends.
package idp

import "context"

// Group is a normalized group record, common to every backend.
type Group struct {
	CN          string
	Description string
	GIDNumber   int
	OAuthID     string
	MemberUID   []string
}

// User is a normalized user record, common to every backend.
type User struct {
	CN             string
	UID            string
	UIDNumber      int
	GIDNumber      int
	DisplayName    string
	GivenName      string
	SN              string
	Mail           string
	HomeDirectory  string
	Domain         string
	OAuthID        string
	OAuthUsername  string
	Description    string
}

// Client is the abstract IdP contract implemented by each backend.
type Client interface {
	// BearerToken returns a valid application-level access token,
	// acquiring or refreshing it as needed.
	BearerToken(ctx context.Context) (string, error)
	// Groups returns every group known to the IdP, ingestion-ordered.
	Groups(ctx context.Context) ([]Group, error)
	// Users returns every user known to the IdP, ingestion-ordered.
	Users(ctx context.Context) ([]User, error)
	// Verify performs a resource-owner credential check and reports
	// whether username/password are valid.
	Verify(ctx context.Context, username, password string) (bool, error)
}

// UIDWriteBacker is implemented by backends that can persist an allocated
// uid/gid back onto the IdP's own user record, so that the IdP becomes
// the source of truth for that user's identity on the next rebuild.
// Backends that can't support this (e.g. Microsoft Entra) simply don't
// implement it.
type UIDWriteBacker interface {
	WriteBackUID(ctx context.Context, userID string, uid, gid int) error
}
