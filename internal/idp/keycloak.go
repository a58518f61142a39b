package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/oauth2/clientcredentials"
)

// KeycloakConfig configures the Keycloak backend.
type KeycloakConfig struct {
	BaseURL        string
	Realm          string
	ClientID       string
	ClientSecret   string
	DomainAttribute string
	// WriteBackAllocatedUIDs, when true, PUTs an allocated uid/gid back to
	// Keycloak so that subsequent rebuilds see it as IdP-asserted.
	WriteBackAllocatedUIDs bool
}

// KeycloakClient implements Client against a Keycloak admin REST API.
type KeycloakClient struct {
	cfg    KeycloakConfig
	client *httpClient
}

// NewKeycloakClient builds a KeycloakClient using the client-credentials
// grant for its own application-level token.
func NewKeycloakClient(cfg KeycloakConfig) *KeycloakClient {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", cfg.BaseURL, cfg.Realm)
	ccConfig := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	c := &KeycloakClient{cfg: cfg}
	c.client = &httpClient{
		http:   http.DefaultClient,
		tokens: &tokenCache{},
		fetch:  ccConfig.Token,
	}
	return c
}

func (c *KeycloakClient) BearerToken(ctx context.Context) (string, error) {
	return c.client.tokens.bearerToken(ctx, c.client.fetch)
}

func (c *KeycloakClient) adminURL(path string) string {
	return fmt.Sprintf("%s/admin/realms/%s%s", c.cfg.BaseURL, c.cfg.Realm, path)
}

type keycloakGroup struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Attributes map[string][]string `json:"attributes"`
}

type keycloakUser struct {
	ID                string            `json:"id"`
	Username          string            `json:"username"`
	FirstName         string            `json:"firstName"`
	LastName          string            `json:"lastName"`
	Email             string            `json:"email"`
	CreatedTimestamp  int64             `json:"createdTimestamp"`
	Attributes        map[string][]string `json:"attributes"`
}

func firstAttr(attrs map[string][]string, name string) string {
	if values, ok := attrs[name]; ok && len(values) > 0 {
		return values[0]
	}
	return ""
}

// Groups lists every Keycloak group, paginated by first/max=100 until a
// short page.
func (c *KeycloakClient) Groups(ctx context.Context) ([]Group, error) {
	var raw []keycloakGroup
	const pageSize = 100
	for first := 0; ; first += pageSize {
		url := fmt.Sprintf("%s?first=%d&max=%d&briefRepresentation=false", c.adminURL("/groups"), first, pageSize)
		var page []keycloakGroup
		if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		raw = append(raw, page...)
		if len(page) < pageSize {
			break
		}
	}

	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		memberUIDs, err := c.groupMemberUIDs(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		description := firstAttr(g.Attributes, "description")
		if description == "" {
			description = g.Name
		}
		groups = append(groups, Group{
			CN:          g.Name,
			Description: description,
			OAuthID:     g.ID,
			MemberUID:   memberUIDs,
		})
	}
	return groups, nil
}

func (c *KeycloakClient) groupMemberUIDs(ctx context.Context, groupID string) ([]string, error) {
	url := fmt.Sprintf("%s/members", c.adminURL("/groups/"+groupID))
	var members []keycloakUser
	if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &members); err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(members))
	for _, m := range members {
		if m.Username == "" {
			continue
		}
		uids = append(uids, m.Username)
	}
	return uids, nil
}

// Users lists every Keycloak user, sorted by createdTimestamp ascending.
// A user's `attributes.uid`/`attributes.gid` pin its allocator identity
// when present; when absent, the caller (the UID allocator integration in
// the data adaptor) allocates fresh values and, if WriteBackAllocatedUIDs
// is set, this client PUTs them back so the IdP becomes the source of
// truth on the next rebuild.
func (c *KeycloakClient) Users(ctx context.Context) ([]User, error) {
	var raw []keycloakUser
	const pageSize = 100
	for first := 0; ; first += pageSize {
		url := fmt.Sprintf("%s?first=%d&max=%d", c.adminURL("/users"), first, pageSize)
		var page []keycloakUser
		if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		raw = append(raw, page...)
		if len(page) < pageSize {
			break
		}
	}

	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].CreatedTimestamp < raw[j].CreatedTimestamp
	})

	users := make([]User, 0, len(raw))
	for _, u := range raw {
		if u.Username == "" {
			logg.Info("keycloak: skipping user %s with no username", u.ID)
			continue
		}
		uidNumber, _ := strconv.Atoi(firstAttr(u.Attributes, "uid"))
		gidNumber, _ := strconv.Atoi(firstAttr(u.Attributes, "gid"))
		description := firstAttr(u.Attributes, "description")
		if description == "" {
			description = u.FirstName + " " + u.LastName
		}
		users = append(users, User{
			CN:            u.Username,
			UIDNumber:     uidNumber,
			GIDNumber:     gidNumber,
			DisplayName:   u.FirstName + " " + u.LastName,
			GivenName:     u.FirstName,
			SN:            u.LastName,
			Mail:          u.Email,
			HomeDirectory: "/home/" + u.Username,
			Domain:        firstAttr(u.Attributes, c.cfg.DomainAttribute),
			OAuthID:       u.ID,
			OAuthUsername: u.Username,
			Description:   description,
		})
	}
	return users, nil
}

// WriteBackUID persists an allocated uid/gid onto a Keycloak user record
// via the custom attribute map, when WriteBackAllocatedUIDs is enabled.
func (c *KeycloakClient) WriteBackUID(ctx context.Context, userID string, uid, gid int) error {
	if !c.cfg.WriteBackAllocatedUIDs {
		return nil
	}
	payload := map[string]any{
		"attributes": map[string][]string{
			"uid": {fmt.Sprint(uid)},
			"gid": {fmt.Sprint(gid)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.client.doJSON(ctx, http.MethodPut, c.adminURL("/users/"+userID), bytes.NewReader(body), nil)
}

// Verify performs the resource-owner password-credentials grant used for
// bind verification.
func (c *KeycloakClient) Verify(ctx context.Context, username, password string) (bool, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.cfg.BaseURL, c.cfg.Realm)
	cfg := oauth2PasswordConfig(tokenURL, c.cfg.ClientID, c.cfg.ClientSecret, nil)
	_, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		if isInvalidGrantError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
