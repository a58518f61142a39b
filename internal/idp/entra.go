package idp

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/oauth2/clientcredentials"
)

const entraGraphBase = "https://graph.microsoft.com/v1.0"

// EntraConfig configures the Microsoft Entra / MS Graph backend (spec
// §4.2).
type EntraConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// EntraClient implements Client against Microsoft Entra / MS Graph.
type EntraClient struct {
	cfg    EntraConfig
	client *httpClient
}

// NewEntraClient builds an EntraClient using the application-credential
// grant against Azure AD v2.0's token endpoint.
func NewEntraClient(cfg EntraConfig) *EntraClient {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	ccConfig := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	c := &EntraClient{cfg: cfg}
	c.client = &httpClient{
		http:   http.DefaultClient,
		tokens: &tokenCache{},
		fetch:  ccConfig.Token,
	}
	return c
}

func (c *EntraClient) BearerToken(ctx context.Context) (string, error) {
	return c.client.tokens.bearerToken(ctx, c.client.fetch)
}

type entraUserPage struct {
	Value    []entraUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

type entraUser struct {
	ID                string `json:"id"`
	CreatedDateTime   string `json:"createdDateTime"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type entraGroupPage struct {
	Value    []entraGroup `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type entraGroup struct {
	ID              string `json:"id"`
	CreatedDateTime string `json:"createdDateTime"`
	DisplayName     string `json:"displayName"`
}

type entraMemberPage struct {
	Value    []entraUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// Users lists every Entra user, sorted by createdDateTime ascending, so
// that UID allocation is stable across rebuilds. Records without a
// userPrincipalName are malformed and are logged and skipped rather than
// propagated.
func (c *EntraClient) Users(ctx context.Context) ([]User, error) {
	url := entraGraphBase + "/users?$select=createdDateTime,displayName,givenName,id,surname,userPrincipalName&$top=999"
	var raw []entraUser
	for url != "" {
		var page entraUserPage
		if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		raw = append(raw, page.Value...)
		url = page.NextLink
	}

	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].CreatedDateTime < raw[j].CreatedDateTime
	})

	users := make([]User, 0, len(raw))
	for _, u := range raw {
		if u.UserPrincipalName == "" {
			logg.Info("entra: skipping user %s with no userPrincipalName", u.ID)
			continue
		}
		cn, domain, ok := strings.Cut(u.UserPrincipalName, "@")
		if !ok {
			logg.Info("entra: skipping user %s with malformed userPrincipalName %q", u.ID, u.UserPrincipalName)
			continue
		}
		users = append(users, User{
			CN:            cn,
			DisplayName:   u.DisplayName,
			GivenName:     u.GivenName,
			SN:            u.Surname,
			HomeDirectory: "/home/" + cn,
			Domain:        domain,
			OAuthID:       u.ID,
			OAuthUsername: u.UserPrincipalName,
			Description:   u.DisplayName,
		})
	}
	return users, nil
}

// Groups lists every Entra group and resolves each one's membership.
func (c *EntraClient) Groups(ctx context.Context) ([]Group, error) {
	url := entraGraphBase + "/groups?$select=createdDateTime,displayName,id&$top=999"
	var raw []entraGroup
	for url != "" {
		var page entraGroupPage
		if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		raw = append(raw, page.Value...)
		url = page.NextLink
	}

	sort.SliceStable(raw, func(i, j int) bool {
		return raw[i].CreatedDateTime < raw[j].CreatedDateTime
	})

	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		if g.DisplayName == "" {
			logg.Info("entra: skipping group %s with no displayName", g.ID)
			continue
		}
		members, err := c.groupMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{
			CN:          g.DisplayName,
			Description: g.DisplayName,
			OAuthID:     g.ID,
			MemberUID:   members,
		})
	}
	return groups, nil
}

// groupMembers resolves a group's membership to the local part (left of
// "@") of each member's userPrincipalName.
func (c *EntraClient) groupMembers(ctx context.Context, groupID string) ([]string, error) {
	url := fmt.Sprintf("%s/groups/%s/members", entraGraphBase, groupID)
	var members []string
	for url != "" {
		var page entraMemberPage
		if err := c.client.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			if m.UserPrincipalName == "" {
				continue
			}
			cn, _, _ := strings.Cut(m.UserPrincipalName, "@")
			members = append(members, cn)
		}
		url = page.NextLink
	}
	return members, nil
}

// Verify performs a resource-owner password check. MS Graph application
// registrations rarely enable ROPC; this exists to satisfy the common
// Client contract, deferring to whatever grant the configured application
// registration actually supports.
func (c *EntraClient) Verify(ctx context.Context, username, password string) (bool, error) {
	cfg := oauth2PasswordConfig(fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.cfg.TenantID), c.cfg.ClientID, c.cfg.ClientSecret, []string{"https://graph.microsoft.com/.default"})
	_, err := cfg.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		if isInvalidGrantError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
