package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sapcc/go-bits/logg"
	"golang.org/x/oauth2"
)

// oauth2PasswordConfig builds the bare oauth2.Config needed for a resource-
// owner password-credentials grant, used to verify a bind credential
// against the identity provider.
func oauth2PasswordConfig(tokenURL, clientID, clientSecret string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL: tokenURL,
		},
	}
}

// isInvalidGrantError reports whether err looks like an OAuth2
// "invalid_grant" or "invalid_client" error response: a bad credential,
// to be reported as a plain verification failure rather than propagated
// as an error.
func isInvalidGrantError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "invalid_client")
}

// tokenCache holds the current application-level access token and
// serializes its replacement, mirroring the single-writer discipline used
// elsewhere in this module for shared mutable state.
type tokenCache struct {
	mu    sync.Mutex
	token *oauth2.Token
}

// valid returns the cached token if it is both present and not yet
// expired.
func (c *tokenCache) valid() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token
	}
	return nil
}

func (c *tokenCache) store(token *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// bearerToken returns a cached token or fetches a fresh one with fetch.
func (c *tokenCache) bearerToken(ctx context.Context, fetch func(context.Context) (*oauth2.Token, error)) (string, error) {
	if token := c.valid(); token != nil {
		return token.AccessToken, nil
	}
	token, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.store(token)
	return token.AccessToken, nil
}

// httpClient is shared by both backends: it attaches a bearer token to a
// request, decodes a JSON response, and implements the 401/expired-token
// invalidate-and-retry-once rule.
type httpClient struct {
	http   *http.Client
	tokens *tokenCache
	fetch  func(context.Context) (*oauth2.Token, error)
}

// doJSON issues an authenticated request and decodes its JSON body into
// out. A 204 response leaves out untouched. body may be nil.
func (h *httpClient) doJSON(ctx context.Context, method, url string, body io.Reader, out any) error {
	resp, err := h.doWithRetry(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("idp request %s %s: status %d: %s", method, url, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (h *httpClient) doWithRetry(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, err
		}
	}

	resp, err := h.do(ctx, method, url, bodyBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		logg.Info("idp: got 401 from %s, invalidating cached token and retrying once", url)
		resp.Body.Close()
		h.tokens.invalidate()
		return h.do(ctx, method, url, bodyBytes)
	}
	return resp, nil
}

func (h *httpClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	token, err := h.tokens.bearerToken(ctx, h.fetch)
	if err != nil {
		return nil, fmt.Errorf("acquiring bearer token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return h.http.Do(req)
}
