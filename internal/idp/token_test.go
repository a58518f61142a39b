package idp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestIsInvalidGrantError(t *testing.T) {
	assert.True(t, isInvalidGrantError(errors.New(`oauth2: "invalid_grant" bad credentials`)))
	assert.True(t, isInvalidGrantError(errors.New(`oauth2: "invalid_client"`)))
	assert.False(t, isInvalidGrantError(errors.New("connection refused")))
}

func TestTokenCacheReturnsValidTokenWithoutFetching(t *testing.T) {
	cache := &tokenCache{}
	cache.store(&oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)})

	var fetchCount int32
	token, err := cache.bearerToken(context.Background(), func(context.Context) (*oauth2.Token, error) {
		atomic.AddInt32(&fetchCount, 1)
		return &oauth2.Token{AccessToken: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(0), fetchCount)
}

func TestTokenCacheFetchesWhenExpired(t *testing.T) {
	cache := &tokenCache{}
	cache.store(&oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Hour)})

	token, err := cache.bearerToken(context.Background(), func(context.Context) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "fresh"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestHTTPClientRetriesOnceOn401(t *testing.T) {
	var requestCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requestCount, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	var fetchCount int32
	client := &httpClient{
		http:   server.Client(),
		tokens: &tokenCache{},
		fetch: func(context.Context) (*oauth2.Token, error) {
			atomic.AddInt32(&fetchCount, 1)
			return &oauth2.Token{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}, nil
		},
	}

	err := client.doJSON(context.Background(), http.MethodGet, server.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requestCount, "a 401 must trigger exactly one retry")
	assert.Equal(t, int32(2), fetchCount, "the retry must re-fetch a token after invalidation")
}

func TestHTTPClientDecodesJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"hello"}`))
	}))
	defer server.Close()

	client := &httpClient{
		http:   server.Client(),
		tokens: &tokenCache{},
		fetch: func(context.Context) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}, nil
		},
	}

	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, client.doJSON(context.Background(), http.MethodGet, server.URL, nil, &out))
	assert.Equal(t, "hello", out.Value)
}
