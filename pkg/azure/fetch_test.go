package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cometsec/comet/pkg/retry"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) Token(context.Context, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func testExecutor() *retry.Executor {
	return retry.New(3, time.Millisecond, 10*time.Millisecond, Classify)
}

// pagedServer serves len(sizes) pages chained with @odata.nextLink, with
// globally unique record ids.
func pagedServer(t *testing.T, sizes []int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		pageIdx, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if !assert.Less(t, pageIdx, len(sizes)) {
			http.NotFound(w, r)
			return
		}

		base := 0
		for i := 0; i < pageIdx; i++ {
			base += sizes[i]
		}
		items := make([]map[string]any, sizes[pageIdx])
		for i := range items {
			items[i] = map[string]any{"id": fmt.Sprintf("record-%d", base+i)}
		}

		body := map[string]any{"value": items}
		if pageIdx+1 < len(sizes) {
			body["@odata.nextLink"] = srv.URL + "/?page=" + strconv.Itoa(pageIdx+1)
		}
		assert.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPagesWalksAllPagesOnce(t *testing.T) {
	srv := pagedServer(t, []int{999, 999, 42})
	tokens := &staticTokens{token: "test-token"}
	f := NewFetcher(tokens, AudienceGraph, testExecutor(), nil)

	seen := make(map[string]bool)
	pages := 0
	pager := f.Pages(srv.URL + "/?page=0")
	for pager.More() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			id := item["id"].(string)
			assert.False(t, seen[id], "duplicate record %s", id)
			seen[id] = true
		}
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, 2040, len(seen))
}

func TestPagesHandlesARMNextLink(t *testing.T) {
	var srv *httptest.Server
	calls := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body := map[string]any{"value": []map[string]any{{"id": strconv.Itoa(calls)}}}
		if calls == 1 {
			body["nextLink"] = srv.URL + "/?page=1"
		}
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	f := NewFetcher(&staticTokens{token: "test-token"}, AudienceManagement, nil, nil)

	var total int
	pager := f.Pages(srv.URL)
	for pager.More() {
		page, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		total += len(page.Items)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, total)
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "upstream sad", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{{"id": "a"}}})
	}))
	defer srv.Close()

	f := NewFetcher(&staticTokens{token: "test-token"}, AudienceGraph, testExecutor(), nil)

	page, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchPageFatalStatusShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "forbidden for you", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher(&staticTokens{token: "test-token"}, AudienceGraph, testExecutor(), nil)

	_, err := f.FetchPage(context.Background(), srv.URL+"/users?$select=id")

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.NotContains(t, statusErr.URL, "$select", "query must not leak into errors")
	assert.Contains(t, statusErr.Body, "forbidden for you")
	assert.Equal(t, int32(1), hits.Load(), "fatal status must not be retried")
}

func TestFetchPageTokenFailure(t *testing.T) {
	tokens := &staticTokens{err: errors.New("no credential available")}
	f := NewFetcher(tokens, AudienceGraph, nil, nil)

	_, err := f.FetchPage(context.Background(), "http://127.0.0.1:0/never")

	require.Error(t, err)
	assert.Equal(t, 1, tokens.calls)
}

func TestGraphListURL(t *testing.T) {
	raw := GraphListURL("users", []string{"id", "displayName"}, 999)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "graph.microsoft.com", u.Host)
	assert.Equal(t, "/v1.0/users", u.Path)
	assert.Equal(t, "id,displayName", u.Query().Get("$select"))
	assert.Equal(t, "999", u.Query().Get("$top"))

	assert.Equal(t, AudienceGraph+"/v1.0/groups", GraphListURL("/groups", nil, 0))
}

func TestARMURL(t *testing.T) {
	raw := ARMURL("/subscriptions/abc/providers/Microsoft.Security/pricings", "2024-01-01")
	assert.Equal(t,
		"https://management.azure.com/subscriptions/abc/providers/Microsoft.Security/pricings?api-version=2024-01-01",
		raw)
}
