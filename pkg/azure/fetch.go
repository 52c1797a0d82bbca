package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cometsec/comet/pkg/retry"
)

// DefaultRequestTimeout bounds every paged fetch call.
const DefaultRequestTimeout = 2 * time.Minute

const errorBodyLimit = 512

// Page is one page of a cursor-paginated listing.
type Page struct {
	Items    []map[string]any
	NextLink string
}

// Pager yields successive pages of records in cursor order.
type Pager interface {
	More() bool
	NextPage(ctx context.Context) (Page, error)
}

// Fetcher walks REST collection endpoints that page with value/nextLink
// response bodies; Microsoft Graph and ARM both use the shape. One Fetcher
// serves one audience.
type Fetcher struct {
	client   *http.Client
	tokens   TokenSource
	audience string
	limiter  *rate.Limiter
	exec     *retry.Executor
}

// NewFetcher builds a Fetcher for the audience. exec wraps each page call
// with retry; limiter may be nil for unpaced fetching.
func NewFetcher(tokens TokenSource, audience string, exec *retry.Executor, limiter *rate.Limiter) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		tokens:   tokens,
		audience: audience,
		limiter:  limiter,
		exec:     exec,
	}
}

// Pages returns a Pager over the listing that starts at url.
func (f *Fetcher) Pages(startURL string) Pager {
	return &restPages{f: f, next: startURL}
}

type restPages struct {
	f    *Fetcher
	next string
	done bool
}

func (p *restPages) More() bool {
	return !p.done
}

func (p *restPages) NextPage(ctx context.Context) (Page, error) {
	page, err := p.f.FetchPage(ctx, p.next)
	if err != nil {
		p.done = true
		return Page{}, err
	}
	if page.NextLink == "" {
		p.done = true
	} else {
		p.next = page.NextLink
	}
	return page, nil
}

// FetchPage fetches a single page, retrying transient failures.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (Page, error) {
	var page Page
	fetch := func(ctx context.Context) error {
		var err error
		page, err = f.fetchOnce(ctx, pageURL)
		return err
	}

	var err error
	if f.exec == nil {
		err = fetch(ctx)
	} else {
		err = f.exec.Do(ctx, "fetch page", fetch)
	}
	return page, err
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) (Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return Page{}, err
		}
	}

	token, err := f.tokens.Token(ctx, f.audience)
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return Page{}, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        sanitizeURL(pageURL),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var envelope struct {
		Value         []map[string]any `json:"value"`
		NextLink      string           `json:"nextLink"`
		ODataNextLink string           `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Page{}, fmt.Errorf("failed to decode page from %s: %w", sanitizeURL(pageURL), err)
	}

	next := envelope.NextLink
	if next == "" {
		next = envelope.ODataNextLink
	}
	return Page{Items: envelope.Value, NextLink: next}, nil
}

// sanitizeURL strips the query string so tokens or filters never land in
// logs or error messages.
func sanitizeURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		return u.String()
	}
	return raw
}

// GraphListURL builds a Graph v1.0 listing URL with $select and $top.
func GraphListURL(resource string, fields []string, top int) string {
	u := AudienceGraph + "/v1.0/" + strings.TrimPrefix(resource, "/")
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("$select", strings.Join(fields, ","))
	}
	if top > 0 {
		q.Set("$top", strconv.Itoa(top))
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// ARMURL builds a management-plane URL for the resource path at the given
// API version.
func ARMURL(path, apiVersion string) string {
	return AudienceManagement + "/" + strings.TrimPrefix(path, "/") + "?api-version=" + apiVersion
}
