package crawler

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Frontier builds listing URLs for the paginated search endpoint and resolves
// relative links against the repository host.
type Frontier struct {
	base       *url.URL
	searchPath string
	query      string
	sortBy     string
	order      string
	perPage    int
}

// FrontierConfig carries the search parameters of the listing endpoint.
type FrontierConfig struct {
	BaseURL        string
	SearchPath     string
	Query          string
	SortBy         string
	Order          string
	ResultsPerPage int
}

// NewFrontier validates cfg and returns a Frontier.
func NewFrontier(cfg FrontierConfig) (*Frontier, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", cfg.BaseURL)
	}
	if cfg.ResultsPerPage <= 0 {
		return nil, fmt.Errorf("results per page must be > 0")
	}
	searchPath := cfg.SearchPath
	if !strings.HasPrefix(searchPath, "/") {
		searchPath = "/" + searchPath
	}
	query := cfg.Query
	if query == "" {
		query = "*"
	}
	return &Frontier{
		base:       base,
		searchPath: searchPath,
		query:      query,
		sortBy:     cfg.SortBy,
		order:      cfg.Order,
		perPage:    cfg.ResultsPerPage,
	}, nil
}

// ListingURL returns the search URL for a 1-based page index.
func (f *Frontier) ListingURL(page int) string {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("query", f.query)
	if f.sortBy != "" {
		q.Set("sort_by", f.sortBy)
	}
	if f.order != "" {
		q.Set("order", f.order)
	}
	q.Set("rpp", strconv.Itoa(f.perPage))
	q.Set("etal", "0")
	q.Set("start", strconv.Itoa((page-1)*f.perPage))

	u := *f.base
	u.Path = f.searchPath
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolve turns a link found on a page into an absolute URL on the repository host.
func (f *Frontier) Resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return f.base.ResolveReference(ref).String(), nil
}

// ListingCachePath returns where a listing page is cached, or "" when caching is off.
func ListingCachePath(cacheDir string, page int) string {
	if cacheDir == "" {
		return ""
	}
	return filepath.Join(cacheDir, fmt.Sprintf("listing-%d.html", page))
}
