package crawler

import (
	"fmt"
	"strings"
)

// FailurePolicy controls what happens to documents whose detail page could not be processed.
type FailurePolicy string

const (
	// FailureSkip records the failure and never revisits the document.
	FailureSkip FailurePolicy = "skip"
	// FailureRetry re-attempts recorded failures at the start of the next run.
	FailureRetry FailurePolicy = "retry"
)

// ParseFailurePolicy maps a configuration string onto a FailurePolicy.
func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FailureSkip:
		return FailureSkip, nil
	case FailureRetry:
		return FailureRetry, nil
	default:
		return "", fmt.Errorf("unknown parse failure policy %q (want skip or retry)", raw)
	}
}

// Config holds the settings for a crawl session.
// This struct is decoupled from Viper so the engine can be tested independently.
type Config struct {
	// MaxPage is the exclusive upper bound of the listing page index.
	MaxPage int
	// MaxDocuments is the document budget for one run. Zero or negative means unbounded.
	MaxDocuments  int
	FailurePolicy FailurePolicy
	// CacheDir holds listing pages. Empty disables the listing cache.
	CacheDir string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.MaxPage < 2 {
		return fmt.Errorf("crawler.max_page must be >= 2")
	}
	if c.FailurePolicy != FailureSkip && c.FailurePolicy != FailureRetry {
		return fmt.Errorf("crawler.on_parse_failure must be skip or retry")
	}
	return nil
}
