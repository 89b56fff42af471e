package crawler

import "sync"

// hrefTracker remembers which document hrefs have already been visited.
type hrefTracker struct {
	seen sync.Map
}

func newHrefTracker(known map[string]struct{}) *hrefTracker {
	t := &hrefTracker{}
	for href := range known {
		t.seen.Store(href, struct{}{})
	}
	return t
}

// MarkIfNew stores the href if it has not been seen before and returns true.
func (t *hrefTracker) MarkIfNew(href string) bool {
	if href == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(href, struct{}{})
	return !loaded
}
