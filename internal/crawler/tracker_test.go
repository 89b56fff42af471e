package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHrefTracker(t *testing.T) {
	tracker := newHrefTracker(map[string]struct{}{"/handle/1946/1": {}})
	require.False(t, tracker.MarkIfNew("/handle/1946/1"), "seeded hrefs are already known")
	require.True(t, tracker.MarkIfNew("/handle/1946/2"))
	require.False(t, tracker.MarkIfNew("/handle/1946/2"))
	require.False(t, tracker.MarkIfNew(""), "empty href is never new")
}
