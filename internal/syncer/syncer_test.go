package syncer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	collyfetcher "github.com/JakeFAU/thesis-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/thesis-harvester/internal/storage/local"
)

type memFileStore struct {
	mu    sync.Mutex
	files map[int64]crawler.FileRecord
	marks int
}

func newMemFileStore(recs ...crawler.FileRecord) *memFileStore {
	s := &memFileStore{files: make(map[int64]crawler.FileRecord)}
	for _, r := range recs {
		s.files[r.ID] = r
	}
	return s
}

func (s *memFileStore) list(pendingOnly bool) []crawler.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.FileRecord
	for _, r := range s.files {
		if pendingOnly && r.IsLocal {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memFileStore) PendingFiles(context.Context) ([]crawler.FileRecord, error) {
	return s.list(true), nil
}

func (s *memFileStore) CandidateFiles(context.Context) ([]crawler.FileRecord, error) {
	return s.list(false), nil
}

func (s *memFileStore) MarkFileLocal(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.files[id]
	if !ok {
		return crawler.ErrNotFound
	}
	r.IsLocal = true
	s.files[id] = r
	s.marks++
	return nil
}

func (s *memFileStore) get(id int64) crawler.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[id]
}

type fakeDownloader struct {
	mu    sync.Mutex
	body  map[string]string
	calls int
	// failAfter writes this many bytes then fails; negative disables.
	failAfter int
}

func (d *fakeDownloader) Download(_ context.Context, url string, w io.Writer) (int64, error) {
	d.mu.Lock()
	d.calls++
	body, ok := d.body[url]
	failAfter := d.failAfter
	d.mu.Unlock()
	if !ok {
		return 0, &crawler.NetworkError{URL: url, Attempts: 1, StatusCode: 404, Err: errors.New("not found")}
	}
	if failAfter >= 0 && failAfter < len(body) {
		n, _ := io.WriteString(w, body[:failAfter])
		return int64(n), errors.New("connection reset")
	}
	n, err := io.WriteString(w, body)
	return int64(n), err
}

func (d *fakeDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func thesisFile(id int64, href string) crawler.FileRecord {
	return crawler.FileRecord{
		ID:                id,
		Href:              href,
		Filename:          "Ritgerð lokaútgáfa.pdf",
		SizeMB:            2.5,
		Access:            "Opinn",
		FileType:          "PDF",
		RelativeDirectory: "haskoli_islands/hugvisindasvid",
		DocumentID:        40 + id,
	}
}

func newTestSyncer(t *testing.T, store *memFileStore, dl *fakeDownloader) (*Syncer, string) {
	t.Helper()
	base := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	return New(store, dl, blobs, nil, nil), base
}

func TestLocalPath(t *testing.T) {
	rec := thesisFile(1, "https://skemman.is/a.pdf")
	assert.Equal(t, "haskoli_islands/hugvisindasvid/41.Ritgerd_lokautgafa.pdf", LocalPath(rec))

	rec.RelativeDirectory = ""
	assert.Equal(t, "41.Ritgerd_lokautgafa.pdf", LocalPath(rec))
}

func TestSyncIsIdempotent(t *testing.T) {
	rec := thesisFile(1, "https://skemman.is/a.pdf")
	store := newMemFileStore(rec)
	dl := &fakeDownloader{body: map[string]string{rec.Href: "%PDF-1.4 full thesis"}, failAfter: -1}
	s, base := newTestSyncer(t, store, dl)
	ctx := context.Background()

	first, err := s.Sync(ctx, store.get(1))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "haskoli_islands", "hugvisindasvid", "41.Ritgerd_lokautgafa.pdf"), first)
	assert.True(t, store.get(1).IsLocal)

	second, err := s.Sync(ctx, store.get(1))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, dl.count(), "second sync performs no download")

	// #nosec G304 -- test reads from its temp directory.
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 full thesis", string(data))
}

func TestSyncInterruptedDownloadLeavesNoPartialFile(t *testing.T) {
	rec := thesisFile(1, "https://skemman.is/a.pdf")
	store := newMemFileStore(rec)
	dl := &fakeDownloader{body: map[string]string{rec.Href: "%PDF-1.4 full thesis"}, failAfter: 5}
	s, base := newTestSyncer(t, store, dl)
	ctx := context.Background()

	_, err := s.Sync(ctx, rec)
	require.Error(t, err)

	canonical := filepath.Join(base, filepath.FromSlash(LocalPath(rec)))
	_, statErr := os.Stat(canonical)
	assert.True(t, os.IsNotExist(statErr), "canonical path must not exist after a failed download")
	_, statErr = os.Stat(canonical + local.TempSuffix)
	assert.True(t, os.IsNotExist(statErr), "temporary file is cleaned up")
	assert.False(t, store.get(1).IsLocal)

	dl.mu.Lock()
	dl.failAfter = -1
	dl.mu.Unlock()
	path, err := s.Sync(ctx, store.get(1))
	require.NoError(t, err)
	// #nosec G304 -- test reads from its temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 full thesis", string(data))
}

func TestSyncOversizedDownloadStaysPending(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	rec := thesisFile(1, srv.URL+"/bitstream/1946/1/big.pdf")
	store := newMemFileStore(rec)
	base := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)
	fetcher := collyfetcher.New(collyfetcher.Config{MaxBodyBytes: 1000, Timeout: 5 * time.Second}, nil, nil, nil, nil)
	s := New(store, fetcher, blobs, nil, nil)

	_, err = s.Sync(context.Background(), rec)
	require.ErrorIs(t, err, crawler.ErrBodyTooLarge)

	canonical := filepath.Join(base, filepath.FromSlash(LocalPath(rec)))
	_, statErr := os.Stat(canonical)
	assert.True(t, os.IsNotExist(statErr), "a capped body never lands on the canonical path")
	assert.False(t, store.get(1).IsLocal)
}

func TestSyncAdoptsExistingFile(t *testing.T) {
	rec := thesisFile(1, "https://skemman.is/a.pdf")
	store := newMemFileStore(rec)
	dl := &fakeDownloader{body: map[string]string{}, failAfter: -1}
	s, base := newTestSyncer(t, store, dl)

	canonical := filepath.Join(base, filepath.FromSlash(LocalPath(rec)))
	require.NoError(t, local.WriteBytesAtomic(canonical, []byte("already here")))

	path, err := s.Sync(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, canonical, path)
	assert.Zero(t, dl.count())
	assert.True(t, store.get(1).IsLocal)
}

func TestSyncPending(t *testing.T) {
	good := thesisFile(1, "https://skemman.is/a.pdf")
	missing := thesisFile(2, "https://skemman.is/missing.pdf")
	done := thesisFile(3, "https://skemman.is/c.pdf")
	done.IsLocal = true
	store := newMemFileStore(good, missing, done)
	dl := &fakeDownloader{body: map[string]string{good.Href: "pdf"}, failAfter: -1}
	s, _ := newTestSyncer(t, store, dl)

	res, err := s.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 2, Synced: 1, Failed: 1}, res)
	assert.True(t, store.get(1).IsLocal)
	assert.False(t, store.get(2).IsLocal, "failed file stays pending")

	t.Run("canceled context stops before any download", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		before := dl.count()

		res, err := s.SyncPending(ctx)
		require.NoError(t, err)
		assert.True(t, res.Canceled)
		assert.Zero(t, res.Attempted)
		assert.Equal(t, before, dl.count())
	})
}

func TestStatus(t *testing.T) {
	local1 := thesisFile(1, "https://skemman.is/a.pdf")
	local1.IsLocal = true
	local1.SizeMB = 3
	remaining := thesisFile(2, "https://skemman.is/b.pdf")
	remaining.SizeMB = 1

	t.Run("percent by size", func(t *testing.T) {
		s, _ := newTestSyncer(t, newMemFileStore(local1, remaining), &fakeDownloader{failAfter: -1})
		st, err := s.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Status{FilesLocal: 1, FilesRemaining: 1, MBLocal: 3, MBRemaining: 1, Percent: 75}, st)
		assert.Equal(t,
			"Thesis corpus sync  75.0%\n"+
				"    files downloaded:      1  (     3.0 MB)\n"+
				"    files remaining:       1  (     1.0 MB)\n",
			st.String())
	})

	t.Run("percent by count when sizes are unknown", func(t *testing.T) {
		a, b := local1, remaining
		a.SizeMB, b.SizeMB = 0, 0
		s, _ := newTestSyncer(t, newMemFileStore(a, b), &fakeDownloader{failAfter: -1})
		st, err := s.Status(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 50.0, st.Percent, 1e-9)
	})

	t.Run("empty corpus", func(t *testing.T) {
		s, _ := newTestSyncer(t, newMemFileStore(), &fakeDownloader{failAfter: -1})
		st, err := s.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Status{}, st)
	})
}
