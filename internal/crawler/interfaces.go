package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves raw page bodies. FetchOrCached serves path from disk when it exists.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchOrCached(ctx context.Context, url, path string) ([]byte, bool, error)
}

// Parser turns fetched markup into named records.
type Parser interface {
	ParseListing(body []byte) ([]DocumentStub, error)
	ParseDocument(body []byte) (DocumentPage, error)
}

// Classifier partitions a document's files into kept, blocked, investigate and unclassified.
type Classifier interface {
	Classify(files []FileStub) Classification
}

// RetryPolicy decides whether and when a failed fetch is re-attempted.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Store is the persistent source of truth for crawl progress.
// Insert methods wrap uniqueness violations with ErrIntegrity.
type Store interface {
	CheckpointedPages(ctx context.Context) (map[int]struct{}, error)
	InsertPageCheckpoint(ctx context.Context, page int) error
	KnownHrefs(ctx context.Context) (map[string]struct{}, error)
	InsertDocument(ctx context.Context, stub DocumentStub) (int64, error)
	DocumentIDByHref(ctx context.Context, href string) (int64, error)
	InsertAttributes(ctx context.Context, documentID int64, attrs map[string]string) error
	InsertFile(ctx context.Context, rec FileRecord) (int64, error)
	RecordFailure(ctx context.Context, documentID int64, reason string) error
	FailedDocuments(ctx context.Context) ([]FailedDocument, error)
	ClearFailure(ctx context.Context, documentID int64) error
	Summary(ctx context.Context) (StoreSummary, error)
	Close() error
}

// FileStore is the subset of the store the sync manager needs.
type FileStore interface {
	PendingFiles(ctx context.Context) ([]FileRecord, error)
	CandidateFiles(ctx context.Context) ([]FileRecord, error)
	MarkFileLocal(ctx context.Context, fileID int64) error
}
