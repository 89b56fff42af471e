// Package syncer downloads kept files to the local corpus and reports sync progress.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	"github.com/JakeFAU/thesis-harvester/internal/metrics"
	"github.com/JakeFAU/thesis-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/thesis-harvester/internal/storage/local"
	"github.com/JakeFAU/thesis-harvester/internal/translit"
)

// Downloader streams the body at url into w.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Syncer brings pending file records onto the local disk.
type Syncer struct {
	files      crawler.FileStore
	downloader Downloader
	blobs      *local.BlobStore
	pacer      *ratelimit.Pacer
	logger     *zap.Logger
}

// Result summarizes one SyncPending pass.
type Result struct {
	Attempted    int  `json:"attempted" yaml:"attempted"`
	Synced       int  `json:"synced" yaml:"synced"`
	AlreadyLocal int  `json:"already_local" yaml:"already_local"`
	Failed       int  `json:"failed" yaml:"failed"`
	Canceled     bool `json:"canceled" yaml:"canceled"`
}

// New builds a Syncer. A nil pacer disables the courtesy delay between downloads.
func New(files crawler.FileStore, downloader Downloader, blobs *local.BlobStore, pacer *ratelimit.Pacer, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		files:      files,
		downloader: downloader,
		blobs:      blobs,
		pacer:      pacer,
		logger:     logger,
	}
}

// LocalPath is the canonical location of rec relative to the corpus root:
// <relative_directory>/<document_id>.<transliterated filename>.
func LocalPath(rec crawler.FileRecord) string {
	name := fmt.Sprintf("%d.%s", rec.DocumentID, translit.Filename(rec.Filename))
	if rec.RelativeDirectory == "" {
		return name
	}
	return path.Join(rec.RelativeDirectory, name)
}

// Sync makes rec local and returns its absolute path. Records already marked
// local are returned without touching the network. A canonical file left by an
// earlier run whose store update was lost is adopted without downloading.
func (s *Syncer) Sync(ctx context.Context, rec crawler.FileRecord) (string, error) {
	fullPath, _, err := s.sync(ctx, rec)
	return fullPath, err
}

func (s *Syncer) sync(ctx context.Context, rec crawler.FileRecord) (string, string, error) {
	rel := LocalPath(rec)
	fullPath, err := s.blobs.Resolve(rel)
	if err != nil {
		return "", metrics.OutcomeError, err
	}
	if rec.IsLocal {
		metrics.ObserveSync(metrics.OutcomeLocal, 0)
		return fullPath, metrics.OutcomeLocal, nil
	}

	exists, err := s.blobs.Exists(rel)
	if err != nil {
		metrics.ObserveSync(metrics.OutcomeError, 0)
		return "", metrics.OutcomeError, err
	}
	if exists {
		if err := s.files.MarkFileLocal(ctx, rec.ID); err != nil {
			metrics.ObserveSync(metrics.OutcomeError, 0)
			return "", metrics.OutcomeError, fmt.Errorf("mark file %d local: %w", rec.ID, err)
		}
		s.logger.Info("adopted existing local copy", zap.Int64("file_id", rec.ID), zap.String("path", fullPath))
		metrics.ObserveSync(metrics.OutcomeLocal, 0)
		return fullPath, metrics.OutcomeLocal, nil
	}

	var written int64
	_, err = s.blobs.WriteAtomic(ctx, rel, func(w io.Writer) error {
		n, dlErr := s.downloader.Download(ctx, rec.Href, w)
		written = n
		return dlErr
	})
	if err != nil {
		metrics.ObserveSync(metrics.OutcomeError, 0)
		return "", metrics.OutcomeError, fmt.Errorf("sync file %d: %w", rec.ID, err)
	}
	if err := s.files.MarkFileLocal(ctx, rec.ID); err != nil {
		metrics.ObserveSync(metrics.OutcomeError, written)
		return "", metrics.OutcomeError, fmt.Errorf("mark file %d local: %w", rec.ID, err)
	}
	metrics.ObserveSync(metrics.OutcomeSuccess, written)
	s.logger.Info("file synced",
		zap.Int64("file_id", rec.ID),
		zap.Int64("document_id", rec.DocumentID),
		zap.String("path", fullPath),
		zap.Float64("size_mb", rec.SizeMB),
		zap.Int64("bytes", written),
	)
	return fullPath, metrics.OutcomeSuccess, nil
}

// SyncPending downloads every pending file in store order, pausing between
// downloads. A failed file is logged and left pending. Cancellation stops the
// pass and is reported through Result.Canceled.
func (s *Syncer) SyncPending(ctx context.Context) (Result, error) {
	var res Result
	pending, err := s.files.PendingFiles(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending files: %w", err)
	}
	s.logger.Info("sync starting", zap.Int("pending", len(pending)))

	for _, rec := range pending {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}
		if s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				res.Canceled = true
				break
			}
		}

		res.Attempted++
		_, outcome, err := s.sync(ctx, rec)
		switch {
		case err == nil && outcome == metrics.OutcomeLocal:
			res.AlreadyLocal++
		case err == nil:
			res.Synced++
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			res.Canceled = true
		default:
			res.Failed++
			s.logger.Warn("file sync failed",
				zap.Int64("file_id", rec.ID),
				zap.String("url", rec.Href),
				zap.Error(err),
			)
		}
		if res.Canceled {
			break
		}
	}

	s.logger.Info("sync finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Bool("canceled", res.Canceled),
	)
	return res, nil
}
