package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/metrics"
	"github.com/JakeFAU/thesis-harvester/internal/translit"
)

// AttributeKind is the attribute key under which the detail page heading is stored.
const AttributeKind = "kind"

// Crawler defines the interface for the crawl controller.
type Crawler interface {
	Run(ctx context.Context) (Report, error)
}

// Engine walks the paginated listing, registers every new document and persists
// the files that survive classification. All progress is committed to the Store
// one row at a time so an interrupted run can be resumed.
type Engine struct {
	cfg        Config
	frontier   *Frontier
	fetcher    Fetcher
	parser     Parser
	classifier Classifier
	store      Store
	clock      Clock
	logger     *zap.Logger
}

// NewEngine wires the crawl controller.
func NewEngine(
	cfg Config,
	frontier *Frontier,
	fetcher Fetcher,
	parser Parser,
	classifier Classifier,
	store Store,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &Engine{
		cfg:        cfg,
		frontier:   frontier,
		fetcher:    fetcher,
		parser:     parser,
		classifier: classifier,
		store:      store,
		clock:      clock,
		logger:     logger,
	}
}

// Run executes one crawl. Cancellation stops the run after the current document
// and is reported through Report.Canceled rather than an error. Only a failure to
// read the Store's progress is returned as an error.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: e.clock.Now()}

	// Progress is loaded even when ctx is already canceled.
	loadCtx := context.WithoutCancel(ctx)
	done, err := e.store.CheckpointedPages(loadCtx)
	if err != nil {
		return report, fmt.Errorf("load page checkpoints: %w", err)
	}
	known, err := e.store.KnownHrefs(loadCtx)
	if err != nil {
		return report, fmt.Errorf("load known documents: %w", err)
	}
	tracker := newHrefTracker(known)
	e.logger.Info("crawl starting",
		zap.Int("checkpointed_pages", len(done)),
		zap.Int("known_documents", len(known)),
		zap.Int("max_page", e.cfg.MaxPage),
		zap.Int("max_documents", e.cfg.MaxDocuments),
		zap.String("on_parse_failure", string(e.cfg.FailurePolicy)),
	)

	if e.cfg.FailurePolicy == FailureRetry {
		if err := e.retryFailures(ctx, &report); err != nil {
			return report, err
		}
	}

	for page := 1; page < e.cfg.MaxPage; page++ {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		if e.budgetExhausted(report) {
			report.BudgetExhausted = true
			break
		}
		if _, ok := done[page]; ok {
			report.PagesSkipped++
			metrics.ObserveListingPage(metrics.OutcomeSkipped)
			continue
		}

		stubs, ok := e.fetchListing(ctx, page, &report)
		if !ok {
			if ctx.Err() != nil {
				report.Canceled = true
				break
			}
			continue
		}
		if len(stubs) == 0 {
			e.logger.Info("listing page is empty; end of results", zap.Int("page", page))
			metrics.ObserveListingPage(metrics.OutcomeEmpty)
			report.EndOfResults = true
			break
		}
		report.PagesVisited++
		metrics.ObserveListingPage(metrics.OutcomeSuccess)

		if complete := e.processPage(ctx, page, stubs, tracker, &report); !complete {
			continue
		}
		e.checkpoint(ctx, page, &report)
	}

	report.Elapsed = e.clock.Now().Sub(report.StartedAt)
	e.logger.Info("crawl finished",
		zap.Int("pages_visited", report.PagesVisited),
		zap.Int("pages_skipped", report.PagesSkipped),
		zap.Int("pages_failed", report.PagesFailed),
		zap.Int("documents", report.Documents),
		zap.Int("documents_failed", report.DocumentsFailed),
		zap.Int("files_kept", report.FilesKept),
		zap.Float64("kept_mb", report.KeptMB),
		zap.Bool("budget_exhausted", report.BudgetExhausted),
		zap.Bool("canceled", report.Canceled),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// processPage attempts every stub on a listing page in listing order and reports
// whether all of them were attempted.
func (e *Engine) processPage(ctx context.Context, page int, stubs []DocumentStub, tracker *hrefTracker, report *Report) bool {
	for _, stub := range stubs {
		if ctx.Err() != nil {
			report.Canceled = true
			return false
		}
		if e.budgetExhausted(*report) {
			report.BudgetExhausted = true
			return false
		}
		if !tracker.MarkIfNew(stub.Href) {
			continue
		}
		// The current document always runs to completion once started.
		e.processStub(context.WithoutCancel(ctx), page, stub, report)
	}
	return true
}

func (e *Engine) fetchListing(ctx context.Context, page int, report *Report) ([]DocumentStub, bool) {
	url := e.frontier.ListingURL(page)
	cachePath := ListingCachePath(e.cfg.CacheDir, page)
	log := e.logger.With(zap.Int("page", page), zap.String("url", url))

	body, cached, err := e.fetcher.FetchOrCached(ctx, url, cachePath)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("listing fetch failed; page left for a later run", zap.Error(err))
			report.PagesFailed++
			metrics.ObserveListingPage(metrics.OutcomeError)
		}
		return nil, false
	}
	if cached {
		log.Debug("listing served from cache", zap.String("path", cachePath))
	}

	stubs, err := e.parser.ParseListing(body)
	if err != nil {
		log.Warn("listing parse failed; page left for a later run", zap.Error(err))
		report.PagesFailed++
		metrics.ObserveListingPage(metrics.OutcomeError)
		if cachePath != "" {
			if rmErr := os.Remove(cachePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn("failed to drop unparseable listing cache", zap.String("path", cachePath), zap.Error(rmErr))
			}
		}
		return nil, false
	}
	return stubs, true
}

func (e *Engine) processStub(ctx context.Context, page int, stub DocumentStub, report *Report) {
	log := e.logger.With(zap.Int("page", page), zap.String("href", stub.Href))

	id, err := e.registerDocument(ctx, stub)
	if err != nil {
		log.Error("failed to register document", zap.Error(err))
		report.DocumentsFailed++
		metrics.ObserveDocument(metrics.OutcomeError)
		return
	}
	report.Documents++
	log = log.With(zap.Int64("document_id", id))

	if err := e.processDocument(ctx, id, stub.Href, report); err != nil {
		e.recordFailure(ctx, log, id, err, report)
		return
	}
	metrics.ObserveDocument(metrics.OutcomeSuccess)
}

// registerDocument inserts the document row, treating a duplicate as already registered.
func (e *Engine) registerDocument(ctx context.Context, stub DocumentStub) (int64, error) {
	id, err := e.store.InsertDocument(ctx, stub)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrIntegrity) {
		return 0, err
	}
	id, err = e.store.DocumentIDByHref(ctx, stub.Href)
	if err != nil {
		return 0, fmt.Errorf("look up existing document: %w", err)
	}
	return id, nil
}

// processDocument fetches, parses and classifies one detail page and persists the result.
func (e *Engine) processDocument(ctx context.Context, documentID int64, href string, report *Report) error {
	url, err := e.frontier.Resolve(href)
	if err != nil {
		return &ParseError{Element: "document href", Err: err}
	}
	body, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	page, err := e.parser.ParseDocument(body)
	if err != nil {
		return err
	}

	attrs := make(map[string]string, len(page.Attributes)+1)
	for k, v := range page.Attributes {
		attrs[k] = v
	}
	if page.Kind != "" {
		attrs[AttributeKind] = page.Kind
	}
	if err := e.store.InsertAttributes(ctx, documentID, attrs); err != nil && !errors.Is(err, ErrIntegrity) {
		return fmt.Errorf("store attributes: %w", err)
	}

	result := e.classifier.Classify(page.Files)
	relDir := translit.Path(page.Taxonomy)
	log := e.logger.With(zap.Int64("document_id", documentID), zap.String("href", href))
	log.Debug("files classified",
		zap.Int("kept", len(result.Kept)),
		zap.Int("blocked", len(result.Blocked)),
		zap.Int("investigate", len(result.Investigate)),
		zap.Int("unclassified", len(result.Unclassified)),
	)
	for _, c := range result.Investigate {
		log.Info("file needs investigation", zap.String("filename", c.Filename), zap.String("size", c.Size))
	}

	for _, c := range result.Kept {
		fileURL, err := e.frontier.Resolve(c.Href)
		if err != nil {
			return &ParseError{Element: "file href", Err: err}
		}
		rec := FileRecord{
			Href:              fileURL,
			Filename:          c.Filename,
			SizeMB:            c.SizeMB,
			Access:            c.Access,
			Description:       c.Description,
			FileType:          c.FileType,
			RelativeDirectory: relDir,
			DocumentID:        documentID,
		}
		if _, err := e.store.InsertFile(ctx, rec); err != nil {
			if errors.Is(err, ErrIntegrity) {
				log.Debug("file already recorded", zap.String("filename", c.Filename))
				continue
			}
			return fmt.Errorf("store file %s: %w", c.Filename, err)
		}
		report.FilesKept++
		report.KeptMB += c.SizeMB
		log.Info("file kept", zap.String("filename", c.Filename), zap.Float64("size_mb", c.SizeMB))
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, log *zap.Logger, documentID int64, cause error, report *Report) {
	report.DocumentsFailed++
	metrics.ObserveDocument(metrics.OutcomeError)
	log.Warn("document skipped", zap.Error(cause), zap.Bool("network", IsNetwork(cause)), zap.Bool("parse", IsParse(cause)))
	if err := e.store.RecordFailure(ctx, documentID, cause.Error()); err != nil {
		log.Error("failed to record document failure", zap.Error(err))
	}
}

// retryFailures re-attempts documents recorded in the failure ledger, within the budget.
func (e *Engine) retryFailures(ctx context.Context, report *Report) error {
	failed, err := e.store.FailedDocuments(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("load failed documents: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}
	e.logger.Info("retrying previously failed documents", zap.Int("count", len(failed)))
	for _, f := range failed {
		if ctx.Err() != nil {
			report.Canceled = true
			return nil
		}
		if e.budgetExhausted(*report) {
			report.BudgetExhausted = true
			return nil
		}
		docCtx := context.WithoutCancel(ctx)
		log := e.logger.With(zap.String("href", f.Href), zap.Int64("document_id", f.DocumentID))
		report.DocumentsRetried++
		if err := e.processDocument(docCtx, f.DocumentID, f.Href, report); err != nil {
			e.recordFailure(docCtx, log, f.DocumentID, err, report)
			continue
		}
		if err := e.store.ClearFailure(docCtx, f.DocumentID); err != nil {
			log.Error("failed to clear document failure", zap.Error(err))
		}
		metrics.ObserveDocument(metrics.OutcomeSuccess)
		log.Info("previously failed document recovered")
	}
	return nil
}

func (e *Engine) checkpoint(ctx context.Context, page int, report *Report) {
	err := e.store.InsertPageCheckpoint(context.WithoutCancel(ctx), page)
	switch {
	case err == nil:
		report.Checkpoints++
		e.logger.Info("page checkpointed", zap.Int("page", page))
	case errors.Is(err, ErrIntegrity):
		e.logger.Debug("page already checkpointed", zap.Int("page", page))
	default:
		e.logger.Error("failed to checkpoint page; it will be revisited", zap.Int("page", page), zap.Error(err))
	}
}

func (e *Engine) budgetExhausted(report Report) bool {
	return e.cfg.MaxDocuments > 0 && report.Documents+report.DocumentsRetried >= e.cfg.MaxDocuments
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
