// Package postgres provides a Postgres-backed crawl store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.Store and crawler.FileStore on Postgres.
type Store struct {
	pool pool
}

// New connects to Postgres and applies the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	href TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	accepted_date TEXT NOT NULL DEFAULT '',
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS files (
	id BIGSERIAL PRIMARY KEY,
	href TEXT NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	size_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
	access TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	relative_directory TEXT NOT NULL DEFAULT '',
	is_local BOOLEAN NOT NULL DEFAULT FALSE,
	document_id BIGINT NOT NULL REFERENCES documents(id),
	UNIQUE (filename, document_id)
);
CREATE INDEX IF NOT EXISTS idx_files_document ON files(document_id);

CREATE TABLE IF NOT EXISTS attributes (
	document_id BIGINT NOT NULL REFERENCES documents(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (document_id, key)
);

CREATE TABLE IF NOT EXISTS page_checkpoints (
	page_index INTEGER NOT NULL UNIQUE,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS failed_documents (
	document_id BIGINT PRIMARY KEY REFERENCES documents(id),
	reason TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE VIEW pending_files AS
	SELECT id, href, filename, size_mb, access, description, file_type,
	       relative_directory, is_local, document_id
	FROM files
	WHERE NOT is_local;
`

const fileColumns = `id, href, filename, size_mb, access, description, file_type, relative_directory, is_local, document_id`

// CheckpointedPages returns every page index already fully attempted.
func (s *Store) CheckpointedPages(ctx context.Context) (map[int]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT page_index FROM page_checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	pages := make(map[int]struct{})
	for rows.Next() {
		var page int32
		if err := rows.Scan(&page); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		pages[int(page)] = struct{}{}
	}
	return pages, rows.Err()
}

// InsertPageCheckpoint records that page has been fully attempted.
func (s *Store) InsertPageCheckpoint(ctx context.Context, page int) error {
	if _, err := s.pool.Exec(ctx, `INSERT INTO page_checkpoints (page_index) VALUES ($1)`, page); err != nil {
		return classify(fmt.Sprintf("insert checkpoint %d", page), err)
	}
	return nil
}

// KnownHrefs returns the href of every registered document.
func (s *Store) KnownHrefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT href FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	hrefs := make(map[string]struct{})
	for rows.Next() {
		var href string
		if err := rows.Scan(&href); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		hrefs[href] = struct{}{}
	}
	return hrefs, rows.Err()
}

// InsertDocument registers a document and returns its id.
func (s *Store) InsertDocument(ctx context.Context, stub crawler.DocumentStub) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (href, title, author, accepted_date) VALUES ($1, $2, $3, $4) RETURNING id`,
		stub.Href, stub.Title, stub.Author, stub.AcceptedDate,
	).Scan(&id)
	if err != nil {
		return 0, classify("insert document "+stub.Href, err)
	}
	return id, nil
}

// DocumentIDByHref looks up a document id.
func (s *Store) DocumentIDByHref(ctx context.Context, href string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM documents WHERE href = $1`, href).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", href, crawler.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query document %s: %w", href, err)
	}
	return id, nil
}

// InsertAttributes stores a document's label/value pairs. Existing keys are kept.
func (s *Store) InsertAttributes(ctx context.Context, documentID int64, attrs map[string]string) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO attributes (document_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (document_id, key) DO NOTHING`,
			documentID, k, attrs[k],
		)
		if err != nil {
			return classify(fmt.Sprintf("insert attribute %q of document %d", k, documentID), err)
		}
	}
	return nil
}

// InsertFile stores a kept file with is_local false and returns its id.
func (s *Store) InsertFile(ctx context.Context, rec crawler.FileRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO files (href, filename, size_mb, access, description, file_type, relative_directory, is_local, document_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8) RETURNING id`,
		rec.Href, rec.Filename, rec.SizeMB, rec.Access, rec.Description, rec.FileType, rec.RelativeDirectory, rec.DocumentID,
	).Scan(&id)
	if err != nil {
		return 0, classify("insert file "+rec.Href, err)
	}
	return id, nil
}

// PendingFiles returns kept files not yet downloaded, oldest first.
func (s *Store) PendingFiles(ctx context.Context) ([]crawler.FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM pending_files ORDER BY id`)
}

// CandidateFiles returns every kept file, local or not.
func (s *Store) CandidateFiles(ctx context.Context) ([]crawler.FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM files ORDER BY id`)
}

// MarkFileLocal flips is_local to true. Marking an already local file is a no-op.
func (s *Store) MarkFileLocal(ctx context.Context, fileID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE files SET is_local = TRUE WHERE id = $1 AND NOT is_local`, fileID)
	if err != nil {
		return fmt.Errorf("mark file %d local: %w", fileID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT TRUE FROM files WHERE id = $1`, fileID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("file %d: %w", fileID, crawler.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query file %d: %w", fileID, err)
	}
	return nil
}

// RecordFailure adds or updates a document in the failure ledger.
func (s *Store) RecordFailure(ctx context.Context, documentID int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failed_documents (document_id, reason) VALUES ($1, $2)
		 ON CONFLICT (document_id) DO UPDATE SET
			reason = EXCLUDED.reason,
			attempts = failed_documents.attempts + 1,
			updated_at = now()`,
		documentID, reason,
	)
	if err != nil {
		return classify(fmt.Sprintf("record failure of document %d", documentID), err)
	}
	return nil
}

// FailedDocuments lists the failure ledger in document order.
func (s *Store) FailedDocuments(ctx context.Context) ([]crawler.FailedDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.document_id, d.href, f.reason
		 FROM failed_documents f JOIN documents d ON d.id = f.document_id
		 ORDER BY f.document_id`)
	if err != nil {
		return nil, fmt.Errorf("query failed documents: %w", err)
	}
	defer rows.Close()

	var out []crawler.FailedDocument
	for rows.Next() {
		var f crawler.FailedDocument
		if err := rows.Scan(&f.DocumentID, &f.Href, &f.Reason); err != nil {
			return nil, fmt.Errorf("scan failed document: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFailure removes a document from the failure ledger.
func (s *Store) ClearFailure(ctx context.Context, documentID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM failed_documents WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear failure of document %d: %w", documentID, err)
	}
	return nil
}

// Summary counts the durable crawl state.
func (s *Store) Summary(ctx context.Context) (crawler.StoreSummary, error) {
	var documents, files, local, checkpoints, failed int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM files WHERE is_local),
			(SELECT COUNT(*) FROM page_checkpoints),
			(SELECT COUNT(*) FROM failed_documents)`,
	).Scan(&documents, &files, &local, &checkpoints, &failed)
	if err != nil {
		return crawler.StoreSummary{}, fmt.Errorf("query summary: %w", err)
	}
	return crawler.StoreSummary{
		Documents:       int(documents),
		Files:           int(files),
		LocalFiles:      int(local),
		Checkpoints:     int(checkpoints),
		FailedDocuments: int(failed),
	}, nil
}

func (s *Store) queryFiles(ctx context.Context, query string) ([]crawler.FileRecord, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []crawler.FileRecord
	for rows.Next() {
		var rec crawler.FileRecord
		if err := rows.Scan(
			&rec.ID, &rec.Href, &rec.Filename, &rec.SizeMB, &rec.Access, &rec.Description,
			&rec.FileType, &rec.RelativeDirectory, &rec.IsLocal, &rec.DocumentID,
		); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// classify maps constraint violations onto the crawler error taxonomy.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, crawler.ErrIntegrity, pgErr.Message)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, crawler.ErrUnknownDocument, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
