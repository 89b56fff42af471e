// Package sqlite implements the persistent crawl store on an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file when missing.
	CreateIfNotExists bool
	// BusyTimeout bounds how long a statement waits on a locked database.
	BusyTimeout time.Duration
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		BusyTimeout:       5 * time.Second,
	}
}

// Store implements crawler.Store and crawler.FileStore. Every write is a single
// auto-committed statement.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string, opts Options) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	} else if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found at %s: %w", dbPath, err)
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn, err := buildDSN(dbPath, mode, busy)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// buildDSN renders dbPath as an absolute file: URI so that reserved characters
// in the path are escaped rather than read as query or fragment delimiters.
func buildDSN(dbPath, mode string, busy time.Duration) (string, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	q := url.Values{}
	q.Set("mode", mode)
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	href TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	accepted_date TEXT NOT NULL DEFAULT '',
	inserted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	href TEXT NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	size_mb REAL NOT NULL DEFAULT 0,
	access TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	relative_directory TEXT NOT NULL DEFAULT '',
	is_local INTEGER NOT NULL DEFAULT 0 CHECK (is_local IN (0, 1)),
	document_id INTEGER NOT NULL REFERENCES documents(id),
	UNIQUE(filename, document_id)
);
CREATE INDEX IF NOT EXISTS idx_files_document ON files(document_id);

CREATE TABLE IF NOT EXISTS attributes (
	document_id INTEGER NOT NULL REFERENCES documents(id),
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE(document_id, key)
);

CREATE TABLE IF NOT EXISTS page_checkpoints (
	page_index INTEGER NOT NULL UNIQUE,
	inserted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS failed_documents (
	document_id INTEGER PRIMARY KEY REFERENCES documents(id),
	reason TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE VIEW IF NOT EXISTS pending_files AS
	SELECT id, href, filename, size_mb, access, description, file_type,
	       relative_directory, is_local, document_id
	FROM files
	WHERE is_local = 0;
`

const fileColumns = `id, href, filename, size_mb, access, description, file_type, relative_directory, is_local, document_id`

// CheckpointedPages returns every page index already fully attempted.
func (s *Store) CheckpointedPages(ctx context.Context) (map[int]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT page_index FROM page_checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pages := make(map[int]struct{})
	for rows.Next() {
		var page int
		if err := rows.Scan(&page); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		pages[page] = struct{}{}
	}
	return pages, rows.Err()
}

// InsertPageCheckpoint records that page has been fully attempted.
func (s *Store) InsertPageCheckpoint(ctx context.Context, page int) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO page_checkpoints (page_index) VALUES (?)`, page); err != nil {
		return classify(fmt.Sprintf("insert checkpoint %d", page), err)
	}
	return nil
}

// KnownHrefs returns the href of every registered document.
func (s *Store) KnownHrefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT href FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (href, title, author, accepted_date) VALUES (?, ?, ?, ?)`,
		stub.Href, stub.Title, stub.Author, stub.AcceptedDate,
	)
	if err != nil {
		return 0, classify("insert document "+stub.Href, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("document id: %w", err)
	}
	return id, nil
}

// DocumentIDByHref looks up a document id.
func (s *Store) DocumentIDByHref(ctx context.Context, href string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE href = ?`, href).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", href, crawler.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("query document %s: %w", href, err)
	}
	return id, nil
}

// Document returns one document by id.
func (s *Store) Document(ctx context.Context, id int64) (crawler.Document, error) {
	var doc crawler.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, href, title, author, accepted_date, inserted_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Href, &doc.Title, &doc.Author, &doc.AcceptedDate, &doc.InsertedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Document{}, fmt.Errorf("document %d: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Document{}, fmt.Errorf("query document %d: %w", id, err)
	}
	return doc, nil
}

// InsertAttributes stores a document's label/value pairs. Existing keys are kept.
func (s *Store) InsertAttributes(ctx context.Context, documentID int64, attrs map[string]string) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO attributes (document_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(document_id, key) DO NOTHING`,
			documentID, k, attrs[k],
		)
		if err != nil {
			return classify(fmt.Sprintf("insert attribute %q of document %d", k, documentID), err)
		}
	}
	return nil
}

// Attributes returns a document's stored attributes.
func (s *Store) Attributes(ctx context.Context, documentID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM attributes WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	attrs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		attrs[k] = v
	}
	return attrs, rows.Err()
}

// InsertFile stores a kept file with is_local false and returns its id.
func (s *Store) InsertFile(ctx context.Context, rec crawler.FileRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (href, filename, size_mb, access, description, file_type, relative_directory, is_local, document_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		rec.Href, rec.Filename, rec.SizeMB, rec.Access, rec.Description, rec.FileType, rec.RelativeDirectory, rec.DocumentID,
	)
	if err != nil {
		return 0, classify("insert file "+rec.Href, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("file id: %w", err)
	}
	return id, nil
}

// FilesForDocument returns the stored files of one document.
func (s *Store) FilesForDocument(ctx context.Context, documentID int64) ([]crawler.FileRecord, error) {
	return s.queryFiles(ctx, `SELECT `+fileColumns+` FROM files WHERE document_id = ? ORDER BY id`, documentID)
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
	res, err := s.db.ExecContext(ctx, `UPDATE files SET is_local = 1 WHERE id = ? AND is_local = 0`, fileID)
	if err != nil {
		return fmt.Errorf("mark file %d local: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark file %d local: %w", fileID, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM files WHERE id = ?`, fileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("file %d: %w", fileID, crawler.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query file %d: %w", fileID, err)
	}
	return nil
}

// RecordFailure adds or updates a document in the failure ledger.
func (s *Store) RecordFailure(ctx context.Context, documentID int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_documents (document_id, reason) VALUES (?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			reason = excluded.reason,
			attempts = failed_documents.attempts + 1,
			updated_at = CURRENT_TIMESTAMP`,
		documentID, reason,
	)
	if err != nil {
		return classify(fmt.Sprintf("record failure of document %d", documentID), err)
	}
	return nil
}

// FailedDocuments lists the failure ledger in document order.
func (s *Store) FailedDocuments(ctx context.Context) ([]crawler.FailedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.document_id, d.href, f.reason
		 FROM failed_documents f JOIN documents d ON d.id = f.document_id
		 ORDER BY f.document_id`)
	if err != nil {
		return nil, fmt.Errorf("query failed documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failed_documents WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clear failure of document %d: %w", documentID, err)
	}
	return nil
}

// Summary counts the durable crawl state.
func (s *Store) Summary(ctx context.Context) (crawler.StoreSummary, error) {
	var sum crawler.StoreSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM files WHERE is_local = 1),
			(SELECT COUNT(*) FROM page_checkpoints),
			(SELECT COUNT(*) FROM failed_documents)`,
	).Scan(&sum.Documents, &sum.Files, &sum.LocalFiles, &sum.Checkpoints, &sum.FailedDocuments)
	if err != nil {
		return crawler.StoreSummary{}, fmt.Errorf("query summary: %w", err)
	}
	return sum, nil
}

func (s *Store) queryFiles(ctx context.Context, query string, args ...any) ([]crawler.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w: %s", op, crawler.ErrIntegrity, sqliteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w: %s", op, crawler.ErrUnknownDocument, sqliteErr.Error())
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w: %s", op, crawler.ErrIntegrity, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%s: %w: %s", op, crawler.ErrUnknownDocument, msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
