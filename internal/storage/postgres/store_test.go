package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
}

func TestInsertDocument(t *testing.T) {
	stub := crawler.DocumentStub{Href: "/handle/1946/1", Title: "Ritgerð", Author: "Anna", AcceptedDate: "19.6.2019"}

	t.Run("returns the new id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(stub.Href, stub.Title, stub.Author, stub.AcceptedDate).
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

		id, err := store.InsertDocument(context.Background(), stub)
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
	})

	t.Run("unique violation is an integrity error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(stub.Href, stub.Title, stub.Author, stub.AcceptedDate).
			WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, Message: "duplicate key"})

		_, err := store.InsertDocument(context.Background(), stub)
		require.ErrorIs(t, err, crawler.ErrIntegrity)
	})
}

func TestDocumentIDByHref(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id FROM documents").
		WithArgs("/handle/1946/1").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT id FROM documents").
		WithArgs("/handle/1946/404").
		WillReturnRows(mock.NewRows([]string{"id"}))

	id, err := store.DocumentIDByHref(context.Background(), "/handle/1946/1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	_, err = store.DocumentIDByHref(context.Background(), "/handle/1946/404")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestCheckpoints(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO page_checkpoints").
		WithArgs(2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT page_index FROM page_checkpoints").
		WillReturnRows(mock.NewRows([]string{"page_index"}).AddRow(int32(1)).AddRow(int32(2)))

	ctx := context.Background()
	require.NoError(t, store.InsertPageCheckpoint(ctx, 2))

	pages, err := store.CheckpointedPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{1: {}, 2: {}}, pages)
}

func TestKnownHrefs(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT href FROM documents").
		WillReturnRows(mock.NewRows([]string{"href"}).AddRow("/handle/1946/1").AddRow("/handle/1946/2"))

	hrefs, err := store.KnownHrefs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"/handle/1946/1": {}, "/handle/1946/2": {}}, hrefs)
}

func TestInsertAttributes(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO attributes").
		WithArgs(int64(4), "Titill", "Ritgerð").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO attributes").
		WithArgs(int64(4), "kind", "Lokaverkefni").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.InsertAttributes(context.Background(), 4, map[string]string{"kind": "Lokaverkefni", "Titill": "Ritgerð"})
	require.NoError(t, err)
}

func TestInsertFile(t *testing.T) {
	rec := crawler.FileRecord{
		Href:              "https://skemman.is/bitstream/1946/1/Ritgerd.pdf",
		Filename:          "Ritgerd.pdf",
		SizeMB:            2.1,
		Access:            "Opinn",
		Description:       "Heildartexti",
		FileType:          "PDF",
		RelativeDirectory: "haskoli_islands",
		DocumentID:        4,
	}

	t.Run("returns the new id", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO files").
			WithArgs(rec.Href, rec.Filename, rec.SizeMB, rec.Access, rec.Description, rec.FileType, rec.RelativeDirectory, rec.DocumentID).
			WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(11)))

		id, err := store.InsertFile(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
	})

	t.Run("foreign key violation is an unknown document", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO files").
			WithArgs(rec.Href, rec.Filename, rec.SizeMB, rec.Access, rec.Description, rec.FileType, rec.RelativeDirectory, rec.DocumentID).
			WillReturnError(&pgconn.PgError{Code: codeForeignKeyViolation, Message: "violates foreign key"})

		_, err := store.InsertFile(context.Background(), rec)
		require.ErrorIs(t, err, crawler.ErrUnknownDocument)
	})
}

func TestPendingFiles(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "href", "filename", "size_mb", "access", "description", "file_type", "relative_directory", "is_local", "document_id"}
	mock.ExpectQuery("FROM pending_files").
		WillReturnRows(mock.NewRows(cols).AddRow(
			int64(11), "https://skemman.is/a.pdf", "a.pdf", 1.5, "Opinn", "Heildartexti", "PDF", "hi", false, int64(4),
		))

	files, err := store.PendingFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, crawler.FileRecord{
		ID: 11, Href: "https://skemman.is/a.pdf", Filename: "a.pdf", SizeMB: 1.5, Access: "Opinn",
		Description: "Heildartexti", FileType: "PDF", RelativeDirectory: "hi", DocumentID: 4,
	}, files[0])
}

func TestMarkFileLocal(t *testing.T) {
	t.Run("flips the flag", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE files SET is_local").
			WithArgs(int64(11)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.MarkFileLocal(context.Background(), 11))
	})

	t.Run("already local is a no-op", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE files SET is_local").
			WithArgs(int64(11)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT TRUE FROM files").
			WithArgs(int64(11)).
			WillReturnRows(mock.NewRows([]string{"bool"}).AddRow(true))

		require.NoError(t, store.MarkFileLocal(context.Background(), 11))
	})

	t.Run("unknown file", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE files SET is_local").
			WithArgs(int64(99)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT TRUE FROM files").
			WithArgs(int64(99)).
			WillReturnRows(mock.NewRows([]string{"bool"}))

		require.ErrorIs(t, store.MarkFileLocal(context.Background(), 99), crawler.ErrNotFound)
	})
}

func TestFailureLedger(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	mock.ExpectExec("INSERT INTO failed_documents").
		WithArgs(int64(4), "parse: missing file table").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM failed_documents f JOIN documents d").
		WillReturnRows(mock.NewRows([]string{"document_id", "href", "reason"}).
			AddRow(int64(4), "/handle/1946/bad", "parse: missing file table"))
	mock.ExpectExec("DELETE FROM failed_documents").
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.RecordFailure(ctx, 4, "parse: missing file table"))

	failed, err := store.FailedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []crawler.FailedDocument{{DocumentID: 4, Href: "/handle/1946/bad", Reason: "parse: missing file table"}}, failed)

	require.NoError(t, store.ClearFailure(ctx, 4))
}

func TestSummary(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(mock.NewRows([]string{"documents", "files", "local", "checkpoints", "failed"}).
			AddRow(int64(5), int64(3), int64(1), int64(2), int64(0)))

	sum, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.StoreSummary{Documents: 5, Files: 3, LocalFiles: 1, Checkpoints: 2}, sum)
}

func TestClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
