package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/thesis-harvester/internal/app"
	"github.com/JakeFAU/thesis-harvester/internal/config"
	"github.com/JakeFAU/thesis-harvester/internal/crawler"
	"github.com/JakeFAU/thesis-harvester/internal/syncer"
)

type fakeHarvester struct {
	cfg     config.Config
	report  crawler.Report
	result  syncer.Result
	status  syncer.Status
	summary crawler.StoreSummary
	err     error
	calls   []string
	closed  bool
}

func (f *fakeHarvester) Crawl(context.Context) (crawler.Report, error) {
	f.calls = append(f.calls, "crawl")
	return f.report, f.err
}

func (f *fakeHarvester) Sync(context.Context) (syncer.Result, error) {
	f.calls = append(f.calls, "sync")
	return f.result, f.err
}

func (f *fakeHarvester) Run(context.Context) (crawler.Report, syncer.Result, error) {
	f.calls = append(f.calls, "run")
	return f.report, f.result, f.err
}

func (f *fakeHarvester) Status(context.Context) (syncer.Status, error) {
	f.calls = append(f.calls, "status")
	return f.status, f.err
}

func (f *fakeHarvester) Summary(context.Context) (crawler.StoreSummary, error) {
	return f.summary, f.err
}

func (f *fakeHarvester) Serve(context.Context) error {
	f.calls = append(f.calls, "serve")
	return f.err
}

func (f *fakeHarvester) Close() error {
	f.closed = true
	return nil
}

// execute runs the root command against a fake application and returns stdout.
func execute(t *testing.T, fake *fakeHarvester, args ...string) (string, error) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (app.Harvester, error) {
		fake.cfg = cfg
		return fake, nil
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--data-dir", t.TempDir(), "--dev=false", "--log-level=error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommand(t *testing.T) {
	fake := &fakeHarvester{report: crawler.Report{PagesVisited: 2, Checkpoints: 2, Documents: 3, FilesKept: 1, KeptMB: 2.1, EndOfResults: true}}

	out, err := execute(t, fake, "crawl", "--max-documents", "5", "--delay", "250ms")
	require.NoError(t, err)

	assert.Equal(t, []string{"crawl"}, fake.calls)
	assert.True(t, fake.closed)
	assert.Equal(t, 5, fake.cfg.Crawler.MaxDocuments)
	assert.Equal(t, "250ms", fake.cfg.Fetcher.Delay.String())
	assert.Contains(t, out, "documents: 3")
	assert.Contains(t, out, "files kept: 1")
	assert.Contains(t, out, "end of results")
}

func TestSyncCommand(t *testing.T) {
	fake := &fakeHarvester{result: syncer.Result{Attempted: 2, Synced: 1, Failed: 1}}

	out, err := execute(t, fake, "sync", "--courtesy-delay", "0s")
	require.NoError(t, err)

	assert.Equal(t, []string{"sync"}, fake.calls)
	assert.Zero(t, fake.cfg.Sync.CourtesyDelay)
	assert.Contains(t, out, "synced: 1")
}

func TestRunCommand(t *testing.T) {
	fake := &fakeHarvester{}

	_, err := execute(t, fake, "run", "--on-parse-failure", "retry")
	require.NoError(t, err)

	assert.Equal(t, []string{"run"}, fake.calls)
	assert.Equal(t, crawler.FailureRetry, fake.cfg.Crawler.FailurePolicy())
}

func TestStatusCommand(t *testing.T) {
	fake := &fakeHarvester{
		status:  syncer.Status{FilesLocal: 1, FilesRemaining: 0, MBLocal: 2.1, Percent: 100},
		summary: crawler.StoreSummary{Documents: 2, Files: 1, LocalFiles: 1, Checkpoints: 2},
	}

	t.Run("text", func(t *testing.T) {
		out, err := execute(t, fake, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Thesis corpus sync 100.0%")
		assert.Contains(t, out, "files downloaded:      1")
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, fake, "status", "--format", "json")
		require.NoError(t, err)
		assert.Contains(t, out, `"files_local": 1`)
		assert.Contains(t, out, `"checkpoints": 2`)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, fake, "status", "--format", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "files_local: 1")
		assert.Contains(t, out, "checkpoints: 2")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, fake, "status", "--format", "xml")
		require.Error(t, err)
	})
}

func TestServeCommand(t *testing.T) {
	fake := &fakeHarvester{}

	_, err := execute(t, fake, "serve", "--addr", "127.0.0.1:9999")
	require.NoError(t, err)

	assert.Equal(t, []string{"serve"}, fake.calls)
	assert.Equal(t, "127.0.0.1:9999", fake.cfg.Server.Addr)
}

func TestCommandErrorsPropagate(t *testing.T) {
	fake := &fakeHarvester{err: errors.New("store offline")}

	_, err := execute(t, fake, "crawl")
	require.ErrorContains(t, err, "store offline")
}

func TestInvalidConfigFailsBeforeAppIsBuilt(t *testing.T) {
	fake := &fakeHarvester{}

	_, err := execute(t, fake, "crawl", "--on-parse-failure", "ignore")
	require.ErrorContains(t, err, "on_parse_failure")
	assert.Empty(t, fake.calls)
}

func TestResolveAppWithoutInit(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
