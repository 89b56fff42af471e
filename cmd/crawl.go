package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which walks the listing and
// records documents and kept files without downloading them.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk the search listing and record documents",
		Long: `Visits listing pages in order, skipping pages already checkpointed,
registers each new document, parses its detail page and stores the files that
pass classification. Stops when the document budget or max page is reached.`,
		RunE: runCrawlCommand,
	}
	addCrawlFlags(cmd)
	return cmd
}

func addCrawlFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("max-documents", 10, "document budget for this run (0 = unbounded)")
	f.Int("max-page", 2000, "exclusive upper bound of the listing page index")
	f.String("on-parse-failure", string(crawler.FailureSkip), "failed document policy: skip or retry")
	f.Duration("delay", time.Second, "minimum interval between requests")
	f.Float64("max-size-mb", 75, "largest file kept, in MB")
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	report, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		return err
	}
	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, r crawler.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pages visited: %d  skipped: %d  failed: %d  checkpointed: %d\n",
		r.PagesVisited, r.PagesSkipped, r.PagesFailed, r.Checkpoints)
	fmt.Fprintf(out, "documents: %d  failed: %d  retried: %d\n",
		r.Documents, r.DocumentsFailed, r.DocumentsRetried)
	fmt.Fprintf(out, "files kept: %d  (%.1f MB)\n", r.FilesKept, r.KeptMB)
	switch {
	case r.Canceled:
		fmt.Fprintln(out, "stopped: canceled")
	case r.BudgetExhausted:
		fmt.Fprintln(out, "stopped: document budget reached")
	case r.EndOfResults:
		fmt.Fprintln(out, "stopped: end of results")
	}
}
