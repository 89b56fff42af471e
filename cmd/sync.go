package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/thesis-harvester/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download pending open-access files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printSyncResult(cmd, res)
			return nil
		},
	}
	addSyncFlags(cmd)
	return cmd
}

func addSyncFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("base-dir", "", "download directory (default <data-dir>/pdf)")
	f.Duration("courtesy-delay", 2*time.Second, "pause between downloads")
}

func printSyncResult(cmd *cobra.Command, res syncer.Result) {
	fmt.Fprintf(cmd.OutOrStdout(), "files attempted: %d  synced: %d  already local: %d  failed: %d\n",
		res.Attempted, res.Synced, res.AlreadyLocal, res.Failed)
	if res.Canceled {
		fmt.Fprintln(cmd.OutOrStdout(), "stopped: canceled")
	}
}

// newRunCmd crawls and then syncs in one invocation.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl, then download pending files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, res, err := appInstance.Run(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd, report)
			if !report.Canceled {
				printSyncResult(cmd, res)
			}
			return nil
		},
	}
	addCrawlFlags(cmd)
	addSyncFlags(cmd)
	return cmd
}
