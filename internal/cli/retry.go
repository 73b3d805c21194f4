package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coverbeam/coverbeam/internal/upload"
)

var (
	retryDir   string
	retryWatch bool
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Redeliver reports whose upload failed earlier",
	Long: `Retry scans the output directory for retry markers left behind by
failed uploads and attempts each delivery again. With --watch it keeps
running and retries as soon as new markers appear.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result := upload.RetryScan(ctx, retryDir)
		fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, delivered %d, remaining %d, corrupt %d\n",
			result.Attempted, result.Delivered, result.Remaining, result.Corrupt)

		if !retryWatch {
			return nil
		}
		watcher, err := upload.NewWatcher(retryDir)
		if err != nil {
			return fmt.Errorf("watching %s: %w", retryDir, err)
		}
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVarP(&retryDir, "dir", "d", "coverage-out", "directory to scan for retry markers")
	retryCmd.Flags().BoolVarP(&retryWatch, "watch", "w", false, "keep running and retry new markers as they appear")
	rootCmd.AddCommand(retryCmd)
}
