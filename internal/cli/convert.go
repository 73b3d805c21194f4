package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coverbeam/coverbeam/internal/convert"
)

var (
	convertExecData   []string
	convertClassDirs  []string
	convertOut        string
	convertTestwise   bool
	convertSplitAfter int
	convertDuplicates string
	convertPartial    bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert persisted exec data into reports offline",
	Long: `Convert reads exec-data files written by a previous run (or by a
recording endpoint) and produces the report artifacts without a live
agent: testwise report shards, or a merged session XML report.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		policy, err := convert.ParsePolicy(convertDuplicates)
		if err != nil {
			return err
		}
		summary, err := convert.Run(cmd.Context(), convert.Options{
			ExecDataFiles: convertExecData,
			ClassDirs:     convertClassDirs,
			OutputDir:     convertOut,
			Testwise:      convertTestwise,
			SplitAfter:    convertSplitAfter,
			Duplicates:    policy,
			Partial:       convertPartial,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "converted %d tests into %d report file(s)\n", summary.Tests, len(summary.Outputs))
		for _, out := range summary.Outputs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", out)
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().StringArrayVar(&convertExecData, "exec-data", nil, "exec-data file to convert (repeatable)")
	convertCmd.Flags().StringArrayVar(&convertClassDirs, "class-dir", nil, "only keep coverage for files under this directory (repeatable)")
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "coverage-out", "output directory for the reports")
	convertCmd.Flags().BoolVar(&convertTestwise, "testwise-coverage", false, "produce testwise report shards instead of a merged session report")
	convertCmd.Flags().IntVar(&convertSplitAfter, "split-after", 0, "tests per testwise report shard (0 uses the default)")
	convertCmd.Flags().StringVar(&convertDuplicates, "duplicate-policy", "warn", "handling of duplicate file entries: fail, warn or ignore")
	convertCmd.Flags().BoolVar(&convertPartial, "partial", false, "mark the testwise report as covering a subset of all tests")
	rootCmd.AddCommand(convertCmd)
}
