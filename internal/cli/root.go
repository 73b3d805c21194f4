// Package cli provides the coverbeam command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPathFlag string
	verboseFlag    bool
	logFileFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "coverbeam",
	Short: "Test-wise coverage agent and report toolchain",
	Long: `Coverbeam collects coverage per test case. The run command drives
registered test engines and attributes coverage at every test boundary;
convert turns persisted exec data into reports offline; retry redelivers
reports whose upload failed earlier.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		configureLogger(logFileFlag, verboseFlag)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPathFlag, configFlagName, "c", defaultConfigFile, "agent configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file path (defaults to "+defaultLogFilename+")")

	cobra.CheckErr(viper.BindPFlag(configFlagName, rootCmd.PersistentFlags().Lookup(configFlagName)))
	cobra.CheckErr(viper.BindPFlag(logVerboseKey, rootCmd.PersistentFlags().Lookup(verboseFlagName)))
	cobra.CheckErr(viper.BindPFlag(logFilenameKey, rootCmd.PersistentFlags().Lookup(logFileFlagName)))
}

// Execute runs the command tree. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
