package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coverbeam/coverbeam/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		exists, err := config.Loader{}.Exists(configPathFlag)
		if err != nil {
			return err
		}
		if exists && !initForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", configPathFlag)
		}

		file, err := os.Create(configPathFlag)
		if err != nil {
			return err
		}
		defer file.Close()

		scaffold := config.Config{
			Mode:       config.ModeTestwise,
			OutputDir:  "coverage-out",
			SplitAfter: 0,
			Engines: []config.Engine{{
				ID:      "example",
				ListCmd: []string{"testrunner", "list"},
				RunCmd:  []string{"testrunner", "run", "{test}"},
			}},
		}
		if err := config.Write(file, scaffold); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPathFlag)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration file")
	rootCmd.AddCommand(initCmd)
}
