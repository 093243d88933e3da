package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"apprentice/internal/align"
	"apprentice/internal/store"
)

var alignCmd = &cobra.Command{
	Use:   "align <suite.yaml>...",
	Short: "Declare alignment suites from YAML files",
	Long: `Loads one or more alignment suite files and persists them. Each suite
declares a function signature plus its full set of input/output examples;
declaring a suite replaces any previously stored examples for that
signature.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, path := range args {
			suite, err := align.LoadSuite(path)
			if err != nil {
				return err
			}
			if err := suite.Run(st); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("aligned %s: %d examples (%s)\n",
				suite.Signature.Name, len(suite.Asserts), suite.Signature.Fingerprint()[:12])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alignCmd)
}
