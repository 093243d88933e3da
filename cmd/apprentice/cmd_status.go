package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"apprentice/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every signature's distillation state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()

		infos, err := st.ListSignatures()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no signatures declared")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tEXAMPLES\tRECORDS\tSTUDENT\tFINGERPRINT")
		for _, info := range infos {
			state, err := st.StateInfoFor(info.Fingerprint)
			if err != nil {
				return err
			}
			student := state.StudentModel
			if student == "" {
				student = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				info.Name, info.State, info.Examples, info.Records, student, info.Fingerprint[:12])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
