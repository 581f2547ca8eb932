package cmd

import (
	"fmt"

	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List the entries of a table",
	Long: `List every key and value in a table, ordered by key.

Example:
  cashbox list Customer
  cashbox list Customer --keys-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keysOnly, _ := cmd.Flags().GetBool("keys-only")

		return withSession(cmd.Context(), func(s *session.Session) error {
			entries, err := s.Engine().List(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, entry := range entries {
				if keysOnly {
					fmt.Fprintln(out, entry.Key)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", entry.Key, entry.Value)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().Bool("keys-only", false, "Print keys without values")
}
