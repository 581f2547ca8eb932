package cmd

import (
	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/spf13/cobra"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <table> <key>",
	Short: "Delete a value",
	Long: `Delete the value stored under a table and key.

Example:
  cashbox delete Customer 42`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, key := args[0], args[1]

		return withSession(cmd.Context(), func(s *session.Session) error {
			if err := s.Engine().Remove(cmd.Context(), table, key); err != nil {
				return err
			}
			cmd.Printf("Deleted %s/%s\n", table, key)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
