package cmd

import (
	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/spf13/cobra"
)

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <table> <key> <value>",
	Short: "Store a value",
	Long: `Store a raw value under a table and key.

Example:
  cashbox put Customer 42 '{"name":"Ada"}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, key, value := args[0], args[1], []byte(args[2])

		return withSession(cmd.Context(), func(s *session.Session) error {
			if err := s.Engine().Store(cmd.Context(), table, key, value); err != nil {
				return err
			}
			cmd.Printf("Stored %s/%s (%d bytes)\n", table, key, len(value))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
}
