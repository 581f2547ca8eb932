package cmd

import (
	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/spf13/cobra"
)

// compactCmd represents the compact command
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Reclaim space held by overwritten and deleted values",
	Long: `Rewrite the store so it only holds live values.

Supported by the log and pebble engines.

Example:
  cashbox compact --data-dir=./data`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *session.Session) error {
			e := s.Engine()

			before, err := e.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.Compact(cmd.Context()); err != nil {
				return err
			}
			after, err := e.Stats(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("Compacted %s store: %d live keys\n", e.Name(), after.Keys)
			if before.DataSize > 0 {
				cmd.Printf("Size: %d -> %d bytes\n", before.DataSize, after.DataSize)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
