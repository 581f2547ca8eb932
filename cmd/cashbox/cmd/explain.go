package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TravisTheTechie/Cashbox/pkg/engine"
	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/TravisTheTechie/Cashbox/pkg/store"
	"github.com/spf13/cobra"
)

// explainCmd represents the explain command
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show store statistics and diagnostics",
	Long: `Print statistics about the store as JSON.

The log engine reports dead space, recovery details and sample records;
other engines report key counts per table.

Example:
  cashbox explain --samples 5
  cashbox explain --table Customer`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, _ := cmd.Flags().GetInt("samples")
		table, _ := cmd.Flags().GetString("table")

		return withSession(cmd.Context(), func(s *session.Session) error {
			var out any

			res, err := s.Engine().Explain(cmd.Context(), store.ExplainOptions{WithSamples: samples, Table: table})
			switch {
			case err == nil:
				out = res
			case errors.Is(err, engine.ErrUnsupported):
				stats, err := s.Engine().Stats(cmd.Context())
				if err != nil {
					return err
				}
				out = stats
			default:
				return err
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().Int("samples", 0, "Number of records to sample")
	explainCmd.Flags().String("table", "", "Restrict statistics and samples to one table")
}
