package cmd

import (
	"fmt"

	"github.com/TravisTheTechie/Cashbox/pkg/session"
	"github.com/spf13/cobra"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <table> <key>",
	Short: "Get a value",
	Long: `Get the value stored under a table and key.

With --default the value is stored first when the key is missing.

Example:
  cashbox get Customer 42
  cashbox get Counter hits --default 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, key := args[0], args[1]

		return withSession(cmd.Context(), func(s *session.Session) error {
			var value []byte
			if cmd.Flags().Changed("default") {
				def, _ := cmd.Flags().GetString("default")
				v, err := s.Engine().RetrieveWithDefault(cmd.Context(), table, key, []byte(def))
				if err != nil {
					return err
				}
				value = v
			} else {
				v, ok, err := s.Engine().Retrieve(cmd.Context(), table, key)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %s/%s not found", table, key)
				}
				value = v
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().String("default", "", "Value to store and return when the key is missing")
}
