package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all sources and URL records",
	Long: `Clear wipes the local database. Every source is removed and every
source will go through its first run again if re-registered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearForce {
			return fmt.Errorf("refusing to wipe the database without --force")
		}

		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(store)

		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database cleared")
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "confirm wiping the database")
	rootCmd.AddCommand(clearCmd)
}
