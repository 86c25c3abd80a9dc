package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd(d *deps) *cobra.Command {
	var flagForce bool

	cmd := &cobra.Command{
		Use:     "purge",
		Short:   "Delete every harvested record and session",
		GroupID: "data",
		Args:    cobra.NoArgs,
		Long: `Empty the database: all records and all sessions. There is no undo.
Requires --force.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !flagForce {
				return fmt.Errorf("refusing to purge without --force")
			}
			res, err := d.store.Purge(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d records and %d sessions\n", res.Records, res.Sessions)
			return err
		},
	}

	cmd.Flags().BoolVar(&flagForce, "force", false, "confirm deleting all data")
	return cmd
}
