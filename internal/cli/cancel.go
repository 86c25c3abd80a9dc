package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:     "cancel <session-id>...",
		Short:   "Cancel running, pending or paused harvest sessions",
		GroupID: "harvest",
		Long: `Cancel sessions permanently. A live session stops at the next page
boundary; a parked one is marked cancelled in the database. Records already
harvested stay in the database. Cancelled sessions cannot be resumed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, id := range args {
				if err := d.manager.Cancel(cmd.Context(), id); err != nil {
					d.logger.Error("cancel failed", "session", id, "error", err)
					failed++
					continue
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "cancelled session %s\n", id); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d cancellations failed", failed, len(args))
			}
			return nil
		},
	}
}
