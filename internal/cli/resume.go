package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/worker"
)

func newResumeCmd(d *deps) *cobra.Command {
	var (
		flagAll     bool
		flagRefresh bool
	)

	cmd := &cobra.Command{
		Use:     "resume [session-id]...",
		Short:   "Resume paused or failed harvest sessions from their cursors",
		GroupID: "harvest",
		Long: `Resume sessions from where they left off. A resumed session re-fetches at
most the one page that was in flight when it stopped; everything before the
cursor is already in the database.

--all resumes every paused session. Failed sessions can be resumed by id once
the underlying problem (quota, credentials, outage) is fixed.`,
		Example: `  revharvest resume 4f7c21aa-8a4e-4c9e-b342-1de0d134f6a1
  revharvest resume --all
  revharvest resume --refresh 4f7c21aa-8a4e-4c9e-b342-1de0d134f6a1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if flagAll {
				if len(args) > 0 {
					return fmt.Errorf("pass session ids or --all, not both")
				}
				paused, err := d.manager.List(cmd.Context(), store.SessionFilter{State: store.StatePaused}, 0)
				if err != nil {
					return err
				}
				if len(paused) == 0 {
					d.logger.Info("no paused sessions to resume")
					return nil
				}
				for _, sess := range paused {
					ids = append(ids, sess.ID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("pass at least one session id or --all")
			}

			results := make([]worker.Result, 0, len(ids))
			waiting := make([]string, 0, len(ids))
			keys := make(map[string]string, len(ids))
			for _, id := range ids {
				sess, err := resumeOne(cmd, d, id, flagRefresh)
				if err != nil {
					results = append(results, worker.Result{Key: id, Err: err})
					continue
				}
				waiting = append(waiting, sess.ID)
				keys[sess.ID] = sess.LookupKey
			}

			// Resumed runners are already in flight; wait for each in turn.
			for _, id := range waiting {
				sess, err := awaitSession(cmd.Context(), d, id)
				results = append(results, worker.Result{Key: keys[id], Session: sess, Err: err})
			}

			return renderWorkerResults(cmd.OutOrStdout(), d, results)
		},
	}

	cmd.Flags().BoolVar(&flagAll, "all", false, "resume every paused session")
	cmd.Flags().BoolVar(&flagRefresh, "refresh", false, "update provider and fetch metadata on records that already exist")

	return cmd
}

// resumeOne validates the provider key for the session and relaunches it.
func resumeOne(cmd *cobra.Command, d *deps, id string, refresh bool) (*store.Session, error) {
	sess, err := d.manager.Get(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := d.requireAPIKey(sess.Provider); err != nil {
		return nil, err
	}
	return d.manager.Resume(cmd.Context(), id, refresh)
}
