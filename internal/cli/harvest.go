package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/dnscheck"
	"github.com/revharvest/revharvest/internal/harvest"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/worker"
)

// progressInterval is how often foreground commands log session progress.
const progressInterval = 5 * time.Second

func newHarvestCmd(d *deps) *cobra.Command {
	var (
		flagKind     string
		flagMaxPages int
		flagRefresh  bool
		flagVerify   bool
		flagDetach   bool
	)

	cmd := &cobra.Command{
		Use:     "harvest [key]...",
		Short:   "Harvest domains pointing at one or more mail or name servers",
		GroupID: "harvest",
		Long: `Harvest every domain whose MX (or NS) record points at the given lookup
keys. Keys are read from the arguments, or from stdin one per line when no
arguments are given. Each key runs as its own session; sessions run
concurrently up to --concurrency.

Results land in the local database, deduplicated across providers and runs.
Ctrl-C pauses all running sessions with their cursors persisted; resume them
later with 'revharvest resume'.`,
		Example: `  revharvest harvest mx01.ionos.de
  revharvest harvest --kind ns ns1.hetzner.com ns2.hetzner.com
  cat targets.txt | revharvest harvest --provider securitytrails
  revharvest harvest --refresh --verify mx01.ionos.de`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := store.ParseKind(flagKind)
			if err != nil {
				return err
			}
			providerName := d.cfg.Provider
			if err := d.requireAPIKey(providerName); err != nil {
				return err
			}

			raw, err := resolveInputs(cmd, args)
			if err != nil {
				return err
			}
			keys := normalizeKeys(raw)
			if len(keys) == 0 {
				return fmt.Errorf("no lookup keys provided")
			}

			if flagMaxPages > 0 {
				client, err := d.newProviderClient(providerName, flagMaxPages)
				if err != nil {
					return err
				}
				d.manager.RegisterClient(client)
			}

			if flagVerify {
				warnDeadKeys(cmd.Context(), d, keys)
			}

			fn := func(ctx context.Context, key string) (*store.Session, error) {
				sess, err := d.manager.Start(ctx, harvest.StartRequest{
					LookupKey:  key,
					LookupKind: kind,
					Provider:   providerName,
					Refresh:    flagRefresh,
				})
				if err != nil {
					return nil, err
				}
				if flagDetach {
					return sess, nil
				}
				return awaitSession(ctx, d, sess.ID)
			}

			pool := worker.NewPool(d.cfg.Concurrency, d.logger)
			results := pool.Run(cmd.Context(), keys, fn)

			if flagDetach {
				d.logger.Info("sessions started in detached mode; they pause when this process exits and can be resumed",
					"count", len(results))
			}
			return renderWorkerResults(cmd.OutOrStdout(), d, results)
		},
	}

	cmd.Flags().StringVarP(&flagKind, "kind", "k", "mx", "lookup kind: mx, ns")
	_ = cmd.RegisterFlagCompletionFunc("kind", config.CompleteKind)
	cmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "page cap for this run (0 = provider default; capped providers never exceed their own cap)")
	cmd.Flags().BoolVar(&flagRefresh, "refresh", false, "update provider and fetch metadata on records that already exist")
	cmd.Flags().BoolVar(&flagVerify, "verify", false, "warn when a key does not resolve in DNS before harvesting")
	cmd.Flags().BoolVar(&flagDetach, "detach", false, "start sessions and return without waiting; sessions pause on exit")

	return cmd
}

// warnDeadKeys runs a DNS existence check for every key and warns about the
// ones that do not resolve. Never fatal: dead hosts can still have reverse
// data at the providers.
func warnDeadKeys(ctx context.Context, d *deps, keys []string) {
	checker := dnscheck.New(d.logger)
	for _, key := range keys {
		res, err := checker.Check(ctx, key)
		if err != nil {
			d.logger.Warn("DNS verification failed", "key", key, "error", err)
			continue
		}
		if !res.Exists {
			d.logger.Warn("lookup key does not resolve in DNS", "key", key, "rcode", res.Rcode)
		}
	}
}

// awaitSession blocks until the session's runner finishes, logging progress
// along the way, and returns the final persisted session.
func awaitSession(ctx context.Context, d *deps, id string) (*store.Session, error) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.manager.Wait(id):
			// The final read must survive a SIGINT-cancelled ctx: the session
			// paused itself and its last state is what the user needs to see.
			return d.manager.Get(context.Background(), id)
		case <-ticker.C:
			snap, err := d.manager.Get(ctx, id)
			if err != nil {
				continue
			}
			d.logger.Info("harvest progress",
				"session", snap.ID,
				"key", snap.LookupKey,
				"state", snap.State,
				"pages", snap.PagesFetched,
				"fetched", snap.RecordsFetched,
				"new", snap.RecordsNew,
			)
		}
	}
}

// sessionRow is one rendered line of a bulk harvest or resume run.
type sessionRow struct {
	Key     string `json:"key"`
	Session string `json:"session_id,omitempty"`
	State   string `json:"state,omitempty"`
	Pages   int64  `json:"pages_fetched"`
	Fetched int64  `json:"records_fetched"`
	New     int64  `json:"records_new"`
	Dropped int64  `json:"records_dropped"`
	Error   string `json:"error,omitempty"`
}

type sessionReport struct {
	Rows []sessionRow `json:"results"`
}

func (r *sessionReport) WriteTable(w io.Writer) error {
	table := output.NewWrappingTable(w, 12, 8)
	table.Header([]string{"KEY", "SESSION", "STATE", "PAGES", "FETCHED", "NEW", "ERROR"})
	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		rows = append(rows, []string{
			row.Key,
			row.Session,
			row.State,
			strconv.FormatInt(row.Pages, 10),
			strconv.FormatInt(row.Fetched, 10),
			strconv.FormatInt(row.New, 10),
			row.Error,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (r *sessionReport) WritePlain(w io.Writer) error {
	for _, row := range r.Rows {
		status := row.State
		if row.Error != "" {
			status = "error"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			row.Key, row.Session, status, row.Pages, row.Fetched, row.New, row.Error); err != nil {
			return err
		}
	}
	return nil
}

// renderWorkerResults prints one line per key and fails the command when any
// session failed, so exit codes stay meaningful in scripts.
func renderWorkerResults(stdout io.Writer, d *deps, results []worker.Result) error {
	report := &sessionReport{Rows: make([]sessionRow, 0, len(results))}
	failed := 0
	for _, res := range results {
		row := sessionRow{Key: res.Key}
		if res.Session != nil {
			row.Session = res.Session.ID
			row.State = string(res.Session.State)
			row.Pages = res.Session.PagesFetched
			row.Fetched = res.Session.RecordsFetched
			row.New = res.Session.RecordsNew
			row.Dropped = res.Session.RecordsDropped
			row.Error = res.Session.LastError
		}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		if res.Err != nil || (res.Session != nil && res.Session.State == store.StateFailed) {
			failed++
		}
		report.Rows = append(report.Rows, row)
	}

	if err := writeResult(stdout, d, report); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d harvests failed", failed, len(results))
	}
	return nil
}
