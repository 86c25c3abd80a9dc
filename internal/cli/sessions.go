package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/validate"
)

func newSessionsCmd(d *deps) *cobra.Command {
	var (
		flagState string
		flagKey   string
		flagKind  string
		flagLimit int
	)

	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "List harvest sessions",
		GroupID: "harvest",
		Args:    cobra.NoArgs,
		Example: `  revharvest sessions
  revharvest sessions --state paused
  revharvest sessions --key mx01.ionos.de --limit 5
  revharvest sessions show 4f7c21aa-8a4e-4c9e-b342-1de0d134f6a1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.SessionFilter{
				LookupKey: validate.NormalizeDomain(flagKey),
			}
			// The persistent --provider flag selects the provider for new
			// harvests; as a filter it only applies when given explicitly.
			if cmd.Flags().Changed("provider") {
				f.Provider = d.cfg.Provider
			}
			if flagState != "" {
				state, err := store.ParseState(flagState)
				if err != nil {
					return err
				}
				f.State = state
			}
			if flagKind != "" {
				kind, err := store.ParseKind(flagKind)
				if err != nil {
					return err
				}
				f.LookupKind = kind
			}

			sessions, err := d.manager.List(cmd.Context(), f, flagLimit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				d.logger.Info("no sessions match")
				return nil
			}
			return writeResult(cmd.OutOrStdout(), d, &sessionList{Sessions: sessions})
		},
	}

	cmd.Flags().StringVar(&flagState, "state", "", "filter by state: pending, running, paused, completed, failed, cancelled")
	_ = cmd.RegisterFlagCompletionFunc("state", config.CompleteSessionState)
	cmd.Flags().StringVar(&flagKey, "key", "", "filter by lookup key")
	cmd.Flags().StringVarP(&flagKind, "kind", "k", "", "filter by lookup kind: mx, ns")
	_ = cmd.RegisterFlagCompletionFunc("kind", config.CompleteKind)
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum sessions to list (0 = all)")

	cmd.AddCommand(newSessionsShowCmd(d))
	return cmd
}

func newSessionsShowCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := d.manager.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), d, &sessionDetail{Session: sess})
		},
	}
}

// sessionList renders multiple sessions, one row each.
type sessionList struct {
	Sessions []*store.Session `json:"sessions"`
}

func (l *sessionList) WriteTable(w io.Writer) error {
	table := output.NewWrappingTable(w, 12, 9)
	table.Header([]string{"ID", "KEY", "KIND", "PROVIDER", "STATE", "PAGES", "FETCHED", "NEW", "UPDATED"})
	rows := make([][]string, 0, len(l.Sessions))
	for _, s := range l.Sessions {
		rows = append(rows, []string{
			s.ID,
			s.LookupKey,
			string(s.LookupKind),
			s.Provider,
			string(s.State),
			strconv.FormatInt(s.PagesFetched, 10),
			strconv.FormatInt(s.RecordsFetched, 10),
			strconv.FormatInt(s.RecordsNew, 10),
			fmtTime(s.UpdatedAt),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (l *sessionList) WritePlain(w io.Writer) error {
	for _, s := range l.Sessions {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.LookupKey, s.LookupKind, s.Provider, s.State,
			s.PagesFetched, s.RecordsFetched, s.RecordsNew); err != nil {
			return err
		}
	}
	return nil
}

// sessionDetail renders one session as a field/value listing.
type sessionDetail struct {
	Session *store.Session `json:"session"`
}

func (sd *sessionDetail) WriteTable(w io.Writer) error {
	s := sd.Session
	finished := ""
	if s.FinishedAt != nil {
		finished = fmtTime(*s.FinishedAt)
	}
	rows := [][]string{
		{"ID", s.ID},
		{"Lookup key", s.LookupKey},
		{"Kind", string(s.LookupKind)},
		{"Provider", s.Provider},
		{"State", string(s.State)},
		{"Cursor", s.Cursor},
		{"Pages fetched", strconv.FormatInt(s.PagesFetched, 10)},
		{"Records fetched", strconv.FormatInt(s.RecordsFetched, 10)},
		{"Records new", strconv.FormatInt(s.RecordsNew, 10)},
		{"Records dropped", strconv.FormatInt(s.RecordsDropped, 10)},
		{"Started", fmtTime(s.StartedAt)},
		{"Updated", fmtTime(s.UpdatedAt)},
		{"Finished", finished},
		{"Last error", s.LastError},
	}
	table := output.NewWrappingTable(w, 16, 6)
	table.Header([]string{"FIELD", "VALUE"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (sd *sessionDetail) WritePlain(w io.Writer) error {
	s := sd.Session
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
		s.ID, s.LookupKey, s.LookupKind, s.Provider, s.State,
		s.PagesFetched, s.RecordsFetched, s.RecordsNew, s.LastError)
	return err
}

// fmtTime renders timestamps for tables.
func fmtTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
