package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
)

func newStatsCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Short:   "Show database totals, top lookup keys and recent sessions",
		GroupID: "data",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := d.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), d, &statsReport{Stats: stats})
		},
	}
}

// statsReport wraps store.Stats with table and plain renderings.
type statsReport struct {
	*store.Stats
}

func (r *statsReport) WriteTable(w io.Writer) error {
	totals := [][]string{
		{"Total records", strconv.FormatInt(r.TotalRecords, 10)},
		{"MX records", strconv.FormatInt(r.ByKind[store.KindMX], 10)},
		{"NS records", strconv.FormatInt(r.ByKind[store.KindNS], 10)},
		{"Distinct MX keys", strconv.FormatInt(r.DistinctKeys[store.KindMX], 10)},
		{"Distinct NS keys", strconv.FormatInt(r.DistinctKeys[store.KindNS], 10)},
	}
	for _, name := range sortedProviders(r.ByProvider) {
		totals = append(totals, []string{"Records via " + name, strconv.FormatInt(r.ByProvider[name], 10)})
	}

	table := output.NewWrappingTable(w, 20, 6)
	table.Header([]string{"METRIC", "VALUE"})
	if err := table.Bulk(totals); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if len(r.TopKeys) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		// TopKeys arrives ordered by kind, so the hierarchical merge on the
		// KIND column collapses each group into a single cell.
		top := output.NewGroupedWrappingTable(w, 16, 7)
		top.Header([]string{"KIND", "TOP KEY", "RECORDS"})
		rows := make([][]string, 0, len(r.TopKeys))
		for _, kc := range r.TopKeys {
			rows = append(rows, []string{string(kc.LookupKind), kc.LookupKey, strconv.FormatInt(kc.Count, 10)})
		}
		if err := top.Bulk(rows); err != nil {
			return err
		}
		if err := top.Render(); err != nil {
			return err
		}
	}

	if len(r.RecentSessions) > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		list := sessionList{Sessions: r.RecentSessions}
		return list.WriteTable(w)
	}
	return nil
}

func (r *statsReport) WritePlain(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "records=%d mx=%d ns=%d distinct_mx=%d distinct_ns=%d\n",
		r.TotalRecords, r.ByKind[store.KindMX], r.ByKind[store.KindNS],
		r.DistinctKeys[store.KindMX], r.DistinctKeys[store.KindNS]); err != nil {
		return err
	}
	for _, name := range sortedProviders(r.ByProvider) {
		if _, err := fmt.Fprintf(w, "provider=%s records=%d\n", name, r.ByProvider[name]); err != nil {
			return err
		}
	}
	for _, kc := range r.TopKeys {
		if _, err := fmt.Fprintf(w, "top_key=%s kind=%s records=%d\n", kc.LookupKey, kc.LookupKind, kc.Count); err != nil {
			return err
		}
	}
	return nil
}

// sortedProviders returns the provider names in stable order.
func sortedProviders(m map[string]int64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
