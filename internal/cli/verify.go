package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/dnscheck"
	"github.com/revharvest/revharvest/internal/output"
)

func newVerifyCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:     "verify [host]...",
		Short:   "Check that lookup targets resolve in DNS",
		GroupID: "data",
		Long: `Query the system resolvers for A and AAAA records of each host, from the
arguments or stdin. Useful before a harvest: a key that no longer resolves is
often retired, though providers may still hold reverse data for it.`,
		Example: `  revharvest verify mx01.ionos.de
  cat targets.txt | revharvest verify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := resolveInputs(cmd, args)
			if err != nil {
				return err
			}
			hosts = normalizeKeys(hosts)
			if len(hosts) == 0 {
				return fmt.Errorf("no hosts provided")
			}

			checker := dnscheck.New(d.logger)
			report := &verifyReport{Rows: make([]verifyRow, 0, len(hosts))}
			failed := 0
			for _, host := range hosts {
				res, err := checker.Check(cmd.Context(), host)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					report.Rows = append(report.Rows, verifyRow{Host: host, Error: err.Error()})
					failed++
					continue
				}
				report.Rows = append(report.Rows, verifyRow{
					Host:      res.Host,
					Exists:    res.Exists,
					Rcode:     res.Rcode,
					Addresses: res.Addresses,
					LatencyMS: res.Latency.Milliseconds(),
				})
			}

			if err := writeResult(cmd.OutOrStdout(), d, report); err != nil {
				return err
			}
			if failed == len(hosts) {
				return fmt.Errorf("all %d DNS checks failed", failed)
			}
			return nil
		},
	}
}

// verifyRow is the outcome of one DNS existence check.
type verifyRow struct {
	Host      string   `json:"host"`
	Exists    bool     `json:"exists"`
	Rcode     string   `json:"rcode,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	LatencyMS int64    `json:"latency_ms,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type verifyReport struct {
	Rows []verifyRow `json:"results"`
}

func (r *verifyReport) WriteTable(w io.Writer) error {
	table := output.NewWrappingTable(w, 14, 6)
	table.Header([]string{"HOST", "EXISTS", "RCODE", "ADDRESSES", "ERROR"})
	rows := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		rows = append(rows, []string{
			row.Host,
			fmt.Sprintf("%v", row.Exists),
			row.Rcode,
			strings.Join(row.Addresses, ", "),
			row.Error,
		})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func (r *verifyReport) WritePlain(w io.Writer) error {
	for _, row := range r.Rows {
		status := "dead"
		if row.Exists {
			status = "alive"
		}
		if row.Error != "" {
			status = "error"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", row.Host, status, strings.Join(row.Addresses, ",")); err != nil {
			return err
		}
	}
	return nil
}
