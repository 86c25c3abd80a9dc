package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/config"
	"github.com/revharvest/revharvest/internal/export"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/validate"
)

func newExportCmd(d *deps) *cobra.Command {
	var (
		flagKey     string
		flagKind    string
		flagSession string
		flagFormat  string
		flagFile    string
	)

	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Export harvested records to CSV, XLSX or a chunked ZIP archive",
		GroupID: "data",
		Args:    cobra.NoArgs,
		Long: `Export records matching the filter. Rows stream from the database in
batches, so exports of any size run in constant memory.

CSV exports above 100000 rows are promoted to a ZIP of chunked CSVs. XLSX
exports split into Data_1..N sheets at Excel's row limit and carry a Summary
sheet when split or beyond 1000 rows.

The file is written under a .partial name and renamed only on success; a
truncated artifact never lands under the final name.`,
		Example: `  revharvest export --key mx01.ionos.de --format csv
  revharvest export --key ns1.hetzner.com --kind ns --format xlsx --file hetzner.xlsx
  revharvest export --session 4f7c21aa-8a4e-4c9e-b342-1de0d134f6a1 --format zip`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.Filter{
				LookupKey: validate.NormalizeDomain(flagKey),
				SessionID: flagSession,
			}
			if flagKind != "" {
				kind, err := store.ParseKind(flagKind)
				if err != nil {
					return err
				}
				f.LookupKind = kind
			}
			// The persistent --provider flag selects the provider for new
			// harvests; as a filter it only applies when given explicitly.
			if cmd.Flags().Changed("provider") {
				f.Provider = d.cfg.Provider
			}

			format, err := export.ParseFormat(flagFormat)
			if err != nil {
				return err
			}

			n, err := d.store.CountMatching(cmd.Context(), f)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: no records match the export filter", apperr.ErrNotFound)
			}

			summary, path, err := exportToFile(cmd, d, f, format, flagFile)
			if err != nil {
				return err
			}

			return writeResult(cmd.OutOrStdout(), d, &exportReport{
				File:   path,
				Format: string(summary.Format),
				Rows:   summary.Rows,
				Parts:  summary.Parts,
			})
		},
	}

	cmd.Flags().StringVar(&flagKey, "key", "", "filter by lookup key")
	cmd.Flags().StringVarP(&flagKind, "kind", "k", "", "filter by lookup kind: mx, ns")
	_ = cmd.RegisterFlagCompletionFunc("kind", config.CompleteKind)
	cmd.Flags().StringVar(&flagSession, "session", "", "filter by session id")
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "csv", "export format: csv, xlsx, zip")
	_ = cmd.RegisterFlagCompletionFunc("format", config.CompleteExportFormat)
	cmd.Flags().StringVar(&flagFile, "file", "", "output file (default: <key>_<kind>_<timestamp>.<ext> in the working directory)")

	return cmd
}

// exportToFile streams the export into a temp file next to the destination and
// renames it into place on success. The final name is computed after the
// export when no --file was given, because a large CSV may come back as ZIP.
func exportToFile(cmd *cobra.Command, d *deps, f store.Filter, format export.Format, file string) (*export.Summary, string, error) {
	dir := "."
	if file != "" {
		if parent := filepath.Dir(file); parent != "" {
			dir = parent
		}
	}

	tmp, err := os.CreateTemp(dir, "revharvest-export-*.partial")
	if err != nil {
		return nil, "", fmt.Errorf("creating export file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	summary, err := d.exporter.Export(cmd.Context(), f, format, tmp)
	if err != nil {
		_ = tmp.Close()
		return nil, "", err
	}
	if err := tmp.Close(); err != nil {
		return nil, "", fmt.Errorf("closing export file: %w", err)
	}

	path := file
	if path == "" {
		path = export.Filename(f.LookupKey, f.LookupKind, summary.Format, time.Now())
	} else if summary.Format != format {
		d.logger.Warn("export was promoted to a ZIP archive; the file extension may not match its content",
			"file", path, "format", summary.Format)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return nil, "", fmt.Errorf("installing export file: %w", err)
	}
	return summary, path, nil
}

// exportReport renders the outcome of one export.
type exportReport struct {
	File   string `json:"file"`
	Format string `json:"format"`
	Rows   int64  `json:"rows"`
	Parts  int    `json:"parts"`
}

func (r *exportReport) WriteTable(w io.Writer) error {
	table := output.NewWrappingTable(w, 12, 6)
	table.Header([]string{"FILE", "FORMAT", "ROWS", "PARTS"})
	if err := table.Bulk([][]string{{
		r.File, r.Format, strconv.FormatInt(r.Rows, 10), strconv.Itoa(r.Parts),
	}}); err != nil {
		return err
	}
	return table.Render()
}

func (r *exportReport) WritePlain(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.File, r.Format, r.Rows, r.Parts)
	return err
}
