// Package export streams harvested records out of the store as CSV, chunked
// CSV inside a ZIP, or XLSX workbooks. Rows leave in (fetched_at, id) order
// and memory use stays bounded by the batch size, not the result size.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/store"
)

// Format selects the export artifact type.
type Format string

// Supported export formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatZIP  Format = "zip"
)

// ParseFormat validates a user-supplied --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV, FormatXLSX, FormatZIP:
		return Format(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q (want csv, xlsx or zip)", apperr.ErrInvalidInput, s)
	}
}

const (
	defaultBatchSize = 10000
	defaultChunkRows = 50000

	// excelSheetRows is Excel's hard per-sheet row limit, header included.
	excelSheetRows = 1048576

	// csvPromoteRows is the row count beyond which a plain CSV becomes
	// unwieldy and the export switches to a chunked ZIP.
	csvPromoteRows = 100000

	// summaryRowThreshold adds a Summary sheet to single-sheet workbooks
	// once they are large enough that totals are worth a glance.
	summaryRowThreshold = 1000
)

// header names the exported columns, in record order.
var header = []string{"Subject Domain", "Lookup Key", "Kind", "Provider", "Session", "Fetched At"}

// Summary reports what an export produced. Parts counts sheets for XLSX and
// chunk files for ZIP; a plain CSV is always one part.
type Summary struct {
	Rows   int64  `json:"rows"`
	Parts  int    `json:"parts"`
	Format Format `json:"format"`
}

// Options tune an Exporter. Zero values pick the defaults.
type Options struct {
	BatchSize int
	ChunkRows int
}

// Exporter writes filtered record streams into export artifacts.
type Exporter struct {
	store  *store.Store
	logger *slog.Logger

	batchSize int
	chunkRows int

	// sheetCapacity is total rows per XLSX sheet including the header row.
	// Only tests lower it below Excel's real limit.
	sheetCapacity int
}

// New creates an Exporter backed by st.
func New(st *store.Store, logger *slog.Logger, opts Options) *Exporter {
	e := &Exporter{
		store:         st,
		logger:        logger,
		batchSize:     opts.BatchSize,
		chunkRows:     opts.ChunkRows,
		sheetCapacity: excelSheetRows,
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	if e.chunkRows <= 0 {
		e.chunkRows = defaultChunkRows
	}
	return e
}

// Export streams every record matching f into w in the requested format.
// A CSV export covering more than 100k rows is promoted to a chunked ZIP;
// the returned Summary reports the format actually written. Failures wrap
// apperr.ErrExportFailed and leave w in an undefined state, so callers
// should write to a temporary name and rename on success.
func (e *Exporter) Export(ctx context.Context, f store.Filter, format Format, w io.Writer) (*Summary, error) {
	if format == FormatCSV {
		n, err := e.store.CountMatching(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrExportFailed, err)
		}
		if n > csvPromoteRows {
			e.logger.Info("large csv export promoted to zip", "rows", n, "threshold", csvPromoteRows)
			format = FormatZIP
		}
	}

	var (
		sum *Summary
		err error
	)
	switch format {
	case FormatCSV:
		sum, err = e.exportCSV(ctx, f, w)
	case FormatZIP:
		sum, err = e.exportZIP(ctx, f, w)
	case FormatXLSX:
		sum, err = e.exportXLSX(ctx, f, w)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", apperr.ErrInvalidInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrExportFailed, err)
	}
	return sum, nil
}

// stream feeds every matching record to fn in stable order, one store page at
// a time, and returns how many records were seen.
func (e *Exporter) stream(ctx context.Context, f store.Filter, fn func(store.Record) error) (int64, error) {
	var cur store.PageCursor
	var total int64
	for {
		recs, next, err := e.store.QueryPage(ctx, f, cur, e.batchSize)
		if err != nil {
			return total, err
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return total, err
			}
		}
		total += int64(len(recs))
		if len(recs) < e.batchSize {
			return total, nil
		}
		cur = next
	}
}

func row(rec store.Record) []string {
	return []string{
		rec.SubjectDomain,
		rec.LookupKey,
		string(rec.LookupKind),
		rec.Provider,
		rec.SessionID,
		rec.FetchedAt.UTC().Format(time.RFC3339),
	}
}

func (e *Exporter) exportCSV(ctx context.Context, f store.Filter, w io.Writer) (*Summary, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	rows, err := e.stream(ctx, f, func(rec store.Record) error {
		return cw.Write(row(rec))
	})
	if err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return &Summary{Rows: rows, Parts: 1, Format: FormatCSV}, nil
}

func (e *Exporter) exportZIP(ctx context.Context, f store.Filter, w io.Writer) (*Summary, error) {
	zw := zip.NewWriter(w)

	var cw *csv.Writer
	part := 0
	inChunk := 0

	flushChunk := func() error {
		if cw == nil {
			return nil
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flushing chunk %d: %w", part, err)
		}
		return nil
	}
	openChunk := func() error {
		part++
		fw, err := zw.Create(fmt.Sprintf("chunk_%03d.csv", part))
		if err != nil {
			return fmt.Errorf("creating chunk %d: %w", part, err)
		}
		cw = csv.NewWriter(fw)
		inChunk = 0
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("writing chunk %d header: %w", part, err)
		}
		return nil
	}

	rows, err := e.stream(ctx, f, func(rec store.Record) error {
		if cw == nil || inChunk >= e.chunkRows {
			if err := flushChunk(); err != nil {
				return err
			}
			if err := openChunk(); err != nil {
				return err
			}
		}
		inChunk++
		return cw.Write(row(rec))
	})
	if err != nil {
		return nil, err
	}

	// An empty result still yields a well-formed archive with one
	// header-only chunk.
	if cw == nil {
		if err := openChunk(); err != nil {
			return nil, err
		}
	}
	if err := flushChunk(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing zip: %w", err)
	}
	return &Summary{Rows: rows, Parts: part, Format: FormatZIP}, nil
}

func (e *Exporter) exportXLSX(ctx context.Context, f store.Filter, w io.Writer) (*Summary, error) {
	x := excelize.NewFile()
	defer func() { _ = x.Close() }()

	headerStyle, err := x.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	var (
		sw       *excelize.StreamWriter
		sheet    int
		sheetRow int
		perSheet []int64
	)

	flushSheet := func() error {
		if sw == nil {
			return nil
		}
		if err := sw.Flush(); err != nil {
			return fmt.Errorf("flushing sheet Data_%d: %w", sheet, err)
		}
		return nil
	}
	openSheet := func() error {
		sheet++
		name := fmt.Sprintf("Data_%d", sheet)
		if sheet == 1 {
			if err := x.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("naming sheet %s: %w", name, err)
			}
		} else if _, err := x.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
		var err error
		if sw, err = x.NewStreamWriter(name); err != nil {
			return fmt.Errorf("opening stream writer for %s: %w", name, err)
		}
		cells := make([]interface{}, len(header))
		for i, h := range header {
			cells[i] = excelize.Cell{StyleID: headerStyle, Value: h}
		}
		if err := sw.SetRow("A1", cells); err != nil {
			return fmt.Errorf("writing %s header: %w", name, err)
		}
		sheetRow = 1
		perSheet = append(perSheet, 0)
		return nil
	}

	rows, err := e.stream(ctx, f, func(rec store.Record) error {
		if sw == nil || sheetRow >= e.sheetCapacity {
			if err := flushSheet(); err != nil {
				return err
			}
			if err := openSheet(); err != nil {
				return err
			}
		}
		sheetRow++
		cell, err := excelize.CoordinatesToCellName(1, sheetRow)
		if err != nil {
			return fmt.Errorf("addressing row %d: %w", sheetRow, err)
		}
		vals := make([]interface{}, 0, len(header))
		for _, v := range row(rec) {
			vals = append(vals, v)
		}
		perSheet[sheet-1]++
		return sw.SetRow(cell, vals)
	})
	if err != nil {
		return nil, err
	}

	if sw == nil {
		if err := openSheet(); err != nil {
			return nil, err
		}
	}
	if err := flushSheet(); err != nil {
		return nil, err
	}

	if sheet > 1 || rows > summaryRowThreshold {
		if err := e.writeSummarySheet(x, f, rows, perSheet, headerStyle); err != nil {
			return nil, err
		}
	}

	if err := x.Write(w); err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return &Summary{Rows: rows, Parts: sheet, Format: FormatXLSX}, nil
}

// writeSummarySheet appends a Summary sheet with totals, the filter that was
// applied and the row range each data sheet covers.
func (e *Exporter) writeSummarySheet(x *excelize.File, f store.Filter, rows int64, perSheet []int64, headerStyle int) error {
	const name = "Summary"
	if _, err := x.NewSheet(name); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}

	orAll := func(s string) string {
		if s == "" {
			return "all"
		}
		return s
	}
	lines := [][]interface{}{
		{"Export Summary", ""},
		{"Total Records", rows},
		{"Total Sheets", len(perSheet)},
		{"Lookup Key", orAll(f.LookupKey)},
		{"Kind", orAll(string(f.LookupKind))},
		{"Provider", orAll(f.Provider)},
		{"Session", orAll(f.SessionID)},
		{"Export Date", time.Now().UTC().Format("2006-01-02 15:04:05")},
		{"", ""},
		{"Sheet", "Records", "Range"},
	}
	var first int64 = 1
	for i, n := range perSheet {
		last := first + n - 1
		if n == 0 {
			last = first
		}
		lines = append(lines, []interface{}{
			fmt.Sprintf("Data_%d", i+1), n, fmt.Sprintf("%d-%d", first, last),
		})
		first += n
	}

	for r, line := range lines {
		for c, v := range line {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("addressing summary cell: %w", err)
			}
			if err := x.SetCellValue(name, cell, v); err != nil {
				return fmt.Errorf("writing summary cell %s: %w", cell, err)
			}
		}
	}
	if err := x.SetCellStyle(name, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("styling summary header: %w", err)
	}
	return nil
}

var (
	unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// sanitizeFilename strips characters that are unsafe in filenames and tidies
// up the result.
func sanitizeFilename(s string) string {
	s = unsafeFileChars.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// Filename builds the default artifact name for an export:
// <key>_<kind>_<timestamp>.<format>, with "all_servers" and "all_types"
// standing in for unset filter fields.
func Filename(key string, kind store.Kind, format Format, now time.Time) string {
	name := "all_servers"
	if key != "" {
		name = sanitizeFilename(key)
	}
	kindPart := "all_types"
	if kind == store.KindMX || kind == store.KindNS {
		kindPart = string(kind)
	}
	return fmt.Sprintf("%s_%s_%s.%s", name, kindPart, now.Format("20060102_150405"), format)
}
