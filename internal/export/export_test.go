package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/testutil"
)

func seedRecords(t *testing.T, st *store.Store, key string, kind store.Kind, n int) {
	t.Helper()
	now := time.Now().UTC()
	recs := make([]store.Record, n)
	for i := range recs {
		recs[i] = store.Record{
			SubjectDomain: fmt.Sprintf("domain%06d.example", i),
			LookupKey:     key,
			LookupKind:    kind,
			Provider:      "viewdns",
			SessionID:     "sess-seed",
			FetchedAt:     now,
		}
	}
	res, err := st.UpsertBatch(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, int64(n), res.Inserted)
}

func readCSV(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	rows, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExport_CSVStreamsAllRows(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, 5)
	seedRecords(t, st, "other.host.de", store.KindMX, 3)
	e := New(st, testutil.NopLogger(), Options{BatchSize: 2})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{LookupKey: "mx01.ionos.de"}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 5, Parts: 1, Format: FormatCSV}, sum)

	rows := readCSV(t, &buf)
	require.Len(t, rows, 6)
	assert.Equal(t, header, rows[0])
	for i, r := range rows[1:] {
		assert.Equal(t, fmt.Sprintf("domain%06d.example", i), r[0], "rows leave in stream order")
		assert.Equal(t, "mx01.ionos.de", r[1])
		assert.Equal(t, "mx", r[2])
	}
}

func TestExport_CSVHeaderOnlyWhenEmpty(t *testing.T) {
	st := testutil.NewStore(t)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Zero(t, sum.Rows)

	rows := readCSV(t, &buf)
	require.Len(t, rows, 1)
	assert.Equal(t, header, rows[0])
}

func TestExport_LargeCSVPromotesToZip(t *testing.T) {
	if testing.Short() {
		t.Skip("seeds 100k rows")
	}
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, csvPromoteRows+1)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, FormatZIP, sum.Format, "oversized csv must switch to a chunked zip")
	assert.Equal(t, int64(csvPromoteRows+1), sum.Rows)
	assert.Equal(t, 3, sum.Parts)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	assert.Equal(t, "chunk_001.csv", zr.File[0].Name)
	assert.Equal(t, "chunk_003.csv", zr.File[2].Name)

	// Chunk two picks up exactly where chunk one stopped.
	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	rows := readCSV(t, rc)
	require.Len(t, rows, defaultChunkRows+1)
	assert.Equal(t, "domain050000.example", rows[1][0])
}

func TestExport_ZipChunkBoundaries(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "ns1.hetzner.de", store.KindNS, 7)
	e := New(st, testutil.NopLogger(), Options{BatchSize: 2, ChunkRows: 3})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatZIP, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 7, Parts: 3, Format: FormatZIP}, sum)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)

	wantRows := []int{3, 3, 1}
	for i, zf := range zr.File {
		assert.Equal(t, fmt.Sprintf("chunk_%03d.csv", i+1), zf.Name)
		rc, err := zf.Open()
		require.NoError(t, err)
		rows := readCSV(t, rc)
		rc.Close()
		assert.Equal(t, header, rows[0])
		assert.Len(t, rows, wantRows[i]+1)
	}
}

func TestExport_ZipEmptyStillWellFormed(t *testing.T) {
	st := testutil.NewStore(t)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatZIP, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 0, Parts: 1, Format: FormatZIP}, sum)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	rows := readCSV(t, rc)
	require.Len(t, rows, 1)
}

func TestExport_XLSXSplitsSheets(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, 7)
	e := New(st, testutil.NopLogger(), Options{BatchSize: 2})
	e.sheetCapacity = 4 // header plus three data rows per sheet

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{LookupKey: "mx01.ionos.de"}, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 7, Parts: 3, Format: FormatXLSX}, sum)

	x, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer x.Close()

	assert.Equal(t, []string{"Data_1", "Data_2", "Data_3", "Summary"}, x.GetSheetList())

	rows, err := x.GetRows("Data_1")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, "domain000000.example", rows[1][0])

	rows, err = x.GetRows("Data_3")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "domain000006.example", rows[1][0])

	total, err := x.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "7", total)

	firstSheet, err := x.GetCellValue("Summary", "A11")
	require.NoError(t, err)
	assert.Equal(t, "Data_1", firstSheet)
	firstRange, err := x.GetCellValue("Summary", "C11")
	require.NoError(t, err)
	assert.Equal(t, "1-3", firstRange)
	lastRange, err := x.GetCellValue("Summary", "C13")
	require.NoError(t, err)
	assert.Equal(t, "7-7", lastRange)
}

func TestExport_XLSXSingleSmallSheetSkipsSummary(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, 3)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 3, Parts: 1, Format: FormatXLSX}, sum)

	x, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer x.Close()
	assert.Equal(t, []string{"Data_1"}, x.GetSheetList())
}

func TestExport_XLSXLargeSingleSheetGetsSummary(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, summaryRowThreshold+1)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Parts)

	x, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer x.Close()
	assert.Equal(t, []string{"Data_1", "Summary"}, x.GetSheetList())
}

func TestExport_XLSXEmptyHasHeaderSheet(t *testing.T) {
	st := testutil.NewStore(t)
	e := New(st, testutil.NopLogger(), Options{})

	var buf bytes.Buffer
	sum, err := e.Export(context.Background(), store.Filter{}, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, &Summary{Rows: 0, Parts: 1, Format: FormatXLSX}, sum)

	x, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer x.Close()
	rows, err := x.GetRows("Data_1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, header, rows[0])
}

// limitWriter fails once more than max bytes have been written, the way a
// full disk would.
type limitWriter struct {
	max     int
	written int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.max {
		return 0, errors.New("disk full")
	}
	w.written += len(p)
	return len(p), nil
}

func TestExport_WriterFailureWrapsExportError(t *testing.T) {
	st := testutil.NewStore(t)
	seedRecords(t, st, "mx01.ionos.de", store.KindMX, 500)
	e := New(st, testutil.NopLogger(), Options{})

	_, err := e.Export(context.Background(), store.Filter{}, FormatCSV, &limitWriter{max: 1024})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExportFailed)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "csv", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: "xlsx", want: FormatXLSX},
		{in: "zip", want: FormatZIP},
		{in: "pdf", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "mx1.ionos.de_mx_20240102_150405.csv",
		Filename("mx1.ionos.de", store.KindMX, FormatCSV, now))
	assert.Equal(t, "all_servers_all_types_20240102_150405.xlsx",
		Filename("", "", FormatXLSX, now))
	assert.Equal(t, "bad_key_ns_20240102_150405.zip",
		Filename(`bad<>:"key`, store.KindNS, FormatZIP, now))
}
