// Package table reads and writes the seed and result tables as CSV or XLSX.
package table

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/docharvest/internal/crawler"
)

var (
	// ErrUnsupportedFormat is returned for file extensions the package cannot read or write.
	ErrUnsupportedFormat = errors.New("unsupported table format")
	// ErrNoURLColumn is returned when no column looks like it holds URLs.
	ErrNoURLColumn = errors.New("no url column found")
)

// DefaultURLColumns are header names tried, case-insensitively, before sniffing values.
var DefaultURLColumns = []string{"URL", "url", "link", "website", "source_url", "web_address"}

// sniffSample is how many non-empty values are inspected per column when sniffing.
const sniffSample = 10

// Format identifies a table file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks a format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Table is an ordered set of columns and rows.
type Table struct {
	Columns []string
	Rows    []crawler.Row
}

// New builds a table whose columns are the given ones followed by any extra
// columns found in rows, in first-seen order.
func New(columns []string, rows []crawler.Row) *Table {
	return &Table{Columns: ComposeColumns(columns, rows), Rows: rows}
}

// ComposeColumns returns base followed by every column of rows not already present.
func ComposeColumns(base []string, rows []crawler.Row) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base))
	add := func(col string) {
		if _, ok := seen[col]; ok {
			return
		}
		seen[col] = struct{}{}
		out = append(out, col)
	}
	for _, c := range base {
		add(c)
	}
	for _, r := range rows {
		for _, c := range r.Columns {
			add(c)
		}
	}
	return out
}

// FindURLColumn returns the first candidate header present (case-insensitive),
// or else the first column whose sampled non-empty values are mostly http(s) URLs.
func (t *Table) FindURLColumn(candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultURLColumns
	}
	for _, want := range candidates {
		for _, col := range t.Columns {
			if strings.EqualFold(strings.TrimSpace(col), strings.TrimSpace(want)) {
				return col, nil
			}
		}
	}
	for _, col := range t.Columns {
		total, hits := 0, 0
		for _, row := range t.Rows {
			v := strings.TrimSpace(row.Get(col))
			if v == "" {
				continue
			}
			total++
			if crawler.IsHTTPURL(v) {
				hits++
			}
			if total == sniffSample {
				break
			}
		}
		if total > 0 && hits*2 > total {
			return col, nil
		}
	}
	return "", ErrNoURLColumn
}

// ReserveColumns renames columns that collide with reserved names to
// "<name>_input" (numbered when that is taken too) in the header and every
// row. It returns the renames, keyed by the original name.
func (t *Table) ReserveColumns(reserved []string) map[string]string {
	taken := make(map[string]bool, len(t.Columns)+len(reserved))
	for _, c := range t.Columns {
		taken[c] = true
	}
	clash := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		taken[r] = true
		clash[r] = true
	}

	renames := map[string]string{}
	for i, col := range t.Columns {
		if !clash[col] {
			continue
		}
		name := col + "_input"
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_input_%d", col, n)
		}
		taken[name] = true
		renames[col] = name
		t.Columns[i] = name
	}
	if len(renames) == 0 {
		return nil
	}
	for i, row := range t.Rows {
		t.Rows[i] = renameRow(row, renames)
	}
	return renames
}

func renameRow(row crawler.Row, renames map[string]string) crawler.Row {
	out := crawler.Row{Columns: make([]string, len(row.Columns)), Values: make(map[string]string, len(row.Values))}
	for i, col := range row.Columns {
		if to, ok := renames[col]; ok {
			col = to
		}
		out.Columns[i] = col
	}
	for k, v := range row.Values {
		if to, ok := renames[k]; ok {
			k = to
		}
		out.Values[k] = v
	}
	return out
}

// WorkItems converts rows with an http(s) URL in urlColumn into work items.
// IDs are 1-based row positions in the table, so skipped rows leave gaps.
func (t *Table) WorkItems(urlColumn string) []crawler.WorkItem {
	items := make([]crawler.WorkItem, 0, len(t.Rows))
	for i, row := range t.Rows {
		raw := strings.TrimSpace(row.Get(urlColumn))
		if !crawler.IsHTTPURL(raw) {
			continue
		}
		items = append(items, crawler.WorkItem{
			ID:  i + 1,
			URL: raw,
			Key: crawler.NormalizeURL(raw),
			Row: row,
		})
	}
	return items
}

// Read loads a table, choosing the decoder from the file extension.
func Read(path string) (*Table, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return ReadXLSX(path)
	default:
		return ReadCSVFile(path)
	}
}

// Write stores the table at path atomically, choosing the encoder from the extension.
func Write(path string, t *Table) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatXLSX:
		return writeAtomic(path, func(w io.Writer) error { return encodeXLSX(w, t) })
	default:
		return writeAtomic(path, func(w io.Writer) error { return encodeCSV(w, t) })
	}
}

// uniqueHeaders trims header names and makes blanks and duplicates unique.
func uniqueHeaders(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func rowsFromRecords(header []string, records [][]string) []crawler.Row {
	rows := make([]crawler.Row, 0, len(records))
	for _, rec := range records {
		if blank(rec) {
			continue
		}
		rows = append(rows, crawler.NewRow(header, rec))
	}
	return rows
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
