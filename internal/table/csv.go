package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidate delimiters, in tie-break order
var delimiters = []rune{',', ';', '\t', '|'}

// ReadCSVFile reads a delimited text file.
func ReadCSVFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	t, err := ReadCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse table %s: %w", path, err)
	}
	return t, nil
}

// ReadCSV decodes a delimited table. The text may be UTF-8 (with or without
// BOM), GB18030 or ISO-8859-1; the delimiter is sniffed from the header line.
func ReadCSV(r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	header := uniqueHeaders(records[0])
	return &Table{Columns: header, Rows: rowsFromRecords(header, records[1:])}, nil
}

func decodeText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, enc := range []encoding.Encoding{simplifiedchinese.GB18030, charmap.ISO8859_1} {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		if bytes.ContainsRune(decoded, utf8.RuneError) {
			continue
		}
		return string(decoded), nil
	}
	return "", fmt.Errorf("decode csv: unrecognized text encoding")
}

// sniffDelimiter counts candidate delimiters outside quotes on the first line.
func sniffDelimiter(text string) rune {
	line := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		line = text[:i]
	}
	counts := make(map[rune]int, len(delimiters))
	quoted := false
	for _, r := range line {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[r]++
		}
	}
	best := delimiters[0]
	for _, d := range delimiters[1:] {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// encodeCSV writes a UTF-8 BOM followed by comma-separated records.
func encodeCSV(w io.Writer, t *Table) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			record[i] = row.Get(col)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
