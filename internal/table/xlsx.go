package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const outputSheet = "Sheet1"

// ReadXLSX reads the first sheet of a workbook. The first row is the header.
func ReadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only handle
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	header := uniqueHeaders(records[0])
	return &Table{Columns: header, Rows: rowsFromRecords(header, records[1:])}, nil
}

func encodeXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close() //nolint:errcheck // in-memory workbook
	}()

	if err := writeSheetRow(f, 1, t.Columns); err != nil {
		return err
	}
	values := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		for j, col := range t.Columns {
			values[j] = row.Get(col)
		}
		if err := writeSheetRow(f, i+2, values); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheetRow(f *excelize.File, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("cell name for row %d: %w", rowNum, err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(outputSheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", rowNum, err)
	}
	return nil
}
