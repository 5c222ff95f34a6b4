package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX parses one sheet of an XLSX workbook into a Table. An empty sheet
// name selects the first sheet. The first non-empty row is the header.
func ReadXLSX(r io.Reader, sheet string) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("dataset: open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("dataset: workbook has no sheets")
		}
		sheet = sheets[0]
	}

	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("dataset: read sheet %q: %w", sheet, err)
	}

	// Skip leading blank rows before the header.
	start := 0
	for start < len(all) && rowEmpty(all[start]) {
		start++
	}
	if start >= len(all) {
		return nil, fmt.Errorf("dataset: sheet %q is empty", sheet)
	}

	header := make([]string, len(all[start]))
	for i, h := range all[start] {
		header[i] = strings.TrimSpace(h)
	}
	return New(header, all[start+1:]), nil
}

// SheetNames lists the sheets of an XLSX workbook so callers can offer a
// sheet selector.
func SheetNames(r io.Reader) ([]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("dataset: open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
