package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ReadCSV parses a CSV stream into a Table. BOMs are stripped, ragged rows
// are tolerated, and a missing header row (first row looks like data) is
// rejected rather than guessed.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("dataset: empty file")
		}
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.Trim(strings.TrimSpace(h), "\"'")
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, row)
	}

	return New(header, rows), nil
}

// stripBOM removes a leading UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return io.MultiReader(strings.NewReader(string(buf[:n])), r)
	}
	if buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
