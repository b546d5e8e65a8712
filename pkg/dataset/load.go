package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Limits caps the size of a loadable dataset. Zero fields mean the
// defaults below.
type Limits struct {
	MaxRows int
	MaxCols int
}

const (
	defaultMaxRows = 100_000
	defaultMaxCols = 256
)

func (l Limits) withDefaults() Limits {
	if l.MaxRows <= 0 {
		l.MaxRows = defaultMaxRows
	}
	if l.MaxCols <= 0 {
		l.MaxCols = defaultMaxCols
	}
	return l
}

// ParseCSV reads a CSV document with a header row into a Frame.
// Numeric and boolean cells are converted; everything else stays a string.
func ParseCSV(r io.Reader, limits Limits) (*Frame, error) {
	limits = limits.withDefaults()

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv header: %w", err)
	}
	if len(header) > limits.MaxCols {
		return nil, &TooLargeError{Cols: len(header), MaxRows: limits.MaxRows, MaxCols: limits.MaxCols}
	}

	var rows [][]any
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv row %d: %w", len(rows)+2, err)
		}
		if len(rows) >= limits.MaxRows {
			return nil, &TooLargeError{Rows: len(rows) + 1, Cols: len(header), MaxRows: limits.MaxRows, MaxCols: limits.MaxCols}
		}
		row := make([]any, len(header))
		for i := range header {
			if i < len(record) {
				row[i] = parseCell(record[i])
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	return NewFrame(header, rows), nil
}

// ParseXLSX reads the first sheet of an XLSX workbook into a Frame.
func ParseXLSX(r io.Reader, limits Limits) (*Frame, error) {
	limits = limits.withDefaults()

	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = wb.Close() }()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyDataset
	}

	records, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyDataset
	}

	header := records[0]
	if len(header) > limits.MaxCols {
		return nil, &TooLargeError{Cols: len(header), MaxRows: limits.MaxRows, MaxCols: limits.MaxCols}
	}
	if len(records)-1 > limits.MaxRows {
		return nil, &TooLargeError{Rows: len(records) - 1, Cols: len(header), MaxRows: limits.MaxRows, MaxCols: limits.MaxCols}
	}

	rows := make([][]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]any, len(header))
		for i := range header {
			if i < len(record) && record[i] != "" {
				row[i] = parseCell(record[i])
			}
		}
		rows = append(rows, row)
	}
	return NewFrame(header, rows), nil
}

// parseCell converts a raw string cell to its typed value.
func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return s
}
