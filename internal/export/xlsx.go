// Package export renders view sheets as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/view"
)

// ContentType is the MIME type of the written workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	maxSheetName = 31
	colWidth     = 18
)

// Filename returns the attachment name for a view exported at now.
func Filename(name string, now time.Time) string {
	return fmt.Sprintf("%s-%s.xlsx", name, now.UTC().Format("2006-01-02"))
}

// Write streams sh as a single-sheet workbook to w. The first row holds
// the headers in bold.
func Write(w io.Writer, sh view.Sheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	name := sheetName(sh.Name)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("export: rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: header style: %w", err)
	}
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return fmt.Errorf("export: stream writer: %w", err)
	}
	if n := len(sh.Headers); n > 0 {
		if err := sw.SetColWidth(1, n, colWidth); err != nil {
			return fmt.Errorf("export: column width: %w", err)
		}
	}

	header := make([]any, len(sh.Headers))
	for i, h := range sh.Headers {
		header[i] = h
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return fmt.Errorf("export: header row: %w", err)
	}
	for i, row := range sh.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: row %d: %w", i, err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("export: row %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

// cellValue unwraps optional fields. Missing values become empty cells and
// timestamps are rendered as display dates.
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *float64:
		if x == nil {
			return nil
		}
		return *x
	case *int:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return record.FormatDate(x)
	case time.Time:
		return record.FormatDate(&x)
	case string:
		if x == "" {
			return nil
		}
		return x
	default:
		return x
	}
}

func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "Export"
	}
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}
