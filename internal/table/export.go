package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportSheet is the worksheet name used for XLSX exports.
const ExportSheet = "Predictions"

// Write serializes a header and string rows in the given format. Cells are
// written exactly as provided so the file can be reconstructed from the rows.
func Write(w io.Writer, format string, header []string, rows [][]string) error {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return WriteCSV(w, header, rows)
	case FormatXLSX:
		return WriteXLSX(w, header, rows)
	default:
		return fmt.Errorf("export %q: %w", format, ErrUnsupportedFormat)
	}
}

// WriteCSV writes a comma separated file with a header line.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook. Values are stored as strings.
func WriteXLSX(w io.Writer, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", ExportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ExportSheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}
	writeRow := func(r int, vals []string) error {
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			out[i] = v
		}
		return sw.SetRow(cell, out)
	}
	if err := writeRow(1, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		if err := writeRow(i+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
