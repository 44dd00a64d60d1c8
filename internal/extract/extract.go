// Package extract writes the machine-readable group extract produced in
// the same control-break pass as the report, and converts a finished
// extract to a spreadsheet.
package extract

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/fixedwidth"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Schema is the fixed-width layout of one extract line
var Schema = fixedwidth.MustSchema("group-extract", 80,
	fixedwidth.Field{Name: "level", Start: 1, End: 12, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "key", Start: 13, End: 44, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "count", Start: 45, End: 53, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "amount", Start: 54, End: 70, Kind: fixedwidth.Zoned, Scale: 2, Sign: fixedwidth.SignOverpunch},
)

// Sink receives encoded extract lines
type Sink interface {
	WriteLine(line string) error
}

// Writer emits one line per closed group of a single level
type Writer struct {
	sink  Sink
	level int
	lines int64
}

// NewWriter creates an extract writer for closures at level
func NewWriter(sink Sink, level int) *Writer {
	return &Writer{sink: sink, level: level}
}

// Write encodes c when it belongs to the extract level and ignores it
// otherwise
func (w *Writer) Write(c aggregate.Closure) error {
	if c.Level != w.level {
		return nil
	}

	rec := fixedwidth.NewRecord(Schema)
	rec.SetText("level", strings.ToUpper(c.Name))
	rec.SetText("key", c.Identity())
	rec.SetDecimal("count", decimal.NewFromInt(c.Totals.Total.Count))
	rec.SetDecimal("amount", c.Totals.Total.Amount)

	if err := w.sink.WriteLine(fixedwidth.Encode(Schema, rec)); err != nil {
		return fmt.Errorf("failed to write extract line for %s: %w", c.Identity(), err)
	}
	w.lines++
	return nil
}

// Lines returns how many lines this writer has emitted
func (w *Writer) Lines() int64 {
	return w.lines
}

// ToXLSX decodes the extract at src and writes it as a one-sheet
// workbook to dst. It returns the number of data rows.
func ToXLSX(src, dst, sheet string) (int, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open extract: %w", err)
	}
	defer in.Close()

	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Extract"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []interface{}{"Level", "Key", "Count", "Amount"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return 0, err
	}

	rows := 0
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		rec, err := fixedwidth.Decode(Schema, line)
		if err != nil {
			return rows, fmt.Errorf("extract line %d: %w", rows+1, err)
		}

		cell, err := excelize.CoordinatesToCellName(1, rows+2)
		if err != nil {
			return rows, err
		}
		row := []interface{}{
			rec.Text("level"),
			rec.Text("key"),
			rec.Int("count"),
			rec.Decimal("amount").InexactFloat64(),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return rows, err
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return rows, fmt.Errorf("failed to read extract: %w", err)
	}

	if err := f.SaveAs(dst); err != nil {
		return rows, fmt.Errorf("failed to save workbook: %w", err)
	}
	return rows, nil
}
