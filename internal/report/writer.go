// Package report renders the paginated fixed-width control report:
// page headers, detail lines, subtotal blocks per closed group, the grand
// total with the exception section, and the end-of-report banner.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/fixedwidth"
)

// ErrFinished is returned for any write after the footer
var ErrFinished = errors.New("report already finished")

const (
	DefaultWidth     = 132
	DefaultPageLines = 60
	minWidth         = 80
)

// Sink receives finished report lines in order
type Sink interface {
	WriteLine(line string) error
}

// Layout is the static description of a report
type Layout struct {
	ReportID    string
	Title       string
	Context     string
	Columns     []string
	Width       int
	PageLines   int
	AmountScale int32
}

// PageState is the ReportPage: page number and lines used on it
type PageState struct {
	Page  int `json:"page"`
	Lines int `json:"lines"`
}

// Exception is a counted, non-fatal per-record issue
type Exception struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// Writer paginates report lines onto a sink. It is not safe for
// concurrent use.
type Writer struct {
	layout   Layout
	sink     Sink
	windows  []string
	runTime  time.Time
	page     PageState
	pending  []aggregate.Closure
	finished bool
}

// NewWriter validates the layout and applies defaults
func NewWriter(sink Sink, layout Layout, windows []string, runTime time.Time) (*Writer, error) {
	if layout.Width == 0 {
		layout.Width = DefaultWidth
	}
	if layout.PageLines == 0 {
		layout.PageLines = DefaultPageLines
	}
	if layout.AmountScale == 0 {
		layout.AmountScale = 2
	}
	if layout.Width < minWidth {
		return nil, fmt.Errorf("report %s: width %d below minimum %d", layout.ReportID, layout.Width, minWidth)
	}

	w := &Writer{layout: layout, sink: sink, windows: windows, runTime: runTime}
	if layout.PageLines <= w.HeaderHeight() {
		return nil, fmt.Errorf("report %s: %d lines per page leaves no room below a %d line header",
			layout.ReportID, layout.PageLines, w.HeaderHeight())
	}
	return w, nil
}

// HeaderHeight is the number of lines WriteHeader emits
func (w *Writer) HeaderHeight() int {
	return 5 + len(w.layout.Columns)
}

// Width returns the report line width
func (w *Writer) Width() int {
	return w.layout.Width
}

// Page returns the current page state
func (w *Writer) Page() PageState {
	return w.page
}

// Restore continues pagination from a saved page state
func (w *Writer) Restore(p PageState) {
	w.page = p
}

// WriteHeader starts a new page
func (w *Writer) WriteHeader() error {
	if w.finished {
		return ErrFinished
	}

	w.page.Page++
	width := w.layout.Width
	pageLabel := fmt.Sprintf("PAGE %5d", w.page.Page)
	runTime := "RUN TIME: " + w.runTime.Format("15:04:05")

	lines := []string{
		fixedwidth.PadRight(w.layout.ReportID, width-len(pageLabel)) + pageLabel,
		fixedwidth.PadRight("RUN DATE: "+w.runTime.Format("2006-01-02"), width-len(runTime)) + runTime,
		center(w.layout.Title, width),
		center(w.layout.Context, width),
	}
	lines = append(lines, w.layout.Columns...)
	lines = append(lines, strings.Repeat("-", width))

	w.page.Lines = 0
	for _, l := range lines {
		if err := w.emit(l); err != nil {
			return err
		}
	}
	return nil
}

// WriteDetail emits one detail line, paging first when the page is full
func (w *Writer) WriteDetail(line string) error {
	if w.finished {
		return ErrFinished
	}
	if err := w.ensure(1); err != nil {
		return err
	}
	return w.emit(line)
}

// BufferSubtotal holds a closed group's block until FlushSubtotals. A
// later closure for the same group identity replaces the earlier one.
func (w *Writer) BufferSubtotal(c aggregate.Closure) {
	for i := range w.pending {
		if w.pending[i].Level == c.Level && w.pending[i].Identity() == c.Identity() {
			w.pending[i] = c
			return
		}
	}
	w.pending = append(w.pending, c)
}

// Pending returns how many subtotal blocks are buffered
func (w *Writer) Pending() int {
	return len(w.pending)
}

// FlushSubtotals writes buffered blocks innermost level first, keeping
// buffering order within a level
func (w *Writer) FlushSubtotals() error {
	sort.SliceStable(w.pending, func(i, j int) bool {
		return w.pending[i].Level > w.pending[j].Level
	})

	for len(w.pending) > 0 {
		c := w.pending[0]
		if err := w.WriteSubtotal(c); err != nil {
			return err
		}
		w.pending = w.pending[1:]
	}
	w.pending = nil
	return nil
}

// WriteSubtotal emits the block for one closed group
func (w *Writer) WriteSubtotal(c aggregate.Closure) error {
	if w.finished {
		return ErrFinished
	}

	label := fmt.Sprintf("*** TOTAL %s %s", strings.ToUpper(c.Name), c.Identity())
	block := []string{label}
	block = append(block, w.bucketLines(c.Totals)...)
	block = append(block, w.totalLine("TOTAL "+strings.ToUpper(c.Name), c.Totals.Total), "")

	return w.writeBlock(block)
}

// WriteGrandTotalAndFooter emits the grand total, the exception section
// and the end banner. It may be called once.
func (w *Writer) WriteGrandTotalAndFooter(grand aggregate.Totals, exceptions []Exception) error {
	if w.finished {
		return ErrFinished
	}
	if err := w.FlushSubtotals(); err != nil {
		return err
	}

	block := []string{"*** GRAND TOTAL ***"}
	block = append(block, w.bucketLines(grand)...)
	for i, label := range w.windows {
		block = append(block, w.totalLine("ALL "+label, grand.Window(i)))
	}
	block = append(block, w.totalLine("GRAND TOTAL", grand.Total), "")
	if err := w.writeBlock(block); err != nil {
		return err
	}

	section := []string{"*** EXCEPTIONS ***"}
	if len(exceptions) == 0 {
		section = append(section, "    NO EXCEPTIONS")
	}
	for _, e := range exceptions {
		section = append(section, "    "+
			fixedwidth.PadRight(e.Field, 20)+
			fixedwidth.PadRight(e.Reason, 38)+
			fixedwidth.EditCount(e.Count, 10))
	}
	section = append(section, "")
	if err := w.writeBlock(section); err != nil {
		return err
	}

	banner := center(fmt.Sprintf("*** END OF REPORT %s ***", w.layout.ReportID), w.layout.Width)
	if err := w.writeBlock([]string{banner}); err != nil {
		return err
	}

	w.finished = true
	return nil
}

func (w *Writer) bucketLines(t aggregate.Totals) []string {
	var out []string
	for _, cat := range t.Categories {
		for i, cell := range cat.Cells {
			if cell.Count == 0 {
				continue
			}
			label := ""
			if i < len(w.windows) {
				label = w.windows[i]
			}
			out = append(out, "    "+
				fixedwidth.PadRight(cat.Name, 20)+
				fixedwidth.PadRight(label, 18)+
				w.cellColumns(cell))
		}
	}
	return out
}

func (w *Writer) totalLine(label string, c aggregate.Cell) string {
	return "    " + fixedwidth.PadRight(label, 38) + w.cellColumns(c)
}

func (w *Writer) cellColumns(c aggregate.Cell) string {
	return fixedwidth.EditCount(c.Count, 10) + " " + fixedwidth.EditAmount(c.Amount, 20, w.layout.AmountScale)
}

// writeBlock keeps a block on one page when it fits in a page body; a
// longer block starts on a fresh page and flows across pages.
func (w *Writer) writeBlock(block []string) error {
	body := w.layout.PageLines - w.HeaderHeight()

	if len(block) <= body {
		if err := w.ensure(len(block)); err != nil {
			return err
		}
		for _, l := range block {
			if err := w.emit(l); err != nil {
				return err
			}
		}
		return nil
	}

	if w.page.Page == 0 || w.page.Lines > w.HeaderHeight() {
		if err := w.WriteHeader(); err != nil {
			return err
		}
	}
	for _, l := range block {
		if err := w.ensure(1); err != nil {
			return err
		}
		if err := w.emit(l); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) ensure(n int) error {
	if w.page.Page == 0 || w.page.Lines+n > w.layout.PageLines {
		return w.WriteHeader()
	}
	return nil
}

func (w *Writer) emit(line string) error {
	if err := w.sink.WriteLine(fixedwidth.PadRight(line, w.layout.Width)); err != nil {
		return err
	}
	w.page.Lines++
	return nil
}

func center(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return strings.Repeat(" ", (width-len(s))/2) + s
}
