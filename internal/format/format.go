// Package format renders report tables. It wraps go-pretty so the report
// assembler can emit the same table as GitHub-flavoured Markdown for
// report.md or as a box-drawing table for terminal output.
package format

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table accumulates rows and renders once.
type Table struct {
	w        table.Writer
	markdown bool
	cfgs     []table.ColumnConfig
}

// NewMarkdown returns a table that renders as a GitHub-flavoured Markdown
// table.
func NewMarkdown() *Table {
	return &Table{w: table.NewWriter(), markdown: true}
}

// NewASCII returns a table that renders with box-drawing characters for
// terminal output.
func NewASCII() *Table {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	return &Table{w: w}
}

// Header sets the column headers.
func (t *Table) Header(cols ...string) {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	t.w.AppendHeader(row)
}

// Row appends one data row.
func (t *Table) Row(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	t.w.AppendRow(row)
}

// Footer appends a totals row.
func (t *Table) Footer(vals ...any) {
	row := make(table.Row, len(vals))
	copy(row, vals)
	t.w.AppendFooter(row)
}

// Limit caps the rendered width of a 1-based column.
func (t *Table) Limit(col, maxWidth int) {
	t.cfgs = append(t.cfgs, table.ColumnConfig{Number: col, WidthMax: maxWidth})
	t.w.SetColumnConfigs(t.cfgs)
}

// RightAlign right-aligns a 1-based column, for counts.
func (t *Table) RightAlign(col int) {
	t.cfgs = append(t.cfgs, table.ColumnConfig{Number: col, Align: text.AlignRight})
	t.w.SetColumnConfigs(t.cfgs)
}

// String renders the accumulated table.
func (t *Table) String() string {
	if t.markdown {
		return t.w.RenderMarkdown()
	}
	return t.w.Render()
}
