package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// maxOutcomeRows caps the marginal rows printed by run; continuous models
// have one outcome per distinct sample.
const maxOutcomeRows = 20

type tableWriter struct {
	out    io.Writer
	writer table.Writer
}

func newTable(out io.Writer) *tableWriter {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	return &tableWriter{out: out, writer: w}
}

func (t *tableWriter) header(cols ...any) {
	t.writer.AppendHeader(table.Row(cols))
}

func (t *tableWriter) row(vals ...any) {
	t.writer.AppendRow(table.Row(vals))
}

func (t *tableWriter) render() {
	fmt.Fprintln(t.out, t.writer.Render())
}

// formatValue renders a return value as compact JSON, falling back to %v.
func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
