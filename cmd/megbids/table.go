package main

import (
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// writeTable prints a boxed table on a terminal and tab-separated values
// otherwise, so output piped into cut or awk keeps one record per line.
// Short rows are padded with empty cells.
func writeTable(w io.Writer, headers []string, rows [][]string, aligns []columnAlignment) {
	if len(headers) == 0 {
		return
	}
	padded := make([][]string, len(rows))
	for i, row := range rows {
		padded[i] = make([]string, len(headers))
		copy(padded[i], row)
	}
	if isTerminal(w) {
		io.WriteString(w, boxed(headers, padded, aligns)+"\n")
		return
	}
	var b strings.Builder
	for _, line := range append([][]string{headers}, padded...) {
		b.WriteString(strings.Join(line, "\t"))
		b.WriteByte('\n')
	}
	io.WriteString(w, b.String())
}

func boxed(headers []string, rows [][]string, aligns []columnAlignment) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(cells(headers))
	for _, row := range rows {
		tw.AppendRow(cells(row))
	}
	configs := make([]table.ColumnConfig, len(headers))
	for i := range configs {
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if i < len(aligns) && aligns[i] == alignRight {
			configs[i].Align = text.AlignRight
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func cells(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
