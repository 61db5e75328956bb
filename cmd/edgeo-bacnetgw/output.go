package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatCSV   OutputFormat = "csv"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// Render prints v as a document in json and yaml, and headers/rows as a
// table or csv otherwise
func (f *Formatter) Render(v interface{}, headers []string, rows [][]string) error {
	switch f.format {
	case FormatJSON:
		return f.PrintJSON(v)
	case FormatYAML:
		return f.PrintYAML(v)
	case FormatCSV:
		return f.PrintCSV(headers, rows)
	case FormatTable, "":
		f.PrintTable(headers, rows)
		return nil
	}
	return fmt.Errorf("unknown output format %q", f.format)
}

// PrintJSON prints v as indented JSON
func (f *Formatter) PrintJSON(v interface{}) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintYAML prints v as YAML
func (f *Formatter) PrintYAML(v interface{}) error {
	enc := yaml.NewEncoder(f.writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// PrintCSV prints a header line followed by rows
func (f *Formatter) PrintCSV(headers []string, rows [][]string) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	// Calculate column widths
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		for j := 0; j < widths[i]; j++ {
			fmt.Fprint(f.writer, "-")
		}
		fmt.Fprint(f.writer, " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}
