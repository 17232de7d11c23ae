package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Column labels may carry a semantic unit suffix (e.g. "Total
// Time:dur_ns", "Bytes:mem_B"). The suffix is informational metadata
// from the query, not enforced by the engine; table mode uses it to
// pick a human-readable rendering and strips it from the displayed
// label.

func splitLabel(header string) (label, unit string) {
	if i := strings.LastIndex(header, ":"); i >= 0 {
		return header[:i], header[i+1:]
	}
	return header, ""
}

func formatUnit(v any, unit string) string {
	if v == nil {
		return ""
	}
	switch unit {
	case "dur_ns":
		if ns, ok := asInt(v); ok {
			return time.Duration(ns).String()
		}
	case "ts_ns":
		if ns, ok := asInt(v); ok {
			return humanize.Comma(ns)
		}
	case "mem_B":
		if b, ok := asInt(v); ok && b >= 0 {
			return humanize.IBytes(uint64(b))
		}
	case "thru_B":
		if b, ok := asInt(v); ok && b >= 0 {
			return humanize.IBytes(uint64(b)) + "/s"
		}
	case "ratio_%":
		return Field(v) + "%"
	}
	return Field(v)
}

func asInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case float64:
		return int64(val), true
	}
	return 0, false
}

// WriteTable renders the source as an aligned text table with unit
// suffixes applied. Unlike CSV mode it materializes all rows to
// compute column widths, so it is meant for interactive use.
func WriteTable(w io.Writer, src RowSource) (int, error) {
	headers := src.Headers()
	labels := make([]string, len(headers))
	units := make([]string, len(headers))
	for i, h := range headers {
		labels[i], units[i] = splitLabel(h)
	}

	var table [][]string
	for {
		row, err := src.Next()
		if err != nil {
			return len(table), err
		}
		if row == nil {
			break
		}
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatUnit(v, units[i])
		}
		table = append(table, cells)
	}

	if len(table) == 0 {
		return 0, nil
	}

	widths := make([]int, len(labels))
	for i, l := range labels {
		widths[i] = len(l)
	}
	for _, row := range table {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) error {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
		return err
	}

	if err := writeRow(labels); err != nil {
		return len(table), err
	}
	rules := make([]string, len(widths))
	for i, width := range widths {
		rules[i] = strings.Repeat("-", width)
	}
	if err := writeRow(rules); err != nil {
		return len(table), err
	}
	for _, row := range table {
		if err := writeRow(row); err != nil {
			return len(table), err
		}
	}
	return len(table), nil
}
