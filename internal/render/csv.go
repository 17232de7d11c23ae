// Package render turns streaming report results into delimited text.
// CSV output is incremental: rows are written as they are pulled, and
// the header line is emitted only once a first row exists, so error or
// empty outcomes never leak a header.
package render

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// RowSource is the pull interface the report engine exposes: a header
// plus Next, which returns nil at end of stream.
type RowSource interface {
	Headers() []string
	Next() ([]any, error)
}

// Field renders one SQL value as CSV field text. NULL renders empty.
func Field(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

// WriteCSV streams the source to w as RFC-4180 CSV and returns the
// number of data rows written.
func WriteCSV(w io.Writer, src RowSource) (int, error) {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	count := 0
	for {
		row, err := src.Next()
		if err != nil {
			return count, err
		}
		if row == nil {
			break
		}

		if count == 0 {
			if err := cw.Write(src.Headers()); err != nil {
				return count, err
			}
		}

		record := make([]string, len(row))
		for i, v := range row {
			record[i] = Field(v)
		}
		if err := cw.Write(record); err != nil {
			return count, err
		}
		count++
	}

	cw.Flush()
	return count, cw.Error()
}
