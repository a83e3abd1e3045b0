// Package format turns a forward-only row stream into a bounded text report:
// a pipe-delimited table for the primary result set, then a footer with
// client and server timing, IO stats, rows-affected and an execution plan
// when one trails the batch.
package format

import (
	"fmt"
	"strings"
	"time"

	"mssqlpipe/model"
	"mssqlpipe/parsers"
)

const (
	// MaxCellWidth caps every column; longer cells are cut with an ellipsis.
	MaxCellWidth = 40
	ellipsis     = "..."
	// NullMarker is rendered for NULL fields.
	NullMarker = "NULL"
	// NoResults replaces the table when the primary result set had no rows.
	NoResults = "Query executed successfully. No results returned."
)

// BuildReport drains the whole stream and renders the report. All result
// sets are advanced even when only the first one is tabulated, because the
// server flushes trailing info messages only once the batch fully completes.
// The stream is closed before returning.
func BuildReport(stream model.RowStream, started time.Time) (string, error) {
	defer stream.Close()

	columns, err := stream.Columns()
	if err != nil {
		return "", err
	}

	var data [][]string
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for stream.Next() {
		if err := stream.Scan(scanArgs...); err != nil {
			return "", err
		}
		row := make([]string, len(columns))
		for i, v := range values {
			row[i] = RenderValue(v)
		}
		data = append(data, row)
	}
	if err := stream.Err(); err != nil {
		return "", err
	}

	planText, err := drainTrailingSets(stream)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(started)
	messages := stream.Messages()

	var sb strings.Builder
	if len(data) == 0 {
		sb.WriteString(NoResults)
		sb.WriteString("\n")
	} else {
		writeTable(&sb, columns, data)
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "Total rows: %d\n", len(data))
	}
	writeFooter(&sb, messages, elapsed, len(data) == 0)
	if planText != "" {
		sb.WriteString("\nExecution plan:\n")
		sb.WriteString(planText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// drainTrailingSets advances through every remaining result set and returns
// the execution-plan text if one of them is plan-shaped: a single column,
// a single row, and a value carrying a recognized plan marker.
func drainTrailingSets(stream model.RowStream) (string, error) {
	var planText string
	for stream.NextResultSet() {
		columns, err := stream.Columns()
		if err != nil {
			return "", err
		}
		var first string
		rows := 0
		for stream.Next() {
			if len(columns) == 1 && rows == 0 {
				var v interface{}
				if err := stream.Scan(&v); err != nil {
					return "", err
				}
				first = RenderValue(v)
			}
			rows++
		}
		if err := stream.Err(); err != nil {
			return "", err
		}
		if len(columns) == 1 && rows == 1 && LooksLikePlan(first) {
			planText = first
		}
	}
	return planText, stream.Err()
}

func writeTable(sb *strings.Builder, columns []string, data [][]string) {
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = cellWidth(c)
	}
	for _, row := range data {
		for i, cell := range row {
			if w := cellWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	header := make([]string, len(columns))
	seps := make([]string, len(columns))
	for i, c := range columns {
		header[i] = pad(truncateCell(c), widths[i])
		seps[i] = strings.Repeat("-", widths[i])
	}
	sb.WriteString(strings.Join(header, " | "))
	sb.WriteString("\n")
	sb.WriteString(strings.Join(seps, "-+-"))
	sb.WriteString("\n")
	for _, row := range data {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(truncateCell(cell), widths[i])
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteString("\n")
	}
}

func writeFooter(sb *strings.Builder, messages []string, elapsed time.Duration, zeroRows bool) {
	fmt.Fprintf(sb, "Execution time: %dms", elapsed.Milliseconds())
	if timing, ok := parsers.ParseTiming(messages); ok {
		fmt.Fprintf(sb, " (server: %dms, CPU: %dms)", timing.ElapsedMs, timing.CpuMs)
	}
	sb.WriteString("\n")
	for _, stat := range parsers.ParseIoStats(messages) {
		fmt.Fprintf(sb, "IO stats: %s (logical: %d, physical: %d, read-ahead: %d)\n",
			stat.TableName, stat.LogicalReads, stat.PhysicalReads, stat.ReadAheadReads)
	}
	if n, ok := parsers.ParseRowsAffected(messages); ok && zeroRows {
		fmt.Fprintf(sb, "Rows affected: %d\n", n)
	}
}

// RenderValue renders one scanned field in its natural string form.
func RenderValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return NullMarker
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// RenderRow renders one scanned row as a single unaligned report line; the
// session path appends these incrementally, where a full width scan is not
// an option.
func RenderRow(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = truncateCell(RenderValue(v))
	}
	return strings.Join(parts, " | ")
}

// LooksLikePlan reports whether a trailing single-column value is
// plan-shaped: SHOWPLAN XML output or a text operator tree.
func LooksLikePlan(s string) bool {
	return strings.Contains(s, "<ShowPlanXML") || strings.Contains(s, "|--")
}

func cellWidth(s string) int {
	if n := len([]rune(s)); n <= MaxCellWidth {
		return n
	}
	return MaxCellWidth
}

// truncateCell cuts oversized values to MaxCellWidth, keeping at least 3
// characters before the ellipsis.
func truncateCell(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxCellWidth {
		return s
	}
	keep := MaxCellWidth - len(ellipsis)
	if keep < 3 {
		keep = 3
	}
	return string(runes[:keep]) + ellipsis
}

func pad(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
