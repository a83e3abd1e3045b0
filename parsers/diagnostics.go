// Package parsers extracts structured facts from the free-text info messages
// a SQL Server sends alongside row data. All parsers are pure functions over
// the ordered message list; a message that matches nothing is simply skipped,
// and an empty or nil list yields the "no data" result, never an error.
package parsers

import (
	"regexp"
	"strconv"
	"strings"

	"mssqlpipe/model"
)

// tempTablePrefix marks server-internal temp tables in STATISTICS IO output.
const tempTablePrefix = "#"

var (
	// "SQL Server Execution Times:\n   CPU time = 12 ms,  elapsed time = 38 ms."
	timingRe = regexp.MustCompile(`(?s)Execution Times?:.*?CPU time = (\d+) ms,\s*elapsed time = (\d+) ms`)

	// "Table 'Orders'. Scan count 1, logical reads 100, physical reads 5,
	//  page server reads 0, read-ahead reads 80, ..."
	// The lazy gap tolerates counters we do not care about; the first
	// "read-ahead reads" in the line is the plain one, "page server
	// read-ahead reads" always comes later.
	ioRe = regexp.MustCompile(`Table '([^']+)'\. Scan count \d+, logical reads (\d+), physical reads (\d+),.*?read-ahead reads (\d+)`)

	rowsAffectedRe = regexp.MustCompile(`\((\d+) rows? affected\)`)
)

// ParseTiming returns the last CPU/elapsed pair announced in messages. Later
// batches override earlier ones within the same execution, so the last match
// wins. ok is false when no message matches.
func ParseTiming(messages []string) (model.TimingInfo, bool) {
	var out model.TimingInfo
	found := false
	for _, msg := range messages {
		for _, m := range timingRe.FindAllStringSubmatch(msg, -1) {
			cpu, err1 := strconv.ParseInt(m[1], 10, 64)
			elapsed, err2 := strconv.ParseInt(m[2], 10, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			out = model.TimingInfo{ElapsedMs: elapsed, CpuMs: cpu}
			found = true
		}
	}
	return out, found
}

// ParseIoStats collects the per-table read counters from STATISTICS IO
// messages. Counts for the same table name (case-insensitive) are summed,
// internal temp tables are excluded, and nil is returned when nothing
// matched. Entries come back in first-seen order.
func ParseIoStats(messages []string) []model.IoStatEntry {
	byTable := make(map[string]*model.IoStatEntry)
	var order []string
	for _, msg := range messages {
		for _, m := range ioRe.FindAllStringSubmatch(msg, -1) {
			name := m[1]
			if strings.HasPrefix(strings.ToLower(name), tempTablePrefix) {
				continue
			}
			logical, _ := strconv.ParseInt(m[2], 10, 64)
			physical, _ := strconv.ParseInt(m[3], 10, 64)
			readAhead, _ := strconv.ParseInt(m[4], 10, 64)
			key := strings.ToLower(name)
			entry, ok := byTable[key]
			if !ok {
				entry = &model.IoStatEntry{TableName: name}
				byTable[key] = entry
				order = append(order, key)
			}
			entry.LogicalReads += logical
			entry.PhysicalReads += physical
			entry.ReadAheadReads += readAhead
		}
	}
	if len(order) == 0 {
		return nil
	}
	out := make([]model.IoStatEntry, 0, len(order))
	for _, key := range order {
		out = append(out, *byTable[key])
	}
	return out
}

// ParseRowsAffected sums every "(N rows affected)" announcement; a stored
// procedure may emit several. ok is false only when no message matched at
// all: an explicit "(0 rows affected)" parses to 0, not to absence.
func ParseRowsAffected(messages []string) (int64, bool) {
	var total int64
	found := false
	for _, msg := range messages {
		for _, m := range rowsAffectedRe.FindAllStringSubmatch(msg, -1) {
			n, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			total += n
			found = true
		}
	}
	return total, found
}
