package model

// RowStream is a forward-only view over the result sets of one execution.
// It is single-consumer and not replayable: rows can only be advanced, never
// revisited, and the stream must not be shared between goroutines.
//
// Messages returns the server info messages accumulated so far; the list is
// only complete once every result set has been drained, because the server
// flushes trailing notices when the batch finishes.
type RowStream interface {
	// Columns returns the column names of the currently positioned result set.
	Columns() ([]string, error)
	// Next advances to the next row of the current result set.
	Next() bool
	// Scan copies the current row into dest, one pointer per column. NULL
	// fields scan as nil.
	Scan(dest ...any) error
	// NextResultSet advances past the current result set; false when no
	// further result set remains.
	NextResultSet() bool
	Err() error
	Close() error
	Messages() []string
}
