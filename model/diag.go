package model

// TimingInfo is the server-reported execution time extracted from the
// STATISTICS TIME notices of one execution.
type TimingInfo struct {
	ElapsedMs int64 `json:"elapsed_ms"`
	CpuMs     int64 `json:"cpu_ms"`
}

// IoStatEntry is the per-table read counters extracted from a STATISTICS IO
// notice, summed over all notices naming the same table.
type IoStatEntry struct {
	TableName      string `json:"table"`
	LogicalReads   int64  `json:"logical_reads"`
	PhysicalReads  int64  `json:"physical_reads"`
	ReadAheadReads int64  `json:"read_ahead_reads"`
}

// SessionResults is what the results operation returns: the (possibly
// truncated) accumulated text plus the diagnostics parsed from the session's
// info messages.
type SessionResults struct {
	SessionID    int64         `json:"session_id"`
	Status       SessionStatus `json:"status"`
	Result       string        `json:"result"`
	Truncated    bool          `json:"truncated"`
	RowCount     int64         `json:"row_count"`
	ElapsedMs    int64         `json:"elapsed_ms"`
	Timing       *TimingInfo   `json:"server_timing,omitempty"`
	IoStats      []IoStatEntry `json:"io_stats,omitempty"`
	RowsAffected *int64        `json:"rows_affected,omitempty"`
	PlanText     string        `json:"execution_plan,omitempty"`
	Error        string        `json:"error,omitempty"`
}
