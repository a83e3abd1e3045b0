package format

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSet struct {
	cols []string
	rows [][]interface{}
}

type fakeStream struct {
	sets   []fakeSet
	msgs   []string
	cur    int
	row    int
	closed bool
}

func (s *fakeStream) Columns() ([]string, error) {
	if s.cur >= len(s.sets) {
		return nil, nil
	}
	return s.sets[s.cur].cols, nil
}

func (s *fakeStream) Next() bool {
	if s.cur >= len(s.sets) || s.row >= len(s.sets[s.cur].rows) {
		return false
	}
	s.row++
	return true
}

func (s *fakeStream) Scan(dest ...interface{}) error {
	row := s.sets[s.cur].rows[s.row-1]
	for i, d := range dest {
		*(d.(*interface{})) = row[i]
	}
	return nil
}

func (s *fakeStream) NextResultSet() bool {
	s.cur++
	s.row = 0
	return s.cur < len(s.sets)
}

func (s *fakeStream) Err() error { return nil }
func (s *fakeStream) Close() error { s.closed = true; return nil }
func (s *fakeStream) Messages() []string { return s.msgs }

var elapsedLine = regexp.MustCompile(`(?m)^Execution time: \d+ms`)

func TestBuildReportTable(t *testing.T) {
	stream := &fakeStream{sets: []fakeSet{{
		cols: []string{"Id", "Name"},
		rows: [][]interface{}{
			{int64(1), "Alice"},
			{int64(2), nil},
		},
	}}}

	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)
	assert.True(t, stream.closed)

	want := strings.Join([]string{
		"Id | Name ",
		"---+------",
		"1  | Alice",
		"2  | NULL ",
		"",
		"Total rows: 2",
		"",
	}, "\n")
	idx := strings.Index(report, "Execution time:")
	require.Greater(t, idx, 0)
	assert.Equal(t, want, report[:idx])
	assert.NotContains(t, report, "(server:")
}

func TestBuildReportNoResults(t *testing.T) {
	stream := &fakeStream{sets: []fakeSet{{cols: []string{"Id"}}}}

	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(report, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, NoResults, lines[0])
	assert.Regexp(t, `^Execution time: \d+ms$`, lines[1])
}

func TestBuildReportFooterDiagnostics(t *testing.T) {
	stream := &fakeStream{
		sets: []fakeSet{{cols: []string{"n"}, rows: [][]interface{}{{int64(7)}}}},
		msgs: []string{
			"Table 'Orders'. Scan count 1, logical reads 100, physical reads 5, read-ahead reads 80.",
			"SQL Server Execution Times:\n   CPU time = 12 ms,  elapsed time = 38 ms.",
		},
	}

	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)
	assert.Regexp(t, `Execution time: \d+ms \(server: 38ms, CPU: 12ms\)`, report)
	assert.Contains(t, report, "IO stats: Orders (logical: 100, physical: 5, read-ahead: 80)")
}

func TestBuildReportRowsAffectedOnlyWithoutDataRows(t *testing.T) {
	stream := &fakeStream{
		sets: []fakeSet{{cols: nil}},
		msgs: []string{"(5 rows affected)"},
	}
	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)
	assert.Contains(t, report, NoResults)
	assert.Contains(t, report, "Rows affected: 5")

	withRows := &fakeStream{
		sets: []fakeSet{{cols: []string{"n"}, rows: [][]interface{}{{int64(1)}}}},
		msgs: []string{"(5 rows affected)"},
	}
	report, err = BuildReport(withRows, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, report, "Rows affected:")
}

func TestBuildReportExecutionPlan(t *testing.T) {
	plan := "  |--Clustered Index Scan(OBJECT:([db].[dbo].[Orders]))"
	stream := &fakeStream{sets: []fakeSet{
		{cols: []string{"Id"}, rows: [][]interface{}{{int64(1)}}},
		{cols: []string{"StmtText"}, rows: [][]interface{}{{plan}}},
	}}

	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)
	assert.Contains(t, report, "Execution plan:\n"+plan)
}

func TestBuildReportTruncatesWideCells(t *testing.T) {
	long := strings.Repeat("x", 45)
	stream := &fakeStream{sets: []fakeSet{{
		cols: []string{"v"},
		rows: [][]interface{}{{long}},
	}}}

	report, err := BuildReport(stream, time.Now())
	require.NoError(t, err)
	assert.Contains(t, report, strings.Repeat("x", MaxCellWidth-len("..."))+"...")
	assert.NotContains(t, report, strings.Repeat("x", MaxCellWidth))
}

func TestBuildReportDeterministic(t *testing.T) {
	build := func() string {
		stream := &fakeStream{
			sets: []fakeSet{{cols: []string{"a", "b"}, rows: [][]interface{}{{int64(1), "x"}, {int64(2), "y"}}}},
			msgs: []string{"SQL Server Execution Times:\n CPU time = 1 ms, elapsed time = 2 ms."},
		}
		report, err := BuildReport(stream, time.Now())
		require.NoError(t, err)
		return elapsedLine.ReplaceAllString(report, "Execution time: Xms")
	}
	assert.Equal(t, build(), build())
}

func TestRenderRow(t *testing.T) {
	line := RenderRow([]interface{}{int64(3), nil, []byte("abc")})
	assert.Equal(t, "3 | NULL | abc", line)
}
