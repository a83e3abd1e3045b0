package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mssqlpipe/model"
	"mssqlpipe/service/db"
)

type stubSet struct {
	cols []string
	rows [][]interface{}
}

type stubStream struct {
	sets []stubSet
	msgs []string
	cur  int
	row  int
}

func (s *stubStream) Columns() ([]string, error) {
	if s.cur >= len(s.sets) {
		return nil, nil
	}
	return s.sets[s.cur].cols, nil
}

func (s *stubStream) Next() bool {
	if s.cur >= len(s.sets) || s.row >= len(s.sets[s.cur].rows) {
		return false
	}
	s.row++
	return true
}

func (s *stubStream) Scan(dest ...interface{}) error {
	row := s.sets[s.cur].rows[s.row-1]
	for i, d := range dest {
		*(d.(*interface{})) = row[i]
	}
	return nil
}

func (s *stubStream) NextResultSet() bool {
	s.cur++
	s.row = 0
	return s.cur < len(s.sets)
}

func (s *stubStream) Err() error { return nil }
func (s *stubStream) Close() error { return nil }
func (s *stubStream) Messages() []string { return s.msgs }

type stubGateway struct {
	queryFn func(ctx context.Context, query string) (model.RowStream, error)
}

func (g *stubGateway) Query(ctx context.Context, _ model.SessionKind, query, _ string) (model.RowStream, error) {
	return g.queryFn(ctx, query)
}

func (g *stubGateway) ListDatabases(context.Context) ([]string, error) { return nil, nil }

func (g *stubGateway) ListTables(context.Context, string) ([]string, error) { return nil, nil }

func (g *stubGateway) TableSchema(context.Context, string, string) ([]db.ColumnSchema, error) {
	return nil, nil
}

func fixedGateway(stream *stubStream) *stubGateway {
	return &stubGateway{queryFn: func(context.Context, string) (model.RowStream, error) {
		s := *stream
		return &s, nil
	}}
}

// blockedGateway parks until the execution context is cancelled.
func blockedGateway() *stubGateway {
	return &stubGateway{queryFn: func(ctx context.Context, _ string) (model.RowStream, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func waitTerminal(t *testing.T, r *Registry, id int64) model.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := r.GetSession(id)
		return err == nil && !snap.Running
	}, 3*time.Second, 10*time.Millisecond)
	snap, err := r.GetSession(id)
	require.NoError(t, err)
	return snap
}

func TestStartSessionCompletes(t *testing.T) {
	gw := fixedGateway(&stubStream{
		sets: []stubSet{{
			cols: []string{"Id", "Name"},
			rows: [][]interface{}{{int64(1), "a"}, {int64(2), "b"}},
		}},
		msgs: []string{
			"(2 rows affected)",
			"SQL Server Execution Times:\n   CPU time = 3 ms,  elapsed time = 8 ms.",
		},
	})
	r := NewRegistry(gw, 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "SELECT * FROM t", "", 0)
	snap := waitTerminal(t, r, id)

	assert.Equal(t, model.StatusCompleted, snap.Status)
	assert.EqualValues(t, 2, snap.RowCount)
	assert.Empty(t, snap.Error)
	require.NotNil(t, snap.EndTime)
	assert.False(t, snap.EndTime.Before(snap.StartTime))
	assert.True(t, strings.HasPrefix(snap.Result, "Id | Name\n"))

	res, err := r.GetSessionResults(id, 0)
	require.NoError(t, err)
	require.NotNil(t, res.Timing)
	assert.EqualValues(t, 8, res.Timing.ElapsedMs)
	require.NotNil(t, res.RowsAffected)
	assert.EqualValues(t, 2, *res.RowsAffected)
	assert.False(t, res.Truncated)
}

func TestSessionIDsUnique(t *testing.T) {
	r := NewRegistry(fixedGateway(&stubStream{}), 0, 0, zap.NewNop())

	const n = 32
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.StartSession(model.KindQuery, "SELECT 1", "", 0)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate session id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestCancelSession(t *testing.T) {
	r := NewRegistry(blockedGateway(), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "WAITFOR DELAY '00:01:00'", "", 0)
	assert.True(t, r.CancelSession(id))

	snap := waitTerminal(t, r, id)
	assert.Equal(t, model.StatusCancelled, snap.Status)
	assert.Equal(t, ErrSessionCancelled.Error(), snap.Error)

	// terminal sessions cannot be cancelled again
	assert.False(t, r.CancelSession(id))
}

func TestCancelUnknownSession(t *testing.T) {
	r := NewRegistry(fixedGateway(&stubStream{}), 0, 0, zap.NewNop())

	assert.False(t, r.CancelSession(999))

	_, err := r.GetSession(999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Contains(t, err.Error(), "999 not found")
}

func TestSessionTimeout(t *testing.T) {
	r := NewRegistry(blockedGateway(), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "WAITFOR DELAY '00:00:05'", "", 1)
	snap := waitTerminal(t, r, id)

	assert.Equal(t, model.StatusCancelled, snap.Status)
	assert.Contains(t, snap.Error, "timeout exceeded")
	assert.Contains(t, snap.Error, "1s")
}

func TestGlobalTimeoutApplies(t *testing.T) {
	r := NewRegistry(blockedGateway(), 1, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "WAITFOR DELAY '00:00:05'", "", 0)
	snap := waitTerminal(t, r, id)

	assert.Equal(t, model.StatusCancelled, snap.Status)
	assert.Contains(t, snap.Error, "timeout exceeded")
}

func TestExecutionFaultRecordedVerbatim(t *testing.T) {
	gw := &stubGateway{queryFn: func(context.Context, string) (model.RowStream, error) {
		return nil, errors.New("Invalid object name 'nope'.")
	}}
	r := NewRegistry(gw, 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "SELECT * FROM nope", "", 0)
	snap := waitTerminal(t, r, id)

	assert.Equal(t, model.StatusFailed, snap.Status)
	assert.Equal(t, "Invalid object name 'nope'.", snap.Error)
}

func TestTerminalStateStable(t *testing.T) {
	r := NewRegistry(fixedGateway(&stubStream{
		sets: []stubSet{{cols: []string{"n"}, rows: [][]interface{}{{int64(1)}}}},
	}), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "SELECT 1", "", 0)
	first := waitTerminal(t, r, id)

	for i := 0; i < 10; i++ {
		snap, err := r.GetSession(id)
		require.NoError(t, err)
		assert.False(t, snap.Running)
		assert.Equal(t, first.Status, snap.Status)
		assert.Equal(t, first.RowCount, snap.RowCount)
		assert.Equal(t, first.Error, snap.Error)
		assert.True(t, first.EndTime.Equal(*snap.EndTime))
	}
}

func TestListSessionsOrderAndFilter(t *testing.T) {
	gw := &stubGateway{queryFn: func(ctx context.Context, query string) (model.RowStream, error) {
		if strings.HasPrefix(query, "WAITFOR") {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &stubStream{}, nil
	}}
	r := NewRegistry(gw, 0, 0, zap.NewNop())

	first := r.StartSession(model.KindQuery, "SELECT 1", "", 0)
	waitTerminal(t, r, first)
	second := r.StartSession(model.KindQuery, "WAITFOR DELAY '00:01:00'", "", 0)
	third := r.StartSession(model.KindQuery, "SELECT 3", "", 0)
	waitTerminal(t, r, third)

	all := r.ListSessions(true)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{first, second, third}, []int64{all[0].ID, all[1].ID, all[2].ID})

	running := r.ListSessions(false)
	require.Len(t, running, 1)
	assert.Equal(t, second, running[0].ID)

	r.CancelSession(second)
	waitTerminal(t, r, second)
}

func TestGetSessionResultsTruncation(t *testing.T) {
	rows := make([][]interface{}, 5)
	for i := range rows {
		rows[i] = []interface{}{int64(i)}
	}
	r := NewRegistry(fixedGateway(&stubStream{
		sets: []stubSet{{cols: []string{"n"}, rows: rows}},
	}), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "SELECT n FROM t", "", 0)
	waitTerminal(t, r, id)

	res, err := r.GetSessionResults(id, 2)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	lines := strings.Split(strings.TrimRight(res.Result, "\n"), "\n")
	assert.Equal(t, []string{"n", "0", "1"}, lines)
	assert.EqualValues(t, 5, res.RowCount)

	full, err := r.GetSessionResults(id, 0)
	require.NoError(t, err)
	assert.False(t, full.Truncated)
	assert.Len(t, strings.Split(strings.TrimRight(full.Result, "\n"), "\n"), 6)
}

func TestCleanupExpired(t *testing.T) {
	r := NewRegistry(fixedGateway(&stubStream{}), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "SELECT 1", "", 0)
	waitTerminal(t, r, id)

	assert.Equal(t, 0, r.CleanupExpired(time.Hour))
	assert.Equal(t, 1, r.CleanupExpired(0))
	_, err := r.GetSession(id)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestShutdownCancelsRunning(t *testing.T) {
	r := NewRegistry(blockedGateway(), 0, 0, zap.NewNop())

	id := r.StartSession(model.KindQuery, "WAITFOR DELAY '00:01:00'", "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	snap, err := r.GetSession(id)
	require.NoError(t, err)
	assert.False(t, snap.Running)
	assert.Equal(t, model.StatusCancelled, snap.Status)
}
