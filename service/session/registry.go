// Package session tracks background query executions. Each session is a
// map entry owned by the registry and mutated by exactly one background
// goroutine; every other party reads snapshot copies. The lifecycle is
// Running -> {Completed, Failed, Cancelled}, terminal states are final, and
// per-session faults never surface as errors to registry callers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"mssqlpipe/format"
	"mssqlpipe/model"
	"mssqlpipe/parsers"
	"mssqlpipe/service/db"
	"mssqlpipe/utils"
)

// ErrSessionNotFound is returned by lookups for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

type liveSession struct {
	mu     sync.Mutex
	rec    model.Session
	cancel context.CancelCauseFunc
	done   utils.Promise[int64]
}

func (ls *liveSession) snapshot() model.Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.rec.Clone()
}

func (ls *liveSession) appendRow(line string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.rec.Running {
		return
	}
	ls.rec.Result += line + "\n"
	ls.rec.RowCount++
}

func (ls *liveSession) appendLine(line string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if !ls.rec.Running {
		return
	}
	ls.rec.Result += line + "\n"
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*liveSession
	lastID   int64

	gateway        db.Gateway
	log            *zap.Logger
	sem            *semaphore.Weighted
	globalTimeoutS int
}

// NewRegistry builds a registry. globalTimeoutS bounds every session unless
// a shorter per-session timeout is given; maxConcurrent caps how many
// background executions run at once (0 = unbounded).
func NewRegistry(gateway db.Gateway, globalTimeoutS int, maxConcurrent int64, log *zap.Logger) *Registry {
	r := &Registry{
		sessions:       make(map[int64]*liveSession),
		gateway:        gateway,
		log:            log,
		globalTimeoutS: globalTimeoutS,
	}
	if maxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return r
}

// StartSession allocates the next id, records the session as running and
// spawns its background execution. It returns immediately; the caller polls
// the session afterwards.
func (r *Registry) StartSession(kind model.SessionKind, query, database string, timeoutS int) int64 {
	ctx, cancel := ComposeTimeout(context.Background(), r.globalTimeoutS, timeoutS)
	ls := &liveSession{
		cancel: cancel,
		done:   utils.New[int64](),
	}

	r.mu.Lock()
	r.lastID++
	id := r.lastID
	ls.rec = model.Session{
		ID:        id,
		Kind:      kind,
		Query:     query,
		Database:  database,
		StartTime: time.Now(),
		Running:   true,
		Status:    model.StatusRunning,
		TimeoutS:  timeoutS,
	}
	r.sessions[id] = ls
	r.mu.Unlock()

	r.log.Info("session started",
		zap.Int64("session_id", id), zap.String("kind", string(kind)))
	go r.run(ls, ctx, cancel)
	return id
}

// GetSession returns a consistent snapshot of the session, never a live
// record mid-mutation.
func (r *Registry) GetSession(id int64) (model.Session, error) {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return model.Session{}, fmt.Errorf("%d not found: %w", id, ErrSessionNotFound)
	}
	return ls.snapshot(), nil
}

// CancelSession signals cooperative cancellation to a running session.
// It reports whether cancellation was actually signaled: false for unknown
// or already-terminal sessions.
func (r *Registry) CancelSession(id int64) bool {
	r.mu.RLock()
	ls, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	ls.mu.Lock()
	running := ls.rec.Running
	ls.mu.Unlock()
	if !running {
		return false
	}
	ls.cancel(ErrSessionCancelled)
	r.log.Info("session cancellation requested", zap.Int64("session_id", id))
	return true
}

// ListSessions returns snapshots in id (insertion) order, optionally
// filtered to running sessions only.
func (r *Registry) ListSessions(includeCompleted bool) []model.Session {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	live := make(map[int64]*liveSession, len(r.sessions))
	for id, ls := range r.sessions {
		live[id] = ls
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		snap := live[id].snapshot()
		if !includeCompleted && snap.Terminal() {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// GetSessionResults returns the accumulated result text, truncated to
// maxRows data rows when maxRows > 0, together with the diagnostics parsed
// from the session's info messages.
func (r *Registry) GetSessionResults(id int64, maxRows int) (model.SessionResults, error) {
	snap, err := r.GetSession(id)
	if err != nil {
		return model.SessionResults{}, err
	}

	text, truncated := truncateRows(snap.Result, maxRows)
	res := model.SessionResults{
		SessionID: snap.ID,
		Status:    snap.Status,
		Result:    text,
		Truncated: truncated,
		RowCount:  snap.RowCount,
		ElapsedMs: snap.ElapsedMs(time.Now()),
		PlanText:  snap.PlanText,
		Error:     snap.Error,
	}
	if timing, ok := parsers.ParseTiming(snap.Messages); ok {
		res.Timing = &timing
	}
	res.IoStats = parsers.ParseIoStats(snap.Messages)
	if n, ok := parsers.ParseRowsAffected(snap.Messages); ok {
		res.RowsAffected = &n
	}
	return res, nil
}

// CleanupExpired removes terminal sessions that ended more than maxAge ago
// and returns how many were dropped. Running sessions are never evicted.
func (r *Registry) CleanupExpired(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	for id, ls := range r.sessions {
		snap := ls.snapshot()
		if snap.Terminal() && snap.EndTime != nil && snap.EndTime.Before(cutoff) {
			delete(r.sessions, id)
			cleaned++
		}
	}
	return cleaned
}

// Shutdown cancels every running session and waits for their background
// tasks to record an outcome, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*liveSession, 0, len(r.sessions))
	for _, ls := range r.sessions {
		live = append(live, ls)
	}
	r.mu.RUnlock()

	for _, ls := range live {
		ls.mu.Lock()
		running := ls.rec.Running
		ls.mu.Unlock()
		if running {
			ls.cancel(ErrSessionCancelled)
		}
	}
	for _, ls := range live {
		waited := make(chan struct{})
		go func(ls *liveSession) {
			_, _ = ls.done.Get()
			close(waited)
		}(ls)
		select {
		case <-waited:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// run supervises one background execution: whatever happens, an outcome is
// written into the session record before the goroutine exits.
func (r *Registry) run(ls *liveSession, ctx context.Context, cancel context.CancelCauseFunc) {
	var rowCount int64
	var execErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				execErr = fmt.Errorf("internal fault: %v", rec)
				r.log.Error("session panicked",
					zap.Int64("session_id", ls.rec.ID), zap.Any("panic", rec))
			}
		}()
		execErr = r.execute(ctx, ls, &rowCount)
	}()
	r.finalize(ls, ctx, rowCount, execErr)
	cancel(nil)
	ls.done.Done(rowCount, execErr)
}

func (r *Registry) execute(ctx context.Context, ls *liveSession, rowCount *int64) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)
	}

	stream, err := r.gateway.Query(ctx, ls.rec.Kind, ls.rec.Query, ls.rec.Database)
	if err != nil {
		return err
	}
	defer stream.Close()

	columns, err := stream.Columns()
	if err != nil {
		return err
	}
	if len(columns) > 0 {
		ls.appendLine(strings.Join(columns, " | "))
	}

	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Scan(scanArgs...); err != nil {
			return err
		}
		ls.appendRow(format.RenderRow(values))
		*rowCount++
	}
	if err := stream.Err(); err != nil {
		return err
	}

	// drain the remaining result sets: trailing info messages only arrive
	// once the whole batch completes, and one of them may carry the plan
	for stream.NextResultSet() {
		cols, err := stream.Columns()
		if err != nil {
			return err
		}
		var first string
		rows := 0
		for stream.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(cols) == 1 && rows == 0 {
				var v interface{}
				if err := stream.Scan(&v); err != nil {
					return err
				}
				first = format.RenderValue(v)
			}
			rows++
		}
		if len(cols) == 1 && rows == 1 && format.LooksLikePlan(first) {
			ls.mu.Lock()
			ls.rec.PlanText = first
			ls.mu.Unlock()
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	ls.mu.Lock()
	ls.rec.Messages = stream.Messages()
	ls.mu.Unlock()
	return ctx.Err()
}

// finalize writes the terminal outcome exactly once. Running flips to false
// last, so an observer that sees running=false also sees the final values of
// every other field.
func (r *Registry) finalize(ls *liveSession, ctx context.Context, rowCount int64, execErr error) {
	status, errText := classifyOutcome(ctx, execErr)

	ls.mu.Lock()
	if !ls.rec.Running {
		ls.mu.Unlock()
		return
	}
	now := time.Now()
	ls.rec.EndTime = &now
	ls.rec.RowCount = rowCount
	ls.rec.Error = errText
	ls.rec.Status = status
	ls.rec.Running = false
	id := ls.rec.ID
	ls.mu.Unlock()

	r.log.Info("session finished",
		zap.Int64("session_id", id),
		zap.String("status", string(status)),
		zap.Int64("rows", rowCount))
}

// classifyOutcome maps an execution result onto the session taxonomy:
// completed, cancelled (timeout or caller request, with distinct messages)
// or failed with the fault's message passed through verbatim.
func classifyOutcome(ctx context.Context, err error) (model.SessionStatus, string) {
	if err == nil {
		return model.StatusCompleted, ""
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := context.Cause(ctx)
		var te *TimeoutError
		switch {
		case errors.As(cause, &te):
			return model.StatusCancelled, te.Error()
		case errors.Is(cause, ErrSessionCancelled):
			return model.StatusCancelled, ErrSessionCancelled.Error()
		default:
			return model.StatusCancelled, "session cancelled"
		}
	}
	return model.StatusFailed, err.Error()
}

// truncateRows keeps the header line plus at most maxRows data rows of the
// accumulated result text.
func truncateRows(text string, maxRows int) (string, bool) {
	if maxRows <= 0 || text == "" {
		return text, false
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= maxRows+1 {
		return text, false
	}
	kept := lines[:maxRows+1]
	return strings.Join(kept, "\n") + "\n", true
}
