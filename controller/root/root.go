package root

import (
	"context"
	"errors"
	"time"

	"mssqlpipe/format"
	"mssqlpipe/model"
	"mssqlpipe/service/db"
	"mssqlpipe/service/session"
)

var EmptyQuery = errors.New("length of query is empty")

// QueryOperation is the synchronous path: execute the statement under the
// composed timeout and render the full text report. Timeout and cancellation
// come back as errors carrying the same messages the session path records.
func QueryOperation(gateway db.Gateway, kind model.SessionKind, query, database string, globalTimeoutS, timeoutS int) (string, error) {
	if len(query) == 0 {
		return "", EmptyQuery
	}

	ctx, cancel := session.ComposeTimeout(context.Background(), globalTimeoutS, timeoutS)
	defer cancel(nil)

	started := time.Now()
	stream, err := gateway.Query(ctx, kind, query, database)
	if err != nil {
		return "", classify(ctx, err)
	}
	report, err := format.BuildReport(stream, started)
	if err != nil {
		return "", classify(ctx, err)
	}
	return report, nil
}

// classify swaps context noise for the cause when the deadline or a caller
// cancellation ended the execution.
func classify(ctx context.Context, err error) error {
	if ctx.Err() == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}
