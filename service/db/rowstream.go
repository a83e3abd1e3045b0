package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/golang-sql/sqlexp"
)

// rowStream adapts the driver's message-queue execution model to the
// pull-based RowStream contract. It is single-consumer and forward-only: the
// sqlexp queue interleaves notices, DONE counts and result-set boundaries
// with the row data, and reading it is destructive.
type rowStream struct {
	ctx    context.Context
	conn   *sql.Conn
	rows   *sql.Rows
	retmsg *sqlexp.ReturnMessage
	msgs   []string
	done   bool
	err    error
}

func newRowStream(ctx context.Context, conn *sql.Conn, rows *sql.Rows, retmsg *sqlexp.ReturnMessage) *rowStream {
	s := &rowStream{
		ctx:    ctx,
		conn:   conn,
		rows:   rows,
		retmsg: retmsg,
	}
	// position on the first result set
	s.advance()
	return s
}

// pump reads the message queue until the current result set has rows ready
// (true) or its boundary is reached (false), recording info messages on the
// way.
func (s *rowStream) pump() bool {
	for {
		switch m := s.retmsg.Message(s.ctx).(type) {
		case sqlexp.MsgNotice:
			s.msgs = append(s.msgs, m.Message.String())
		case sqlexp.MsgError:
			if s.err == nil {
				s.err = m.Error
			}
		case sqlexp.MsgRowsAffected:
			// surface DONE counts in the same shape the server's own tools
			// print them, so one format reaches the diagnostics parsers
			s.msgs = append(s.msgs, fmt.Sprintf("(%d rows affected)", m.Count))
		case sqlexp.MsgNext:
			return true
		case sqlexp.MsgNextResultSet:
			return false
		}
		if s.ctx.Err() != nil {
			return false
		}
	}
}

// advance pumps until a result set is positioned or the stream is exhausted.
func (s *rowStream) advance() bool {
	for {
		if s.pump() {
			return true
		}
		if s.ctx.Err() != nil || !s.rows.NextResultSet() {
			s.done = true
			return false
		}
	}
}

func (s *rowStream) Columns() ([]string, error) {
	if s.done {
		return nil, nil
	}
	return s.rows.Columns()
}

func (s *rowStream) Next() bool {
	return !s.done && s.rows.Next()
}

func (s *rowStream) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *rowStream) NextResultSet() bool {
	if s.done {
		return false
	}
	return s.advance()
}

func (s *rowStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *rowStream) Close() error {
	err := s.rows.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *rowStream) Messages() []string {
	return s.msgs
}
