// Package dbtest provides a scriptable db.Conn for store tests.
package dbtest

import (
	"context"
	"errors"
	"sync"

	"github.com/jrsteele09/go-smart-launch/internal/db"
)

// ErrNoRows mimics pgx.ErrNoRows for db.IsNoRows.
var ErrNoRows = errors.New("no rows in result set")

// Call records one statement issued through FakeConn.
type Call struct {
	SQL  string
	Args []any
}

// Row is a canned QueryRow result.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return errors.New("dbtest: scan arity mismatch")
	}
	for i, d := range dest {
		if err := assign(d, r.Values[i]); err != nil {
			return err
		}
	}
	return nil
}

// FakeConn returns queued rows in order and records every call.
type FakeConn struct {
	mu       sync.Mutex
	Calls    []Call
	Rows     []Row
	Affected int64
	ExecErr  error
}

var _ db.Conn = (*FakeConn)(nil)

func (f *FakeConn) QueryRow(_ context.Context, sql string, args ...any) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{SQL: sql, Args: args})
	if len(f.Rows) == 0 {
		return Row{Err: ErrNoRows}
	}
	row := f.Rows[0]
	f.Rows = f.Rows[1:]
	return row
}

func (f *FakeConn) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{SQL: sql, Args: args})
	return f.Affected, f.ExecErr
}

// LastCall returns the most recent statement.
func (f *FakeConn) LastCall() Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return Call{}
	}
	return f.Calls[len(f.Calls)-1]
}
