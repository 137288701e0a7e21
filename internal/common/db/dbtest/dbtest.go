// Package dbtest provides a scripted in-memory db.Database for repository tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"codearena/internal/common/db"
)

// Call is one statement seen by the fake.
type Call struct {
	Query string
	Args  []interface{}
	InTx  bool
}

// QueryFunc returns the rows for a query. Each row is a list of column values.
type QueryFunc func(query string, args []interface{}) ([][]interface{}, error)

// ExecFunc returns the outcome of a statement.
type ExecFunc func(query string, args []interface{}) (db.Result, error)

// DB records every statement and answers from the scripted funcs.
type DB struct {
	OnQuery QueryFunc
	OnExec  ExecFunc

	mu        sync.Mutex
	calls     []Call
	commits   int
	rollbacks int
}

var _ db.Database = (*DB)(nil)

// New creates a fake with the given handlers. Either may be nil.
func New(onQuery QueryFunc, onExec ExecFunc) *DB {
	return &DB{OnQuery: onQuery, OnExec: onExec}
}

// Calls returns a copy of the recorded statements.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsMatching returns recorded statements whose query contains substr.
func (d *DB) CallsMatching(substr string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if strings.Contains(c.Query, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Commits reports how many transactions committed.
func (d *DB) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// Rollbacks reports how many transactions rolled back.
func (d *DB) Rollbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbacks
}

func (d *DB) record(query string, args []interface{}, inTx bool) {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Query: query, Args: args, InTx: inTx})
	d.mu.Unlock()
}

func (d *DB) query(query string, args []interface{}, inTx bool) (*Rows, error) {
	d.record(query, args, inTx)
	if d.OnQuery == nil {
		return &Rows{}, nil
	}
	data, err := d.OnQuery(query, args)
	if err != nil {
		return nil, err
	}
	return &Rows{data: data, pos: -1}, nil
}

func (d *DB) exec(query string, args []interface{}, inTx bool) (db.Result, error) {
	d.record(query, args, inTx)
	if d.OnExec == nil {
		return Result{Affected: 1}, nil
	}
	return d.OnExec(query, args)
}

func (d *DB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return d.query(query, args, false)
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	rows, err := d.query(query, args, false)
	return &Row{rows: rows, err: err}
}

func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return d.exec(query, args, false)
}

func (d *DB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	tx := &Tx{db: d}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *DB) BeginTx(ctx context.Context, opts *db.TxOptions) (db.Transaction, error) {
	return &Tx{db: d}, nil
}

func (d *DB) Ping(ctx context.Context) error { return nil }

func (d *DB) Close() error { return nil }

// Tx is a transaction on the fake. Statements are recorded with InTx set.
type Tx struct {
	db   *DB
	done bool
}

func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.query(query, args, true)
}

func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	rows, err := t.db.query(query, args, true)
	return &Row{rows: rows, err: err}
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.exec(query, args, true)
}

func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

// Result is a canned db.Result.
type Result struct {
	InsertID int64
	Affected int64
}

func (r Result) LastInsertId() (int64, error) { return r.InsertID, nil }

func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows iterates canned data.
type Rows struct {
	data [][]interface{}
	pos  int
}

func (r *Rows) Next() bool {
	r.pos++
	return r.pos < len(r.data)
}

func (r *Rows) Scan(dest ...interface{}) error {
	if r.pos < 0 || r.pos >= len(r.data) {
		return fmt.Errorf("dbtest: scan outside of rows")
	}
	return assignRow(r.data[r.pos], dest)
}

func (r *Rows) Close() error { return nil }

func (r *Rows) Err() error { return nil }

// Row is the single-row view used by QueryRow.
type Row struct {
	rows *Rows
	err  error
}

func (r *Row) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	if r.rows == nil || !r.rows.Next() {
		return sql.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func assignRow(row []interface{}, dest []interface{}) error {
	if len(row) != len(dest) {
		return fmt.Errorf("dbtest: row has %d columns, scan wants %d", len(row), len(dest))
	}
	for i, value := range row {
		if err := assign(dest[i], value); err != nil {
			return fmt.Errorf("dbtest: column %d: %w", i, err)
		}
	}
	return nil
}

func assign(dest, value interface{}) error {
	if scanner, ok := dest.(sql.Scanner); ok {
		return scanner.Scan(value)
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer")
	}
	target := dv.Elem()
	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case v.Type().ConvertibleTo(target.Type()):
		target.Set(v.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", value, target.Type())
	}
	return nil
}
