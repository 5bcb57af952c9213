// Package sqltest provides a scripted database/sql driver for repository
// tests. Each connection replays a fixed queue of operations and fails on
// the first statement that does not match.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	switch t {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	}
	return "unknown"
}

// Op is one expected driver call.
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
}

// WithErr makes the operation fail with err.
func (o Op) WithErr(err error) Op {
	o.err = err
	return o
}

// Result is returned from an Exec.
type Result struct {
	InsertID int64
	Affected int64
}

func (r Result) LastInsertId() (int64, error) { return r.InsertID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows is returned from a Query.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects an Exec of query. An empty query matches anything.
func Exec(query string, result Result) Op { return Op{typ: opExec, query: query, result: result} }

// Query expects a Query of query. An empty query matches anything.
func Query(query string, rows Rows) Op { return Op{typ: opQuery, query: query, rows: rows} }

func Begin() Op    { return Op{typ: opBegin} }
func Commit() Op   { return Op{typ: opCommit} }
func Rollback() Op { return Op{typ: opRollback} }

// Driver replays its queue across every connection it opens.
type Driver struct {
	ops []Op
	idx int32

	mu   sync.Mutex
	args [][]driver.Value
}

var driverSeq atomic.Int32

// NewDB registers a fresh driver for ops and opens a single-connection pool on it.
func NewDB(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("sqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed fails the test when some operations were never reached.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Args returns the arguments bound to the i-th Exec or Query.
func (d *Driver) Args(i int) []driver.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.args) {
		return nil
	}
	return d.args[i]
}

func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, normalize(query))
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" {
		if want, got := normalize(op.query), normalize(query); want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	return op, nil
}

func (d *Driver) record(args []driver.NamedValue) {
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	d.mu.Lock()
	d.args = append(d.args, values)
	d.mu.Unlock()
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	c.driver.record(args)
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
