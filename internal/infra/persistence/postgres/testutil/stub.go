// Package testutil provides a database/sql driver that understands the
// statements of the postgres snapshot store, so the store can be tested
// without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// StubConn holds the rows of the fake database and the statements it ran.
// Tables maps a table name to its rows keyed by lower case column name.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	// FailTables makes any statement touching the named table fail.
	FailTables map[string]bool
	RowsErr    error

	// pending holds the writes of the open transaction.
	pending map[string][]map[string]any
}

var registered atomic.Int64

// NewStubDB opens a sql.DB backed by a fresh StubConn.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: map[string][]map[string]any{}}
	name := fmt.Sprintf("zacharie-stubpg-%d", registered.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepared statements are not supported")
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return fmt.Errorf("stub: connection refused")
	}
	return nil
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("stub: begin refused")
	}
	c.pending = cloneTables(c.Tables)
	return stubTx{conn: c}, nil
}

var (
	insertRe = regexp.MustCompile(`(?is)^INSERT INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES.*?(ON CONFLICT\s*\((\w+)\)\s*(DO NOTHING|DO UPDATE).*)?$`)
	selectRe = regexp.MustCompile(`(?is)^SELECT\s+(.+?)\s+FROM\s+(\w+)(?:\s+ORDER BY\s+(.+))?$`)
)

func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	query = strings.TrimSpace(query)
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("stub: exec refused")
	}
	upper := strings.ToUpper(query)
	if strings.HasPrefix(upper, "CREATE ") {
		return driver.RowsAffected(0), nil
	}
	m := insertRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("stub: unsupported statement %q", query)
	}
	table := strings.ToLower(m[1])
	if c.FailTables[table] {
		return nil, fmt.Errorf("stub: write to %s refused", table)
	}
	cols := splitColumns(m[2])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("stub: %d columns but %d args for %s", len(cols), len(args), table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}

	tables := c.Tables
	if c.pending != nil {
		tables = c.pending
	}
	if key := strings.ToLower(m[4]); key != "" {
		for i, existing := range tables[table] {
			if existing[key] != row[key] {
				continue
			}
			if strings.EqualFold(m[5], "DO NOTHING") {
				return driver.RowsAffected(0), nil
			}
			tables[table][i] = row
			return driver.RowsAffected(1), nil
		}
	}
	tables[table] = append(tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	m := selectRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	cols, table := splitColumns(m[1]), strings.ToLower(m[2])
	if c.FailTables[table] {
		return nil, fmt.Errorf("stub: read of %s refused", table)
	}
	rows := append([]map[string]any(nil), c.Tables[table]...)
	if m[3] != "" {
		order := splitColumns(m[3])
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j], order) })
	}
	values := make([][]driver.Value, 0, len(rows))
	for _, row := range rows {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	defer func() { t.conn.pending = nil }()
	if t.conn.FailCommit {
		return fmt.Errorf("stub: commit refused")
	}
	t.conn.Tables = t.conn.pending
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func less(a, b map[string]any, order []string) bool {
	for _, col := range order {
		switch av, bv := a[col], b[col]; av := av.(type) {
		case time.Time:
			if bt, ok := bv.(time.Time); ok && !av.Equal(bt) {
				return av.Before(bt)
			}
		default:
			as, bs := fmt.Sprint(av), fmt.Sprint(bv)
			if as != bs {
				return as < bs
			}
		}
	}
	return false
}

func cloneTables(in map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(in))
	for table, rows := range in {
		out[table] = append([]map[string]any(nil), rows...)
	}
	return out
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
