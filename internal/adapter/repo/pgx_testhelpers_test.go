package repo

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

// testRows replays a fixed set of rows through the pgx.Rows contract.
type testRows struct {
	testRowsBase
	rows [][]any
	idx  int
}

func (r *testRows) Close() {}

func (r *testRows) Err() error { return nil }

func (r *testRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *testRows) Scan(dest ...any) error {
	return assignRow(r.rows[r.idx-1], dest)
}

func assignRow(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values for %d destinations", len(values), len(dest))
	}
	for i, val := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if val == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(val)
		if !v.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s", val, target.Type())
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}

type execCall struct {
	query string
	args  []any
}

// fakeSQL records executed statements and serves scripted query results.
type fakeSQL struct {
	execs    []execCall
	execErr  func(query string) error
	tag      func(query string) pgconn.CommandTag
	queryRow func(query string, args []any) pgx.Row
	query    func(query string, args []any) (pgx.Rows, error)
}

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		if err := f.execErr(query); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	if f.tag != nil {
		return f.tag(query), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	if f.queryRow == nil {
		return simpleRow{}
	}
	return f.queryRow(query, args)
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if f.query == nil {
		return &testRows{}, nil
	}
	return f.query(query, args)
}
