package testhelpers

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Response is what FakeQuerier returns for a matched statement.
type Response struct {
	Rows  [][]any // Each inner slice is one row, in column order
	Err   error   // Returned from Query, or from Scan for QueryRow
	Block bool    // Wait until ctx is done, then fail with ctx.Err()
}

// QueryCall records one statement received by FakeQuerier.
type QueryCall struct {
	SQL  string
	Args []any
}

type rule struct {
	match string
	resp  Response
}

// FakeQuerier is an in-memory datasource.Querier for unit tests. Statements
// are matched against rules by substring, first match wins; unmatched
// statements fail.
type FakeQuerier struct {
	mu    sync.Mutex
	rules []rule
	calls []QueryCall
}

// NewFakeQuerier creates an empty fake.
func NewFakeQuerier() *FakeQuerier {
	return &FakeQuerier{}
}

// On registers a response for statements containing match.
func (f *FakeQuerier) On(match string, resp Response) *FakeQuerier {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, resp: resp})
	return f
}

// Calls returns the statements received so far.
func (f *FakeQuerier) Calls() []QueryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]QueryCall(nil), f.calls...)
}

// CallsMatching counts received statements containing match.
func (f *FakeQuerier) CallsMatching(match string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.SQL, match) {
			n++
		}
	}
	return n
}

func (f *FakeQuerier) lookup(sql string, args []any) (Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, QueryCall{SQL: sql, Args: args})
	for _, r := range f.rules {
		if strings.Contains(sql, r.match) {
			return r.resp, true
		}
	}
	return Response{}, false
}

// Query implements datasource.Querier.
func (f *FakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	resp, ok := f.lookup(sql, args)
	if !ok {
		return nil, fmt.Errorf("unexpected query: %s", sql)
	}
	if resp.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &FakeRows{data: resp.Rows}, nil
}

// QueryRow implements datasource.Querier.
func (f *FakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	resp, ok := f.lookup(sql, args)
	if !ok {
		return &fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	if resp.Block {
		<-ctx.Done()
		return &fakeRow{err: ctx.Err()}
	}
	if resp.Err != nil {
		return &fakeRow{err: resp.Err}
	}
	if len(resp.Rows) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{values: resp.Rows[0]}
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanValues(r.values, dest)
}

// FakeRows is a pgx.Rows over in-memory values.
type FakeRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *FakeRows) Close()                                       { r.closed = true }
func (r *FakeRows) Err() error                                   { return nil }
func (r *FakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *FakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *FakeRows) RawValues() [][]byte                          { return nil }
func (r *FakeRows) Conn() *pgx.Conn                              { return nil }

func (r *FakeRows) Next() bool {
	if r.closed || r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *FakeRows) Scan(dest ...any) error {
	return scanValues(r.data[r.idx-1], dest)
}

func (r *FakeRows) Values() ([]any, error) {
	return r.data[r.idx-1], nil
}

// scanValues assigns src to the pointers in dest, converting between
// compatible kinds (e.g. int to int64).
func scanValues(src []any, dest []any) error {
	if len(src) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(src), len(dest))
	}
	for i := range dest {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if src[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		sv := reflect.ValueOf(src[i])
		if !sv.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s", src[i], target.Type())
		}
		target.Set(sv.Convert(target.Type()))
	}
	return nil
}

var (
	_ pgx.Rows = (*FakeRows)(nil)
	_ pgx.Row  = (*fakeRow)(nil)
)
