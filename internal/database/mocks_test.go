package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wattline/wattline/internal/database"
)

// mockPool implements the database pool interface with scriptable results.
type mockPool struct {
	pingErr  error
	execErr  error
	queryErr error
	beginErr error

	// rows returned by Query, consumed front to back.
	rows [][]any
	// scan values returned by QueryRow, consumed per call.
	queryRowValues [][]any
	queryRowErr    error

	tx *mockTx

	execCalls []string
}

func mockNewPool(t *testing.T, pool *mockPool) func(ctx context.Context, dsn string) (database.DBPool, error) {
	t.Helper()
	return func(ctx context.Context, dsn string) (database.DBPool, error) {
		return pool, nil
	}
}

func (m *mockPool) Ping(ctx context.Context) error { return m.pingErr }
func (m *mockPool) Close()                         {}

func (m *mockPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execCalls = append(m.execCalls, sql)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return &mockRows{rows: m.rows}, nil
}

func (m *mockPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(m.queryRowValues) == 0 {
		return mockRow{err: m.queryRowErr}
	}
	values := m.queryRowValues[0]
	m.queryRowValues = m.queryRowValues[1:]
	return mockRow{values: values, err: m.queryRowErr}
}

func (m *mockPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	if m.tx == nil {
		m.tx = &mockTx{}
	}
	return m.tx, nil
}

// mockTx implements pgx.Tx.
type mockTx struct {
	execErr     error
	commitErr   error
	queryRowErr error

	// scan values returned by QueryRow, consumed per call.
	queryRowValues [][]any

	execCalls  []string
	committed  bool
	rolledBack bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { return m, nil }

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	m.rolledBack = true
	return nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execCalls = append(m.execCalls, sql)
	return pgconn.CommandTag{}, m.execErr
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &mockRows{}, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(m.queryRowValues) == 0 {
		return mockRow{err: m.queryRowErr}
	}
	values := m.queryRowValues[0]
	m.queryRowValues = m.queryRowValues[1:]
	return mockRow{values: values, err: m.queryRowErr}
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *mockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { return nil }

// mockRow implements pgx.Row, copying scripted values into scan targets.
type mockRow struct {
	values []any
	err    error
}

func (r mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

// mockRows implements pgx.Rows over scripted value tuples.
type mockRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.idx >= len(r.rows) {
		return errors.New("scan past end of rows")
	}
	err := scanInto(dest, r.rows[r.idx])
	r.idx++
	return err
}

func scanInto(dest, values []any) error {
	if len(dest) != len(values) {
		return errors.New("scan target count mismatch")
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *float64:
			*d = v.(float64)
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **string:
			if v == nil {
				*d = nil
			} else {
				s := v.(string)
				*d = &s
			}
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}
