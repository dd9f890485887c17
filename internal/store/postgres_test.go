package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("query not configured")
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresGetAgentNotFound(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	def, err := s.GetAgent(context.Background(), "missing")
	if err != nil || def != nil {
		t.Errorf("GetAgent = (%+v, %v), want (nil, nil)", def, err)
	}
}

func TestPostgresGetAgentScansJSONB(t *testing.T) {
	t.Parallel()

	now := time.Now()
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(dest ...any) error {
				*dest[0].(*string) = "id-1"
				*dest[1].(*string) = "helper"
				*dest[2].(*string) = "desc"
				*dest[3].(*string) = "prompt"
				*dest[4].(*[]byte) = []byte(`["time","search"]`)
				*dest[5].(*[]byte) = []byte(`{"model":"gpt-4o","temperature":0.5,"max_tokens":256}`)
				*dest[6].(*time.Time) = now
				*dest[7].(*time.Time) = now
				return nil
			}}
		},
	}

	s := NewPostgresStore(db)
	def, err := s.GetAgent(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if def.Name != "helper" || len(def.ToolNames) != 2 {
		t.Errorf("def = %+v", def)
	}
	if def.Model.Model != "gpt-4o" || def.Model.MaxTokens != 256 {
		t.Errorf("model settings = %+v", def.Model)
	}
}

func TestPostgresCreateAgentDuplicate(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(_ ...any) error {
				return &pgconn.PgError{Code: "23505"}
			}}
		},
	}

	s := NewPostgresStore(db)
	def := testAgent("helper")
	err := s.CreateAgent(context.Background(), def)
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("CreateAgent = %v, want ErrDuplicateName", err)
	}
	if def.ID == "" {
		t.Error("CreateAgent should assign an ID before inserting")
	}
}

func TestPostgresCreateAgentValidates(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	err := s.CreateAgent(context.Background(), &AgentDefinition{})
	if err == nil || !strings.Contains(err.Error(), "name must not be empty") {
		t.Errorf("CreateAgent = %v, want validation error", err)
	}
}

func TestPostgresUpdateServerNotFound(t *testing.T) {
	t.Parallel()

	s := NewPostgresStore(&mockDB{})
	def := testServer("time_http")
	def.ID = "missing"

	err := s.UpdateServer(context.Background(), def)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateServer = %v, want ErrNotFound", err)
	}
}

func TestPostgresListServersActiveFilter(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
			gotSQL = sql
			return nil, errors.New("stop here")
		},
	}

	s := NewPostgresStore(db)
	_, _ = s.ListServers(context.Background(), true)
	if !strings.Contains(gotSQL, "WHERE active") {
		t.Errorf("activeOnly query missing WHERE active:\n%s", gotSQL)
	}

	_, _ = s.ListServers(context.Background(), false)
	if strings.Contains(gotSQL, "WHERE active") {
		t.Errorf("unfiltered query should not filter on active:\n%s", gotSQL)
	}
}

func TestPostgresMigrateError(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("permission denied")
		},
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(context.Background()); err == nil {
		t.Error("Migrate should propagate DDL failures")
	}
}
