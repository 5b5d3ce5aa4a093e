package result

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/openmatka/engine/internal/models"
)

// fakeConn records executed statements and pops one queued error per exec.
type fakeConn struct {
	mu    sync.Mutex
	execs []string
	errs  []error
}

func (c *fakeConn) nextErr() error {
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

type fakeDriver struct{ conn *fakeConn }

func (d *fakeDriver) Open(name string) (driver.Conn, error) { return d.conn, nil }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not implemented") }

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.conn.execs = append(s.conn.execs, s.query)
	if err := s.conn.nextErr(); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, errors.New("not implemented")
}

// openFakeDB registers a uniquely named driver per test; database/sql
// panics on duplicate registration.
func openFakeDB(t *testing.T, conn *fakeConn) *sql.DB {
	t.Helper()
	name := "result-fake-" + t.Name()
	sql.Register(name, &fakeDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertFallsBackWhenMetadataColumnMissing(t *testing.T) {
	conn := &fakeConn{errs: []error{&pq.Error{Code: pgUndefinedColumn}}}
	repo := NewRepository(openFakeDB(t, conn))

	meta, _ := json.Marshal(map[string]int{"stakes": 3})
	err := repo.Insert(context.Background(), models.Result{
		RoundLabel: "10:05",
		Number:     42,
		Bonus:      2,
		Metadata:   meta,
	})
	if err != nil {
		t.Fatalf("insert with missing metadata column: %v", err)
	}

	if len(conn.execs) != 2 {
		t.Fatalf("executed %d inserts, want wide then narrow", len(conn.execs))
	}
	if !strings.Contains(conn.execs[0], "metadata") {
		t.Errorf("first insert %q should include metadata", conn.execs[0])
	}
	if strings.Contains(conn.execs[1], "metadata") {
		t.Errorf("fallback insert %q should not include metadata", conn.execs[1])
	}
}

func TestInsertDoesNotRetryOtherErrors(t *testing.T) {
	conn := &fakeConn{errs: []error{&pq.Error{Code: "23505"}}}
	repo := NewRepository(openFakeDB(t, conn))

	err := repo.Insert(context.Background(), models.Result{RoundLabel: "10:05", Number: 42, Bonus: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(conn.execs) != 1 {
		t.Fatalf("executed %d inserts, want 1 with no fallback", len(conn.execs))
	}
}

func TestInsertHappyPathWritesOnce(t *testing.T) {
	conn := &fakeConn{}
	repo := NewRepository(openFakeDB(t, conn))

	if err := repo.Insert(context.Background(), models.Result{RoundLabel: "10:05", Number: 7, Bonus: 1}); err != nil {
		t.Fatal(err)
	}
	if len(conn.execs) != 1 {
		t.Fatalf("executed %d inserts, want 1", len(conn.execs))
	}
}
