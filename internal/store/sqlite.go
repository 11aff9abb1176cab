package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/batch-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens the database at dbPath, creates the schema and seeds the
// sample data when the tables are empty.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		// Open database with WAL mode for better concurrency.
		dsn = dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := withBusyRetry(context.Background(), "seed", store.seed); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed sample data: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS departments (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		department_id INTEGER REFERENCES departments(id)
	);
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE
	);
	CREATE TABLE IF NOT EXISTS batches (
		id INTEGER PRIMARY KEY,
		batch_code TEXT NOT NULL UNIQUE,
		product_id INTEGER REFERENCES products(id)
	);
	CREATE TABLE IF NOT EXISTS batch_tracking (
		id INTEGER PRIMARY KEY,
		batch_id INTEGER REFERENCES batches(id),
		department_id INTEGER REFERENCES departments(id),
		employee_id INTEGER REFERENCES employees(id),
		timestamp TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batch_tracking_batch ON batch_tracking(batch_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

type trackingSeed struct {
	batch, department, employee int
	status                      string
}

var (
	seedDepartments = []string{"Packaging", "Quality Control", "Storage", "Delivery"}
	// name, department id
	seedEmployees = []struct {
		name string
		dept int
	}{
		{"John", 1}, {"Sara", 2}, {"Mike", 3}, {"Anna", 4}, {"Vikram", 1}, {"Riya", 3},
	}
	seedProducts = [][2]string{
		{"Vitamin D Tablets", "VDT"},
		{"Pain Relief Gel", "PRG"},
		{"Cough Syrup", "CSY"},
	}
	seedBatches  = []string{"VDT-052025-A", "PRG-052025-B", "CSY-052025-C"}
	seedTracking = []trackingSeed{
		{1, 1, 1, "Packed"},
		{1, 2, 2, "Inspected"},
		{1, 3, 3, "Stored"},
		{1, 4, 4, "Dispatched"},
		{2, 1, 5, "Packed"},
		{2, 2, 2, "Inspected"},
		{2, 3, 6, "Stored"},
		{3, 1, 1, "Packed"},
		{3, 4, 4, "Dispatched"},
	}
)

// seed inserts the sample data in one transaction unless it is already present.
func (s *SQLiteStore) seed(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM departments`).Scan(&count); err != nil {
		return fmt.Errorf("count departments: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, name := range seedDepartments {
		if _, err := tx.ExecContext(ctx, `INSERT INTO departments (id, name) VALUES (?, ?)`, i+1, name); err != nil {
			return fmt.Errorf("insert department %s: %w", name, err)
		}
	}
	for i, e := range seedEmployees {
		if _, err := tx.ExecContext(ctx, `INSERT INTO employees (id, name, department_id) VALUES (?, ?, ?)`, i+1, e.name, e.dept); err != nil {
			return fmt.Errorf("insert employee %s: %w", e.name, err)
		}
	}
	for i, p := range seedProducts {
		if _, err := tx.ExecContext(ctx, `INSERT INTO products (id, name, code) VALUES (?, ?, ?)`, i+1, p[0], p[1]); err != nil {
			return fmt.Errorf("insert product %s: %w", p[1], err)
		}
	}
	for i, code := range seedBatches {
		if _, err := tx.ExecContext(ctx, `INSERT INTO batches (id, batch_code, product_id) VALUES (?, ?, ?)`, i+1, code, i+1); err != nil {
			return fmt.Errorf("insert batch %s: %w", code, err)
		}
	}
	for _, t := range seedTracking {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_tracking (batch_id, department_id, employee_id, status) VALUES (?, ?, ?, ?)`,
			t.batch, t.department, t.employee, t.status,
		); err != nil {
			return fmt.Errorf("insert tracking row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	slog.Info("Seeded sample batch data", "batches", len(seedBatches), "tracking_rows", len(seedTracking))
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Query runs a single SELECT and returns its rows.
func (s *SQLiteStore) Query(ctx context.Context, query string) ([]Row, error) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, ErrReadOnly
	}

	var result []Row
	err := withBusyRetry(ctx, "query", func(ctx context.Context) error {
		rows, err := s.queryOnce(ctx, trimmed)
		if err != nil {
			return err
		}
		result = rows
		return nil
	})
	return result, err
}

func (s *SQLiteStore) queryOnce(ctx context.Context, query string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close query rows", "error", closeErr)
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, name := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[i] = Column{Name: name, Value: v}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withBusyRetry retries fn with exponential backoff while SQLite reports a lock conflict.
func withBusyRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

var _ Repository = (*SQLiteStore)(nil)
