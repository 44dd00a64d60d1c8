package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, one row per job
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Full sync: a persisted watermark must survive a crash
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per job; jobs in the same process share the file
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		closed: false,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		job TEXT NOT NULL PRIMARY KEY,
		layout TEXT NOT NULL,
		watermark TEXT NOT NULL,
		status TEXT NOT NULL,
		run_count INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		run_limit INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL,
		context BLOB,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
	`

	_, err := s.db.Exec(query)
	return err
}

// Load retrieves a job's checkpoint with retry mechanism
func (s *SQLiteStore) Load(ctx context.Context, job string) (*State, error) {
	if s.closed {
		return nil, fmt.Errorf("database store is closed")
	}

	var result *State
	err := s.retryOnBusy(ctx, func() error {
		var err error
		result, err = s.loadInternal(ctx, job)
		return err
	})
	return result, err
}

func (s *SQLiteStore) loadInternal(ctx context.Context, job string) (*State, error) {
	query := `
	SELECT job, layout, watermark, status, run_count, processed, run_limit, run_id, context, updated_at
	FROM checkpoints WHERE job = ?
	`

	row := s.db.QueryRowContext(ctx, query, job)

	var state State
	var updated int64

	err := row.Scan(
		&state.Job,
		&state.Layout,
		&state.Watermark,
		&state.Status,
		&state.RunCount,
		&state.Processed,
		&state.RunLimit,
		&state.RunID,
		&state.Context,
		&updated,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.UpdatedAt = time.UnixMilli(updated).UTC()
	return &state, nil
}

// Save writes a job's checkpoint with retry mechanism
func (s *SQLiteStore) Save(ctx context.Context, state *State) error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(ctx, func() error {
		return s.saveWithTransaction(ctx, state)
	})
}

func (s *SQLiteStore) saveWithTransaction(ctx context.Context, state *State) error {
	state.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	query := `
    INSERT INTO checkpoints
    (job, layout, watermark, status, run_count, processed, run_limit, run_id, context, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(job) DO UPDATE SET
        layout = excluded.layout,
        watermark = excluded.watermark,
        status = excluded.status,
        run_count = excluded.run_count,
        processed = excluded.processed,
        run_limit = excluded.run_limit,
        run_id = excluded.run_id,
        context = excluded.context,
        updated_at = excluded.updated_at
    `

	_, err = tx.ExecContext(ctx, query,
		state.Job,
		state.Layout,
		state.Watermark,
		state.Status,
		state.RunCount,
		state.Processed,
		state.RunLimit,
		state.RunID,
		state.Context,
		state.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// Clear removes a job's checkpoint
func (s *SQLiteStore) Clear(ctx context.Context, job string) error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job = ?`, job)
		return err
	})
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(ctx context.Context, operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			// Exponential backoff plus a small linear jitter
			delay := baseDelay*time.Duration(1<<uint(attempt)) + time.Duration(attempt*10)*time.Millisecond
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
