package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"

	_ "modernc.org/sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLOptions describe the table a SQLSource reads. KeyColumn must hold
// the same composite key the job's checkpoint layout composes.
type SQLOptions struct {
	Path       string
	Table      string
	KeyColumn  string
	LineColumn string
}

// SQLSource reads card images from a SQLite table ordered by key. The
// resume filter is pushed down into the query.
type SQLSource struct {
	db    *sql.DB
	opts  SQLOptions
	after string
	rows  *sql.Rows
}

// OpenSQL opens the database read-only
func OpenSQL(opts SQLOptions) (*SQLSource, error) {
	for _, ident := range []string{opts.Table, opts.KeyColumn, opts.LineColumn} {
		if !identRe.MatchString(ident) {
			return nil, fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(60000)", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLSource{db: db, opts: opts}, nil
}

// SeekAfter restricts the query to keys greater than key. It must be
// called before the first Next. An empty key reads the whole table.
func (s *SQLSource) SeekAfter(key string) error {
	if s.rows != nil {
		return errors.New("source already started")
	}
	s.after = key
	return nil
}

// Next returns the next line
func (s *SQLSource) Next(ctx context.Context) (string, error) {
	if s.rows == nil {
		query := fmt.Sprintf("SELECT %s FROM %s", s.opts.LineColumn, s.opts.Table)
		var args []any
		if s.after != "" {
			query += fmt.Sprintf(" WHERE %s > ?", s.opts.KeyColumn)
			args = append(args, s.after)
		}
		query += " ORDER BY " + s.opts.KeyColumn

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return "", fmt.Errorf("failed to query %s: %w", s.opts.Table, err)
		}
		s.rows = rows
	}

	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", s.opts.Table, err)
		}
		return "", io.EOF
	}

	var line string
	if err := s.rows.Scan(&line); err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", s.opts.Table, err)
	}
	return line, nil
}

// Close releases the cursor and the database
func (s *SQLSource) Close() error {
	if s.rows != nil {
		s.rows.Close()
	}
	return s.db.Close()
}
