// Package store provides read-only access to a trace database: a SQLite
// file of timestamped profiling events (kernel launches, memory
// operations, API calls, NVTX ranges) produced by an external exporter.
// The store is never written to; all side effects are confined to the
// connection's temp namespace.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mattn/go-sqlite3"
)

// driverName identifies the sqlite3 driver variant that carries the
// custom SQL functions the report catalog depends on.
const driverName = "sqlite3_tracelens"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return registerFunctions(conn)
		},
	})
}

// MissingDatabaseFileError indicates the trace database path does not exist.
type MissingDatabaseFileError struct {
	Path string
}

func (e *MissingDatabaseFileError) Error() string {
	return fmt.Sprintf("Database file %s does not exist.", e.Path)
}

// InvalidDatabaseFileError indicates the file exists but could not be
// opened or introspected as a SQLite database.
type InvalidDatabaseFileError struct {
	Path string
}

func (e *InvalidDatabaseFileError) Error() string {
	return fmt.Sprintf("Database file %s could not be opened and appears to be invalid.", e.Path)
}

// InvalidTablePatternError indicates a malformed table-name regular
// expression. The pattern is caller input, so this classifies as an
// argument failure rather than a database one.
type InvalidTablePatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidTablePatternError) Error() string {
	return fmt.Sprintf("Invalid table pattern '%s': %v", e.Pattern, e.Err)
}

// InvalidSQLError indicates a statement could not be prepared or executed.
type InvalidSQLError struct {
	SQL string
}

func (e *InvalidSQLError) Error() string {
	return fmt.Sprintf("Bad SQL statement: %s", e.SQL)
}

const loadTablesQuery = `
	SELECT name
	FROM sqlite_master
	WHERE type LIKE 'table'
	   OR type LIKE 'view';
`

// Store is a single-connection, read-only handle on one trace database.
// All statements for one report invocation run on the same underlying
// connection so that temp views and temp tables remain visible across
// calls. Not safe for concurrent use; run one invocation per store.
type Store struct {
	path   string
	db     *sql.DB
	conn   *sql.Conn
	tables map[string]struct{}
}

// Open opens the trace database at path strictly read-only
// (mode=ro, nolock, immutable) and loads the table/view name set.
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &MissingDatabaseFileError{Path: path}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &InvalidDatabaseFileError{Path: path}
	}

	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("nolock", "1")
	q.Set("immutable", "1")
	uri := (&url.URL{Scheme: "file", Path: abs, RawQuery: q.Encode()}).String()

	db, err := sql.Open(driverName, uri)
	if err != nil {
		return nil, &InvalidDatabaseFileError{Path: path}
	}

	// Temp objects are connection-scoped, so the whole invocation must
	// stay on one connection.
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, &InvalidDatabaseFileError{Path: path}
	}

	s := &Store{
		path:   path,
		db:     db,
		conn:   conn,
		tables: make(map[string]struct{}),
	}

	rows, err := conn.QueryContext(ctx, loadTablesQuery)
	if err != nil {
		s.Close()
		return nil, &InvalidDatabaseFileError{Path: path}
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			s.Close()
			return nil, &InvalidDatabaseFileError{Path: path}
		}
		s.tables[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		s.Close()
		return nil, &InvalidDatabaseFileError{Path: path}
	}

	return s, nil
}

// Close releases the connection. Temp views and tables created during
// the invocation vanish with it.
func (s *Store) Close() error {
	var first error
	if s.conn != nil {
		first = s.conn.Close()
		s.conn = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && first == nil {
			first = err
		}
		s.db = nil
	}
	return first
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// TableExists reports whether a table or view of the given name was
// present when the store was opened.
func (s *Store) TableExists(name string) bool {
	_, ok := s.tables[name]
	return ok
}

// Tables returns the names of all tables and views in the store.
func (s *Store) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

// SearchTables returns all table/view names matching the given regular
// expression. A malformed expression yields InvalidTablePatternError
// rather than a panic so callers can surface it as bad input.
func (s *Store) SearchTables(pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &InvalidTablePatternError{Pattern: pattern, Err: err}
	}
	var matches []string
	for name := range s.tables {
		if re.MatchString(name) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

const columnExistsQuery = `SELECT name FROM pragma_table_info(?) WHERE name = ?`

// ColumnExists reports whether the given table has the given column.
// Column metadata is read on demand, not cached: filter views shadowing
// a table can change the visible shape between calls.
func (s *Store) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.conn.QueryContext(ctx, columnExistsQuery, table, column)
	if err != nil {
		return false, &InvalidSQLError{SQL: columnExistsQuery}
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, &InvalidSQLError{SQL: columnExistsQuery}
	}
	return found, nil
}

// Execute runs a side-effecting statement. Statements are expected not
// to produce rows; the error text comes back verbatim from SQLite since
// a failure here is almost always a bug in report SQL.
func (s *Store) Execute(ctx context.Context, stmt string, args ...any) error {
	if s.conn == nil {
		return fmt.Errorf("execute on closed store")
	}
	if _, err := s.conn.ExecContext(ctx, stmt, args...); err != nil {
		return err
	}
	return nil
}

// Query starts a streaming query and returns the cursor. The caller
// owns the returned rows and must close them.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("query on closed store")
	}
	return s.conn.QueryContext(ctx, query, args...)
}
