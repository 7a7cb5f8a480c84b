package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/replica/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on messages.id
const currentSchemaVersion = 1

// SQLiteLog is a Log stored in SQLite.
// Uses WAL mode so that replay or trace can read while the client appends.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite log at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// Append inserts m as the next row.
func (s *SQLiteLog) Append(ctx context.Context, m ir.Message) error {
	body, err := ir.Encode(m)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, flow, kind, body, digest)
		VALUES (?, ?, ?, ?, ?)
	`,
		m.ID().String(),
		string(m.Flow().Type),
		string(m.Kind()),
		string(body),
		ir.DigestBytes(body),
	)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// Replay reads every row in seq order. A row whose body no longer matches
// its digest is an error.
//
// The rows are fully read before fn is called, so fn may use the log.
func (s *SQLiteLog) Replay(ctx context.Context, fn func(ir.Message) error) error {
	msgs, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLog) readAll(ctx context.Context) ([]ir.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, body, digest
		FROM messages
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("replay: query messages: %w", err)
	}
	defer rows.Close()

	var msgs []ir.Message
	for rows.Next() {
		var (
			seq    int64
			body   string
			digest string
		)
		if err := rows.Scan(&seq, &body, &digest); err != nil {
			return nil, fmt.Errorf("replay: scan message: %w", err)
		}
		if got := ir.DigestBytes([]byte(body)); got != digest {
			return nil, fmt.Errorf("replay: seq %d: digest mismatch", seq)
		}
		m, err := ir.Decode([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("replay: seq %d: %w", seq, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay: iterate messages: %w", err)
	}
	return msgs, nil
}

// Count returns the number of rows.
func (s *SQLiteLog) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteLog) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes messages by id for trace lookups.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(id)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLiteLog) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
