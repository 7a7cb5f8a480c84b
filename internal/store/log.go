package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/replica/internal/ir"
)

// Log is the persistent message log.
//
// Thread-safety: Append may be called from several goroutines. Replay must
// not be called concurrently with Append on the same Log.
type Log interface {
	// Append durably records m at the end of the log.
	Append(ctx context.Context, m ir.Message) error

	// Replay calls fn for every record in append order. It stops at the first
	// error returned by fn.
	Replay(ctx context.Context, fn func(ir.Message) error) error

	// Count returns the number of records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Backend selects a Log implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name.
func ParseBackend(raw string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(raw))); b {
	case BackendFile, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("unknown log backend %q (want %q or %q)", raw, BackendFile, BackendSQLite)
	}
}

// Open opens or creates the log at path with the given backend. A nil logger
// discards warnings.
func Open(backend Backend, path string, logger *slog.Logger) (Log, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch backend {
	case BackendFile:
		return OpenFile(path, logger)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("open log: unknown backend %q", backend)
	}
}
