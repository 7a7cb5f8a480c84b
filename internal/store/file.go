package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/replica/internal/ir"
)

// FileLog is a Log stored as newline-delimited JSON.
//
// A crash during Append can leave a partial final line. OpenFile truncates
// such a tail before accepting new appends, and Replay skips one if it finds
// it, so a torn write loses only the record being written.
type FileLog struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	logger *slog.Logger
}

// OpenFile opens or creates a file log at path.
func OpenFile(path string, logger *slog.Logger) (*FileLog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if err := repairTail(f, logger); err != nil {
		f.Close()
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileLog{path: path, f: f, logger: logger}, nil
}

// repairTail truncates everything after the last newline.
func repairTail(f *os.File, logger *slog.Logger) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	// Scan backwards in blocks for the last newline.
	const block = 4096
	buf := make([]byte, block)
	end := size
	for end > 0 {
		start := max(end-block, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		chunk := buf[:n]
		if end == size && len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			return nil
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep := start + int64(i) + 1
			logger.Warn("truncating torn log record", "path", f.Name(), "bytes", size-keep)
			return f.Truncate(keep)
		}
		end = start
	}
	logger.Warn("truncating torn log record", "path", f.Name(), "bytes", size)
	return f.Truncate(0)
}

// Append writes m as one line and fsyncs the file.
func (l *FileLog) Append(ctx context.Context, m ir.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ir.Encode(m)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("append: log closed")
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("append: sync: %w", err)
	}
	return nil
}

// Replay reads the file from the beginning.
func (l *FileLog) Replay(ctx context.Context, fn func(ir.Message) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	return replayRecords(ctx, f, l.logger, fn)
}

// Count returns the number of complete records.
func (l *FileLog) Count(ctx context.Context) (int, error) {
	n := 0
	err := l.Replay(ctx, func(ir.Message) error {
		n++
		return nil
	})
	return n, err
}

// Path returns the file path.
func (l *FileLog) Path() string { return l.path }

// Close closes the file. Further appends fail.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// replayRecords decodes newline-delimited records from r.
//
// A record that fails to decode is an error unless it is the last line and
// has no terminating newline, which is what a crash mid-append leaves behind.
// Blank lines are skipped.
func replayRecords(ctx context.Context, r io.Reader, logger *slog.Logger, fn func(ir.Message) error) error {
	br := bufio.NewReader(r)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("replay: line %d: %w", line, readErr)
		}
		complete := len(raw) > 0 && raw[len(raw)-1] == '\n'
		record := bytes.TrimSpace(raw)

		if len(record) > 0 {
			m, err := ir.Decode(record)
			switch {
			case err != nil && !complete:
				logger.Warn("skipping torn log record", "line", line, "bytes", len(raw))
			case err != nil:
				return fmt.Errorf("replay: line %d: %w", line, err)
			default:
				if err := fn(m); err != nil {
					return err
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}
