package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testID(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	id[6] = 0x40
	id[8] = 0x80
	return id
}

// sampleMessages is a small log: a request, its result and an unrelated error.
func sampleMessages() []ir.Message {
	return []ir.Message{
		ir.NewMessage(testID(1), testTime, ir.Requested(), ir.EntityCreated{Entity: "user-1"}, ir.ServiceFrontend),
		ir.NewMessage(testID(1), testTime, ir.Processed(), ir.EntityCreated{Entity: "user-1"}, ir.ServiceFrontend, ir.ServiceStore),
		ir.NewMessage(testID(2), testTime, ir.Failed("quota exceeded"), ir.EntityDeleted{Entity: "user-2"}, ir.ServiceFrontend),
	}
}

// createTestSQLite creates a new SQLite log in a temp dir.
func createTestSQLite(t *testing.T) *SQLiteLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestFile creates a new file log in a temp dir.
func createTestFile(t *testing.T) *FileLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.log")
	l, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func appendAll(t *testing.T, l Log, msgs []ir.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, l.Append(context.Background(), m))
	}
}

func collect(t *testing.T, l Log) []ir.Message {
	t.Helper()
	var out []ir.Message
	require.NoError(t, l.Replay(context.Background(), func(m ir.Message) error {
		out = append(out, m)
		return nil
	}))
	return out
}

// summary reduces messages to comparable (id, flow) pairs.
func summary(msgs []ir.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID().String() + "/" + m.Flow().String()
	}
	return out
}
