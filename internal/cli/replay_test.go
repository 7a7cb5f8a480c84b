package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/store"
)

func TestReplayEmptyLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Records: 0")
	assert.Contains(t, buf.String(), "Pending: 0")
	assert.Contains(t, buf.String(), "✓ Replay verified deterministic")
}

func TestReplayWithRecords(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")
	seedLog(t, store.BackendFile, logPath, sampleLog()...)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Records: 3 (2 requested, 1 processed, 0 error)")
	assert.Contains(t, output, "Seen: 2")
	assert.Contains(t, output, "Pending: 1")
	assert.NotContains(t, output, "Skipped")
	assert.Contains(t, output, "✓ Replay verified deterministic")
}

func TestReplayVerboseListsPending(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")
	seedLog(t, store.BackendFile, logPath, sampleLog()...)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), msgID(2).String())
	assert.NotContains(t, buf.String(), msgID(1).String())
}

func TestReplayCountsSkippedDuplicates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")
	msgs := append(sampleLog(), requested(1, ir.EntityCreated{Entity: "user-1"}))
	seedLog(t, store.BackendFile, logPath, msgs...)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Skipped: 1 already-seen record(s)")
	assert.Contains(t, buf.String(), "Pending: 1")
}

func TestReplayJSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")
	seedLog(t, store.BackendFile, logPath, sampleLog()...)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, logPath, resp.Data.LogFile)
	assert.Equal(t, "file", resp.Data.Backend)
	assert.True(t, resp.Data.Deterministic)
	assert.Equal(t, 3, resp.Data.Stats.Records)
	assert.Equal(t, 1, resp.Data.Stats.Pending)
	assert.Equal(t, []string{msgID(2).String()}, resp.Data.PendingIDs)
}

func TestReplaySQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replica.db")
	seedLog(t, store.BackendSQLite, dbPath, sampleLog()...)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-backend", "sqlite", "--log-file", dbPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "(sqlite)")
	assert.Contains(t, buf.String(), "Records: 3")
}

func TestReplayBackendFromEnvironment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "replica.db")
	seedLog(t, store.BackendSQLite, dbPath, sampleLog()...)
	t.Setenv("REPLICA_LOG_BACKEND", "sqlite")
	t.Setenv("REPLICA_LOG_FILE", dbPath)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), dbPath+" (sqlite)")
}

func TestReplayInvalidBackend(t *testing.T) {
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-backend", "postgres", "--log-file", filepath.Join(t.TempDir(), "x")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCorruptLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "replica.log")
	seedLog(t, store.BackendFile, logPath, sampleLog()...)

	// Corrupt a record that is not the last one.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	corrupted := append([]byte("{not json}\n"), data...)
	require.NoError(t, os.WriteFile(logPath, corrupted, 0o644))

	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-file", logPath})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
