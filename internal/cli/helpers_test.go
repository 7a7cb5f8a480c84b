package cli

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/testutil"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msgID(n uint64) uuid.UUID {
	return testutil.SequentialID(0x0b, n)
}

func requested(n uint64, payload ir.Payload) ir.Message {
	return ir.NewMessage(msgID(n), testEpoch, ir.Requested(), payload, ir.ServiceFrontend)
}

func processed(n uint64, payload ir.Payload) ir.Message {
	return ir.NewMessage(msgID(n), testEpoch, ir.Processed(), payload, ir.ServiceFrontend, ir.ServiceReplica)
}

// seedLog writes msgs to a fresh log at path and closes it.
func seedLog(t *testing.T, backend store.Backend, path string, msgs ...ir.Message) {
	t.Helper()
	log, err := store.Open(backend, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, log.Append(context.Background(), m))
	}
	require.NoError(t, log.Close())
}

// sampleLog is one answered request followed by one still pending.
func sampleLog() []ir.Message {
	return []ir.Message{
		requested(1, ir.EntityCreated{Entity: "user-1"}),
		processed(1, ir.EntityCreated{Entity: "user-1"}),
		requested(2, ir.EntityDeleted{Entity: "user-2"}),
	}
}
