package client

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTarget = "ws://store.test:8080/"

func msgID(n uint64) uuid.UUID { return testutil.SequentialID(0x0a, n) }

func request(n uint64, payload ir.Payload) ir.Message {
	return ir.NewMessage(msgID(n), epoch, ir.Requested(), payload, ir.ServiceFrontend)
}

func created(entity string) ir.Payload { return ir.EntityCreated{Entity: entity} }

// harness runs one Client against an in-memory network.
type harness struct {
	t      *testing.T
	ctx    context.Context
	net    *testutil.Network
	log    store.Log
	client *Client

	mu    sync.Mutex
	waits []time.Duration
	logs  lockedBuffer

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, path string) *harness {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "replica.log")
	}
	log, err := store.OpenFile(path, nil)
	require.NoError(t, err)

	h := &harness{t: t, net: testutil.NewNetwork(), log: log}
	c, err := New(Config{
		Target: testTarget,
		Dialer: h.net,
		Log:    log,
		IDs:    testutil.NewSequentialIDs(0xcc),
		Clock:  testutil.NewFakeClock(epoch),
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.waits = append(h.waits, d)
			h.mu.Unlock()
			return ctx.Err()
		},
		Logger: slog.New(slog.NewTextHandler(&h.logs, nil)),
	})
	require.NoError(t, err)
	h.client = c
	return h
}

// start replays the log and runs the client in the background.
func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.ctx = ctx
	h.cancel = cancel
	_, err := h.client.Start(ctx)
	require.NoError(h.t, err)

	h.done = make(chan error, 1)
	go func() { h.done <- h.client.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.NoError(h.t, err, "Run should return nil on interrupt")
	case <-time.After(5 * time.Second):
		h.t.Error("Run did not return after cancel")
	}
	h.client.Close()
	h.log.Close()
}

// accept waits for the next connection and checks its handshake.
func (h *harness) accept() (*testutil.StoreConn, ir.Message) {
	h.t.Helper()
	conn, err := h.net.Accept(h.ctx)
	require.NoError(h.t, err)
	hs, err := conn.Receive(h.ctx)
	require.NoError(h.t, err)
	require.True(h.t, hs.IsHandshake(), "first frame must be the handshake")
	require.True(h.t, hs.Flow().IsRequested())
	return conn, hs
}

func (h *harness) count() int {
	h.t.Helper()
	n, err := h.log.Count(context.Background())
	require.NoError(h.t, err)
	return n
}

// lockedBuffer collects log output written from the client's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func knownIDs(m ir.Message) []uuid.UUID {
	return m.Payload.(ir.InitiatedConnection).KnownIDs
}

func TestClient_EmptyLogSendsEmptyHandshake(t *testing.T) {
	h := newHarness(t, "")
	h.start()

	_, hs := h.accept()
	conn := hs.Payload.(ir.InitiatedConnection)
	assert.Equal(t, int64(0), conn.LastMessageTime)
	assert.Empty(t, conn.KnownIDs)
	assert.Equal(t, []ir.Service{ir.ServiceReplica}, hs.Metadata.OriginChain)
	assert.Equal(t, testutil.SequentialID(0xcc, 1), hs.ID())
	assert.False(t, h.client.Tracker().SessionEstablished())
}

func TestClient_RequestIsProcessedAndSent(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	m1 := request(1, created("user-1"))
	require.NoError(t, srv.Send(h.ctx, m1))

	result, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), result.ID())
	assert.True(t, result.Flow().IsProcessed())
	assert.Equal(t, []ir.Service{ir.ServiceFrontend, ir.ServiceReplica}, result.Metadata.OriginChain)
	assert.Equal(t, m1.Payload, result.Payload)

	// Request and result are both logged before the result is sent.
	assert.Equal(t, 2, h.count())
	assert.True(t, h.client.Tracker().HasSeen(m1.ID()))
	assert.False(t, h.client.Tracker().IsPending(m1.ID()))
}

func TestClient_DuplicateRequestProcessedOnce(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	m1 := request(1, created("user-1"))
	m2 := request(2, created("user-2"))
	require.NoError(t, srv.Send(h.ctx, m1))
	require.NoError(t, srv.Send(h.ctx, m1))
	require.NoError(t, srv.Send(h.ctx, m2))

	first, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	second, err := srv.Receive(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, m1.ID(), first.ID())
	assert.Equal(t, m2.ID(), second.ID(), "the second m1 must not produce a result")
	assert.Equal(t, 4, h.count(), "m1, result(m1), m2, result(m2)")
}

func TestClient_IgnoredKindYieldsNoResult(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	removal := request(1, ir.IdentifierRemoved{Entity: "user-1", Identifier: "a@example.com", IdentifierType: "email"})
	m2 := request(2, created("user-2"))
	require.NoError(t, srv.Send(h.ctx, removal))
	require.NoError(t, srv.Send(h.ctx, m2))

	next, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m2.ID(), next.ID())

	// The removal is still logged and folded.
	assert.Equal(t, 3, h.count())
	assert.True(t, h.client.Tracker().IsPending(removal.ID()))
}

func TestClient_ForeignRequestNotProcessed(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	foreign := ir.NewMessage(msgID(1), epoch, ir.Requested(), created("x"), ir.ServiceSearch)
	m2 := request(2, created("user-2"))
	require.NoError(t, srv.Send(h.ctx, foreign))
	require.NoError(t, srv.Send(h.ctx, m2))

	next, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m2.ID(), next.ID())
}

func TestClient_HandshakeAckSetsSession(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, hs := h.accept()

	ack := hs.WithFlow(ir.Processed()).Stamped(ir.ServiceStore)
	require.NoError(t, srv.Send(h.ctx, ack))
	require.NoError(t, srv.Send(h.ctx, request(1, created("a"))))
	_, err := srv.Receive(h.ctx)
	require.NoError(t, err)

	assert.True(t, h.client.Tracker().SessionEstablished())
	assert.Equal(t, 2, h.count(), "the ack is not logged")
}

func TestClient_MalformedFrameDropped(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	require.NoError(t, srv.Write(h.ctx, []byte(`{"metadata":`)))
	m1 := request(1, created("a"))
	require.NoError(t, srv.Send(h.ctx, m1))

	result, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), result.ID())
	assert.Equal(t, 2, h.count())

	h.stop()
	logs := h.logs.String()
	assert.Contains(t, logs, "dropping malformed frame")
	assert.Contains(t, logs, "code=DECODE")
}

func TestClient_ProcessedFromStoreClearsPendingWithoutResult(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	// An identifier event is ignored by the pipeline, so only the store can
	// answer it.
	removal := request(1, ir.IdentifierRemoved{Entity: "u", Identifier: "i", IdentifierType: "email"})
	require.NoError(t, srv.Send(h.ctx, removal))
	require.NoError(t, srv.Send(h.ctx, removal.WithFlow(ir.Processed()).Stamped(ir.ServiceStore)))

	m2 := request(2, created("b"))
	require.NoError(t, srv.Send(h.ctx, m2))
	_, err := srv.Receive(h.ctx)
	require.NoError(t, err)

	assert.False(t, h.client.Tracker().IsPending(removal.ID()))
	assert.Equal(t, 4, h.count())
}

func TestClient_ReconnectSendsKnownIDs(t *testing.T) {
	h := newHarness(t, "")
	h.start()

	srv, _ := h.accept()
	m1 := request(1, created("a"))
	require.NoError(t, srv.Send(h.ctx, m1))
	_, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	srv, hs := h.accept()
	defer srv.Close()
	assert.Equal(t, []uuid.UUID{m1.ID()}, knownIDs(hs))
	assert.Equal(t, testutil.SequentialID(0xcc, 2), hs.ID(), "each connection uses a fresh handshake id")

	h.mu.Lock()
	assert.Equal(t, []time.Duration{time.Second}, h.waits)
	h.mu.Unlock()
}

func TestClient_DialFailuresBackOff(t *testing.T) {
	h := newHarness(t, "")
	h.net.FailNext(3)
	h.start()

	srv, _ := h.accept()
	defer srv.Close()

	h.mu.Lock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, h.waits)
	h.mu.Unlock()
	assert.Len(t, h.net.Dials(), 4)
	assert.Equal(t, testTarget, h.net.Dials()[0])
}

func TestClient_ResultUnsentAtDisconnectIsSentAfterHandshake(t *testing.T) {
	h := newHarness(t, "")
	h.start()

	srv, _ := h.accept()
	m1 := request(1, created("a"))
	require.NoError(t, srv.Send(h.ctx, m1))
	// Disconnect without reading the result.
	require.NoError(t, srv.Close())

	srv, hs := h.accept()
	defer srv.Close()
	assert.Contains(t, knownIDs(hs), m1.ID())

	result, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), result.ID())
	assert.True(t, result.Flow().IsProcessed())
	assert.Equal(t, 2, h.count(), "the result is logged exactly once")
}

func TestClient_RestartReDrivesUnansweredRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.log")
	m1 := request(1, created("a"))

	// A previous run logged m1 and crashed before processing it.
	prev, err := store.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, prev.Append(context.Background(), m1))
	require.NoError(t, prev.Close())

	h := newHarness(t, path)
	h.start()
	require.True(t, h.client.Tracker().IsPending(m1.ID()))

	srv, hs := h.accept()
	defer srv.Close()
	assert.Equal(t, []uuid.UUID{m1.ID()}, knownIDs(hs))

	result, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), result.ID())
	assert.True(t, result.Flow().IsProcessed())
}

func TestClient_RestartDoesNotReprocessAnsweredRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.log")
	m1 := request(1, created("a"))

	prev, err := store.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, prev.Append(context.Background(), m1))
	require.NoError(t, prev.Append(context.Background(), m1.WithFlow(ir.Processed()).Stamped(ir.ServiceReplica)))
	require.NoError(t, prev.Close())

	h := newHarness(t, path)
	h.start()
	srv, _ := h.accept()
	defer srv.Close()

	// The logged result is retransmitted first, without being logged again.
	resent, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID(), resent.ID())
	assert.True(t, resent.Flow().IsProcessed())

	// Redelivery of m1 is a duplicate; m2 is the next result.
	m2 := request(2, created("b"))
	require.NoError(t, srv.Send(h.ctx, m1))
	require.NoError(t, srv.Send(h.ctx, m2))
	result, err := srv.Receive(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, m2.ID(), result.ID())
}

func TestClient_RestartRetransmitsLoggedResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.log")
	m1 := request(1, created("a"))
	m2 := request(2, created("b"))
	r1 := m1.WithFlow(ir.Processed()).Stamped(ir.ServiceReplica)
	r2 := m2.WithFlow(ir.Processed()).Stamped(ir.ServiceReplica)

	// A previous run committed two results and crashed before sending them.
	// The store's own answer to a third request is not ours to send.
	m3 := request(3, created("c"))
	prev, err := store.OpenFile(path, nil)
	require.NoError(t, err)
	for _, m := range []ir.Message{m1, m2, r1, r2, m3, m3.WithFlow(ir.Processed()).Stamped(ir.ServiceStore)} {
		require.NoError(t, prev.Append(context.Background(), m))
	}
	require.NoError(t, prev.Close())

	h := newHarness(t, path)
	_, err = h.client.Start(context.Background())
	require.NoError(t, err)
	queued := h.client.Unsent()
	require.Len(t, queued, 2)
	assert.Equal(t, r1.ID(), queued[0].ID())
	assert.Equal(t, r2.ID(), queued[1].ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.ctx, h.cancel = ctx, cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.client.Run(ctx) }()
	t.Cleanup(h.stop)

	srv, hs := h.accept()
	defer srv.Close()
	assert.ElementsMatch(t, []uuid.UUID{m1.ID(), m2.ID(), m3.ID()}, knownIDs(hs))
	for _, want := range []ir.Message{r1, r2} {
		got, err := srv.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.ID(), got.ID())
		assert.Equal(t, want.Metadata.OriginChain, got.Metadata.OriginChain)
	}
	assert.Eventually(t, func() bool { return len(h.client.Unsent()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 6, h.count(), "retransmission does not log again")
	assert.Contains(t, h.logs.String(), "retransmitting logged results")
}

func TestClient_ErrorFlowLeavesRequestPending(t *testing.T) {
	h := newHarness(t, "")
	h.start()
	srv, _ := h.accept()

	removal := request(1, ir.IdentifierAdded{Entity: "u", Identifier: "i", IdentifierType: "email"})
	require.NoError(t, srv.Send(h.ctx, removal))
	require.NoError(t, srv.Send(h.ctx, removal.WithFlow(ir.Failed("rejected")).Stamped(ir.ServiceStore)))
	m2 := request(2, created("b"))
	require.NoError(t, srv.Send(h.ctx, m2))
	_, err := srv.Receive(h.ctx)
	require.NoError(t, err)

	assert.True(t, h.client.Tracker().IsPending(removal.ID()))
	assert.Equal(t, 4, h.count(), "the error is logged")
}

func TestClient_InterruptDuringBackoff(t *testing.T) {
	h := newHarness(t, "")
	h.net.FailNext(1000)
	h.start()
	h.stop()
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Dialer: testutil.NewNetwork(), Log: nil, Target: testTarget})
	assert.Error(t, err)
	_, err = New(Config{Log: nil, Target: testTarget})
	assert.Error(t, err)
	_, err = New(Config{Dialer: testutil.NewNetwork()})
	assert.Error(t, err)
}

func TestClient_UsesDefaults(t *testing.T) {
	log, err := store.OpenFile(filepath.Join(t.TempDir(), "x.log"), nil)
	require.NoError(t, err)
	defer log.Close()

	c, err := New(Config{Target: testTarget, Dialer: testutil.NewNetwork(), Log: log})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, ir.ServiceReplica, c.pipeline.Self())
	assert.IsType(t, engine.UUIDv7Generator{}, c.ids)
}
