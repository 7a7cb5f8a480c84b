package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/client"
	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/testutil"
)

// Default timeouts. A step that waits longer than StepTimeout for the client
// fails the scenario.
const (
	DefaultStepTimeout   = 2 * time.Second
	DefaultSettleTimeout = 2 * time.Second
)

// handshakeIDPrefix is the first byte of every handshake id the client
// generates under the harness.
const handshakeIDPrefix = 0xcc

// stepError is a scenario failure, as opposed to a harness failure.
type stepError struct {
	msg string
}

func (e *stepError) Error() string { return e.msg }

// Harness is the test execution engine.
// It runs one scenario against one client with a deterministic clock and id
// generator.
type Harness struct {
	log    store.Log
	net    *testutil.Network
	client *client.Client

	conn      *testutil.StoreConn
	handshake ir.Message

	stepTimeout   time.Duration
	settleTimeout time.Duration
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh log in a temporary directory. A non-nil
// error means the harness itself could not run; scenario failures are
// reported in the result.
//
// Execution flow:
// 1. Write the scenario's preloaded log
// 2. Start the client (replay, re-drive) and accept its first connection
// 3. Check the first handshake and execute steps
// 4. Evaluate assertions once the client has settled
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "replica-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log, err := store.OpenFile(filepath.Join(dir, "replica.log"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer log.Close()

	for i, ms := range scenario.Log {
		m, err := ms.message()
		if err != nil {
			return nil, fmt.Errorf("log[%d]: %w", i, err)
		}
		if err := log.Append(ctx, m); err != nil {
			return nil, fmt.Errorf("log[%d]: %w", i, err)
		}
	}

	pipeline := engine.DefaultPipeline()
	if scenario.Pipeline != nil {
		if pipeline, err = scenario.Pipeline.Build(); err != nil {
			return nil, fmt.Errorf("failed to build pipeline: %w", err)
		}
	}

	h := &Harness{
		log:           log,
		net:           testutil.NewNetwork(),
		stepTimeout:   DefaultStepTimeout,
		settleTimeout: DefaultSettleTimeout,
	}
	h.client, err = client.New(client.Config{
		Target:   "ws://harness.invalid/",
		Dialer:   h.net,
		Log:      log,
		Pipeline: pipeline,
		IDs:      testutil.NewSequentialIDs(handshakeIDPrefix),
		Clock:    testutil.NewFakeClock(Epoch),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer h.client.Close()

	if _, err := h.client.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start client: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.client.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
		if h.conn != nil {
			h.conn.Close()
		}
	}()

	result := NewResult()
	if err := h.execute(ctx, scenario, result); err != nil {
		return nil, err
	}

	for _, msg := range h.settle(ctx, scenario.Assertions) {
		result.AddError(msg)
	}

	snap := h.client.Tracker().Snapshot()
	result.Pending = len(snap.PendingIDs)
	result.Seen = len(snap.SeenIDs)
	if result.LogCount, err = log.Count(ctx); err != nil {
		return nil, fmt.Errorf("failed to count log: %w", err)
	}
	return result, nil
}

// execute accepts the first connection then runs every step. The first
// failing step is recorded in result and ends execution.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, result *Result) error {
	var se *stepError
	if err := h.accept(ctx, scenario.Handshake, result); err != nil {
		if errors.As(err, &se) {
			result.AddError(se.msg)
			return nil
		}
		return err
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			if errors.As(err, &se) {
				result.AddError(fmt.Sprintf("steps[%d]: %s", i, se.msg))
				return nil
			}
			return err
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, h.stepTimeout)
	defer cancel()

	switch {
	case step.Send != nil:
		m, err := step.Send.message()
		if err != nil {
			return err
		}
		return h.send(ctx, m, result)

	case step.Raw != "":
		result.AddTrace(TraceEvent{From: FromStore, Raw: step.Raw})
		if err := h.conn.Write(ctx, []byte(step.Raw)); err != nil {
			return fail("raw frame not delivered: %v", err)
		}
		return nil

	case step.Expect != nil:
		got, err := h.receive(ctx, result)
		if err != nil {
			return fail("expected message %d: %v", step.Expect.ID, err)
		}
		if diff := step.Expect.match(got); diff != "" {
			return fail("expected message %d: %s", step.Expect.ID, diff)
		}
		return nil

	case step.Ack:
		ack := h.handshake.WithFlow(ir.Processed()).Stamped(ir.ServiceStore)
		return h.send(ctx, ack, result)

	case step.Reconnect != nil:
		h.conn.Close()
		h.conn = nil
		return h.accept(ctx, step.Reconnect, result)
	}
	return fmt.Errorf("empty step")
}

// accept waits for the client's next connection and checks its handshake.
func (h *Harness) accept(ctx context.Context, want *HandshakeSpec, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, h.stepTimeout)
	defer cancel()

	conn, err := h.net.Accept(ctx)
	if err != nil {
		return fail("client did not connect: %v", err)
	}
	h.conn = conn

	hs, err := h.receive(ctx, result)
	if err != nil {
		return fail("handshake not received: %v", err)
	}
	if !hs.IsHandshake() || !hs.Flow().IsRequested() {
		return fail("first frame is %s/%s, want a requested handshake", hs.Flow(), hs.Kind())
	}
	if diff := want.match(hs); diff != "" {
		return fail("handshake: %s", diff)
	}
	h.handshake = hs
	return nil
}

func (h *Harness) send(ctx context.Context, m ir.Message, result *Result) error {
	result.AddTrace(traceEvent(FromStore, m))
	if err := h.conn.Send(ctx, m); err != nil {
		return fail("message %s not delivered: %v", m.ID(), err)
	}
	return nil
}

func (h *Harness) receive(ctx context.Context, result *Result) (ir.Message, error) {
	m, err := h.conn.Receive(ctx)
	if err != nil {
		return ir.Message{}, err
	}
	result.AddTrace(traceEvent(FromClient, m))
	return m, nil
}

func fail(format string, args ...any) error {
	return &stepError{msg: fmt.Sprintf(format, args...)}
}

// settle evaluates the assertions until they all hold or the settle timeout
// expires, and returns the failures of the last evaluation.
func (h *Harness) settle(ctx context.Context, assertions []Assertion) []string {
	actx := &AssertionContext{Ctx: ctx, Log: h.log, Tracker: h.client.Tracker()}
	deadline := time.Now().Add(h.settleTimeout)
	for {
		failures := EvaluateAssertions(assertions, actx)
		if len(failures) == 0 || time.Now().After(deadline) || ctx.Err() != nil {
			return failures
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func traceEvent(from string, m ir.Message) TraceEvent {
	ev := TraceEvent{
		From:   from,
		ID:     m.ID().String(),
		Flow:   m.Flow().String(),
		Kind:   string(m.Kind()),
		Origin: origins(m),
	}
	if conn, ok := m.Payload.(ir.InitiatedConnection); ok {
		ev.KnownIDs = idStrings(conn.KnownIDs)
	}
	return ev
}

func idStrings(ids []uuid.UUID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
