package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/metrics"
	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/transport"
)

// Config wires a Client to its collaborators. Target, Dialer and Log are
// required; everything else has a default.
type Config struct {
	Target string
	Dialer transport.Dialer
	Log    store.Log

	// Pipeline decides what the worker answers. Default: engine.DefaultPipeline.
	Pipeline *engine.Pipeline

	// IDs generates handshake ids. Default: engine.UUIDv7Generator.
	IDs engine.IDGenerator

	// Clock drives backoff and handshake timestamps. Default: engine.SystemClock.
	Clock engine.Clock

	// Sleep waits between attempts. It returns early with ctx.Err() when ctx
	// is done. Default: a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client is one synchronizing endpoint.
type Client struct {
	target   string
	dialer   transport.Dialer
	log      store.Log
	pipeline *engine.Pipeline
	ids      engine.IDGenerator
	clock    engine.Clock
	sleep    func(context.Context, time.Duration) error
	metrics  *metrics.Metrics
	logger   *slog.Logger

	tracker   *engine.Tracker
	broadcast *engine.Broadcast
	work      *engine.Subscription
	backoff   *Backoff

	// unsent holds logged results that may not have reached the store, in
	// commit order.
	unsentMu sync.Mutex
	unsent   []ir.Message
}

// New validates cfg and builds a Client with empty state. Call Start before
// Run to restore state from the log.
func New(cfg Config) (*Client, error) {
	if cfg.Target == "" {
		return nil, errors.New("client: target is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("client: dialer is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("client: log is required")
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = engine.DefaultPipeline()
	}
	if cfg.IDs == nil {
		cfg.IDs = engine.UUIDv7Generator{}
	}
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	b := engine.NewBroadcast()
	return &Client{
		target:    cfg.Target,
		dialer:    cfg.Dialer,
		log:       cfg.Log,
		pipeline:  cfg.Pipeline,
		ids:       cfg.IDs,
		clock:     cfg.Clock,
		sleep:     cfg.Sleep,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tracker:   engine.NewTracker(),
		broadcast: b,
		work:      b.Subscribe(),
		backoff:   NewBackoff(cfg.Clock.Now()),
	}, nil
}

// Tracker exposes the shared state for inspection.
func (c *Client) Tracker() *engine.Tracker { return c.tracker }

// Start replays the log into the tracker and queues every pending request
// that still needs an answer for the worker.
//
// Results this service logged are queued for the first session too: the log
// does not record whether a result was transmitted before the process
// stopped, and the store drops results it already holds.
func (c *Client) Start(ctx context.Context) (engine.ReplayStats, error) {
	var produced []ir.Message
	reader := tapReader{log: c.log, tap: func(m ir.Message) {
		if c.pipeline.Produced(m) {
			produced = append(produced, m)
		}
	}}
	stats, err := engine.Replay(ctx, reader, c.tracker)
	if err != nil {
		return stats, fmt.Errorf("client: start: %w", err)
	}
	if len(produced) > 0 {
		c.unsentMu.Lock()
		c.unsent = append(produced, c.unsent...)
		c.metrics.SetUnsent(len(c.unsent))
		c.unsentMu.Unlock()
		c.logger.Info("retransmitting logged results", "count", len(produced))
	}
	c.logger.Info("log replayed",
		"records", stats.Records,
		"pending", stats.Pending,
		"seen", stats.Seen,
	)

	recovered := engine.Recoverable(c.tracker, c.pipeline)
	for _, m := range recovered {
		c.work.Requeue(m)
	}
	if len(recovered) > 0 {
		c.logger.Info("re-driving unanswered requests", "count", len(recovered))
	}
	c.metrics.SetPending(c.tracker.PendingCount())
	return stats, nil
}

// Run connects, synchronizes and reconnects until ctx is cancelled. It
// returns nil on cancellation and never returns otherwise.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.connect(ctx)
		if ctx.Err() != nil {
			c.logger.Info("interrupted, stopping")
			return nil
		}

		wait := c.backoff.Failure(c.clock.Now())
		c.metrics.Disconnected(wait)
		c.metrics.SetSessionEstablished(false)
		if engine.IsConnectionError(err) {
			c.logger.Warn("connection lost, retrying",
				"target", c.target,
				"wait", wait,
				"error", err,
			)
		} else {
			c.logger.Error("session failed, retrying",
				"target", c.target,
				"wait", wait,
				"error", err,
			)
		}
		if err := c.sleep(ctx, wait); err != nil {
			c.logger.Info("interrupted, stopping")
			return nil
		}
	}
}

// Close detaches the worker's subscription. Call it after Run has returned.
func (c *Client) Close() {
	c.work.Close()
}

// connect runs one connection attempt to completion. It always returns a
// non-nil error unless ctx was cancelled.
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting", "target", c.target)
	conn, err := c.dialer.Dial(ctx, c.target)
	if err != nil {
		return engine.NewSyncError(engine.ErrCodeConnection, "dial", uuid.Nil, err)
	}
	defer conn.Close()

	c.backoff.Connected(c.clock.Now())
	c.tracker.BeginSession()
	c.metrics.Connected()
	c.logger.Info("connected", "target", c.target)

	return c.runSession(ctx, conn)
}

func (c *Client) addUnsent(m ir.Message) {
	c.unsentMu.Lock()
	defer c.unsentMu.Unlock()
	c.unsent = append(c.unsent, m)
	c.metrics.SetUnsent(len(c.unsent))
}

// Unsent returns the results waiting for a connection.
func (c *Client) Unsent() []ir.Message {
	c.unsentMu.Lock()
	defer c.unsentMu.Unlock()
	return append([]ir.Message(nil), c.unsent...)
}

// tapReader passes every replayed record to tap before the fold sees it.
type tapReader struct {
	log engine.LogReader
	tap func(ir.Message)
}

func (r tapReader) Replay(ctx context.Context, fn func(ir.Message) error) error {
	return r.log.Replay(ctx, func(m ir.Message) error {
		r.tap(m)
		return fn(m)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
