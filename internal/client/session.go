package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/transport"
)

// runSession sends the handshake, flushes unsent results and then runs the
// receive and worker tasks until either fails.
func (c *Client) runSession(ctx context.Context, conn transport.Conn) error {
	hs := ir.NewHandshake(c.ids.NewID(), c.clock.Now(), c.pipeline.Self(), c.tracker.KnownIDs())
	if err := c.send(ctx, conn, hs); err != nil {
		return engine.NewSyncError(engine.ErrCodeConnection, "handshake", hs.ID(), err)
	}
	c.logger.Debug("handshake sent", "id", hs.ID(), "known_ids", len(hs.Payload.(ir.InitiatedConnection).KnownIDs))

	if err := c.flushUnsent(ctx, conn); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receive(gctx, conn) })
	g.Go(func() error { return c.process(gctx, conn) })
	return g.Wait()
}

// receive is the socket receive task.
func (c *Client) receive(ctx context.Context, conn transport.Conn) error {
	persist := c.persister(ctx)
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return engine.NewSyncError(engine.ErrCodeConnection, "receive", uuid.Nil, err)
		}
		c.metrics.FrameReceived()

		m, err := ir.Decode(frame)
		if err != nil {
			c.metrics.DecodeError()
			derr := engine.NewSyncError(engine.ErrCodeDecode, "decode", uuid.Nil, err)
			c.logger.Warn("dropping malformed frame", "bytes", len(frame), "code", derr.Code, "error", derr)
			continue
		}

		outcome, err := c.tracker.Admit(m, persist)
		if err != nil {
			return engine.NewSyncError(engine.ErrCodePersist, "append", m.ID(), err)
		}
		c.metrics.Admission(outcome.String())

		switch outcome {
		case engine.HandshakeAck:
			c.metrics.SetSessionEstablished(true)
			c.logger.Info("session established", "id", m.ID())
		case engine.Ignored:
			c.logger.Debug("ignoring inbound handshake", "id", m.ID(), "flow", m.Flow())
		case engine.Duplicate:
			c.logger.Debug("dropping duplicate", "id", m.ID(), "flow", m.Flow(), "kind", m.Kind())
		case engine.Admitted:
			c.broadcast.Publish(m)
			c.metrics.Forwarded()
			c.metrics.SetPending(c.tracker.PendingCount())
			c.logger.Info("message received", "id", m.ID(), "flow", m.Flow(), "kind", m.Kind())
		}
	}
}

// process is the worker task.
func (c *Client) process(ctx context.Context, conn transport.Conn) error {
	persist := c.persister(ctx)
	for {
		m, err := c.work.Next(ctx)
		if err != nil {
			return err
		}
		if !c.pipeline.Eligible(m) {
			continue
		}
		if !c.tracker.IsPending(m.ID()) {
			c.logger.Debug("request already answered", "id", m.ID())
			continue
		}

		results := c.pipeline.Process(m)
		if len(results) == 0 {
			c.logger.Debug("no result for request", "id", m.ID(), "kind", m.Kind())
			continue
		}

		for _, result := range results {
			outcome, err := c.tracker.Commit(result, persist)
			if err != nil {
				// Not committed, so the request is still pending. Queue it
				// again for the next session.
				c.work.Requeue(m)
				return engine.NewSyncError(engine.ErrCodePersist, "append", result.ID(), err)
			}
			if outcome != engine.Admitted {
				c.logger.Debug("dropping duplicate result", "id", result.ID(), "outcome", outcome)
				continue
			}
			c.metrics.SetPending(c.tracker.PendingCount())

			if err := c.send(ctx, conn, result); err != nil {
				c.addUnsent(result)
				return engine.NewSyncError(engine.ErrCodeTransmit, "send", result.ID(), err)
			}
			c.metrics.ResultSent()
			c.logger.Info("result sent", "id", result.ID(), "kind", result.Kind())
		}
	}
}

// flushUnsent transmits results left over from earlier sessions, oldest
// first. On failure the rest stay queued.
func (c *Client) flushUnsent(ctx context.Context, conn transport.Conn) error {
	c.unsentMu.Lock()
	defer c.unsentMu.Unlock()

	for len(c.unsent) > 0 {
		m := c.unsent[0]
		if err := c.send(ctx, conn, m); err != nil {
			return engine.NewSyncError(engine.ErrCodeTransmit, "flush", m.ID(), err)
		}
		c.unsent = c.unsent[1:]
		c.metrics.SetUnsent(len(c.unsent))
		c.metrics.ResultSent()
		c.logger.Info("result sent", "id", m.ID(), "kind", m.Kind(), "retry", true)
	}
	c.unsent = nil
	c.metrics.SetUnsent(0)
	return nil
}

func (c *Client) send(ctx context.Context, conn transport.Conn, m ir.Message) error {
	frame, err := ir.Encode(m)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return conn.Write(ctx, frame)
}

func (c *Client) persister(ctx context.Context) engine.PersistFunc {
	return func(m ir.Message) error {
		return c.log.Append(ctx, m)
	}
}
