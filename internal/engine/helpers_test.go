package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

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

func requested(n byte, payload ir.Payload, origin ...ir.Service) ir.Message {
	if len(origin) == 0 {
		origin = []ir.Service{ir.ServiceFrontend}
	}
	return ir.NewMessage(testID(n), testTime, ir.Requested(), payload, origin...)
}

func processed(n byte, payload ir.Payload, origin ...ir.Service) ir.Message {
	if len(origin) == 0 {
		origin = []ir.Service{ir.ServiceFrontend, ir.ServiceStore}
	}
	return ir.NewMessage(testID(n), testTime, ir.Processed(), payload, origin...)
}

func failed(n byte, reason string) ir.Message {
	return ir.NewMessage(testID(n), testTime, ir.Failed(reason), ir.EntityDeleted{Entity: "e"}, ir.ServiceFrontend, ir.ServiceStore)
}

func generic(entity string) ir.Payload {
	return ir.EntityCreated{Entity: entity}
}

// sliceLog is an in-memory LogReader.
type sliceLog []ir.Message

func (l sliceLog) Replay(ctx context.Context, fn func(ir.Message) error) error {
	for _, m := range l {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
