package harness

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// AssertionContext provides the state assertions inspect.
type AssertionContext struct {
	Ctx     context.Context
	Log     store.Log
	Tracker *engine.Tracker
}

// EvaluateAssertions evaluates all assertions against the context.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertLogCount:
			err = assertLogCount(actx, assertion)
		case AssertPending:
			err = assertPending(actx, assertion)
		case AssertSeen:
			err = assertSeen(actx, assertion)
		case AssertSessionEstablished:
			err = assertSessionEstablished(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertLogCount(actx *AssertionContext, a Assertion) error {
	if actx.Log == nil {
		return fmt.Errorf("log_count requires a log")
	}
	n, err := actx.Log.Count(actx.Ctx)
	if err != nil {
		return fmt.Errorf("log_count: %w", err)
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

func assertPending(actx *AssertionContext, a Assertion) error {
	if actx.Tracker == nil {
		return fmt.Errorf("pending requires a tracker")
	}
	got := actx.Tracker.Snapshot().PendingIDs
	want := messageIDs(a.IDs)
	if !equalIDSets(got, want) {
		return &AssertionError{
			Type:     AssertPending,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertSeen(actx *AssertionContext, a Assertion) error {
	if actx.Tracker == nil {
		return fmt.Errorf("seen requires a tracker")
	}
	var missing []uuid.UUID
	for _, id := range messageIDs(a.IDs) {
		if !actx.Tracker.HasSeen(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &AssertionError{
			Type:     AssertSeen,
			Expected: fmt.Sprintf("%v seen", messageIDs(a.IDs)),
			Actual:   fmt.Sprintf("%v missing", missing),
		}
	}
	return nil
}

func assertSessionEstablished(actx *AssertionContext, a Assertion) error {
	if actx.Tracker == nil {
		return fmt.Errorf("session_established requires a tracker")
	}
	if got := actx.Tracker.SessionEstablished(); got != a.Established {
		return &AssertionError{
			Type:     AssertSessionEstablished,
			Expected: fmt.Sprintf("%t", a.Established),
			Actual:   fmt.Sprintf("%t", got),
		}
	}
	return nil
}

func messageIDs(ns []uint64) []uuid.UUID {
	ids := make([]uuid.UUID, len(ns))
	for i, n := range ns {
		ids[i] = MessageID(n)
	}
	return ids
}
