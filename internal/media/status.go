package media

import (
	"fmt"
	"time"
)

// Legal forward transitions. Terminal states map to nothing: once a record
// is complete or failed it never moves again.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing, StatusComplete, StatusFailed},
	StatusProcessing: {StatusComplete, StatusFailed},
	StatusComplete:   {},
	StatusFailed:     {},
}

func CanTransition(from, to ProcessingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition advances a record's status in place. A failed transition
// requires a reason; completing requires a bound content hash. The caller
// is responsible for confirming the stored file exists before committing a
// transition to complete.
func Transition(m *Media, to ProcessingStatus, reason string) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.Status, to)
	}

	switch to {
	case StatusFailed:
		if reason == "" {
			return fmt.Errorf("%w: failed status requires a reason", ErrIllegalTransition)
		}
		m.ErrorMessage = reason
	case StatusComplete:
		if m.ContentHash == nil {
			return fmt.Errorf("%w: cannot complete without a content hash", ErrIllegalTransition)
		}
		now := time.Now().UTC()
		m.CompletedAt = &now
	}

	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	return nil
}
