package reconciler

import (
	"fmt"

	"conciliation-service/internal/matcher"
	"conciliation-service/internal/models"
	"conciliation-service/pkg/errors"
)

// Event is a reconciliation action applied to a bank transaction.
type Event string

const (
	EventSuggest      Event = "suggest"
	EventMarkTransfer Event = "mark_transfer"
	EventMarkNoMatch  Event = "mark_no_match"
	EventConfirm      Event = "confirm"
	EventReject       Event = "reject"
	EventUnlink       Event = "unlink"
	EventIgnore       Event = "ignore"
)

// String returns the string representation of Event
func (e Event) String() string {
	return string(e)
}

type transition struct {
	from []models.State
	to   models.State
}

var (
	classifiable = []models.State{models.StatePending, models.StateSuggested, models.StateTransfer, models.StateNoMatch}
	linked       = []models.State{models.StateSuggested, models.StateMatched}
)

// transitions is the whole lifecycle. Confirm is the exception: it is
// guarded by the conciliation flag instead of a list of states.
var transitions = map[Event]transition{
	EventSuggest:      {from: classifiable, to: models.StateSuggested},
	EventMarkTransfer: {from: classifiable, to: models.StateTransfer},
	EventMarkNoMatch:  {from: classifiable, to: models.StateNoMatch},
	EventConfirm:      {to: models.StateMatched},
	EventReject:       {from: linked, to: models.StatePending},
	EventUnlink:       {from: linked, to: models.StatePending},
	EventIgnore:       {from: classifiable, to: models.StateIgnored},
}

// Transition returns the state reached by applying event to a transaction
// in state from, or a conflict error when the guard does not hold.
func Transition(bankTransactionID string, from models.State, event Event) (models.State, error) {
	t, ok := transitions[event]
	if !ok {
		return from, errors.InvalidRequestError(errors.CodeInvalidValue, "event", event)
	}

	if event == EventConfirm {
		if from.Flag() == models.FlagReconciled {
			return from, errors.ConflictError(errors.CodeAlreadyReconciled, bankTransactionID, "")
		}
		return t.to, nil
	}

	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}

	code := errors.CodeInvalidTransition
	if from.Flag() == models.FlagReconciled && event != EventReject && event != EventUnlink {
		code = errors.CodeAlreadyReconciled
	}
	return from, errors.ConflictError(code, bankTransactionID, fmt.Sprintf("%s while %s", event, from)).
		WithContext("from", string(from)).
		WithContext("event", string(event))
}

// CanApply reports whether event is allowed from state.
func CanApply(from models.State, event Event) bool {
	_, err := Transition("", from, event)
	return err == nil
}

// EventFor maps a classification onto the event that records it.
func EventFor(kind matcher.Kind) Event {
	switch kind {
	case matcher.KindTransfer:
		return EventMarkTransfer
	case matcher.KindNoMatch:
		return EventMarkNoMatch
	default:
		return EventSuggest
	}
}
