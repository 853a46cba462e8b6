package escrow

import (
	"sync"

	"github.com/google/uuid"

	keep "github.com/trustkeep/keep"
)

// EventType names an escrow lifecycle transition.
type EventType string

const (
	EventInitialized EventType = "escrow/initialized"
	EventWithdrawn   EventType = "escrow/withdrawn"
	EventRefunded    EventType = "escrow/refunded"
	EventCancelled   EventType = "escrow/cancelled"
	EventResolved    EventType = "escrow/resolved"
)

// Event records a single state transition. One event is emitted per
// successful operation, after all state changes are applied.
type Event struct {
	ID          string        `json:"id"`
	Type        EventType     `json:"type"`
	EscrowID    []byte        `json:"escrow_id"`
	Initializer keep.Address  `json:"initializer"`
	Recipient   keep.Address  `json:"recipient"`
	Arbiter     keep.Address  `json:"arbiter"`
	Amount      int64         `json:"amount"`
	// ReleasedTo is set on resolved events only and names the party the
	// arbiter directed the funds to.
	ReleasedTo keep.Address  `json:"released_to,omitempty"`
	Time       keep.UnixTime `json:"time"`
}

// EventLog is an append-only, ordered record of all emitted events.
// Safe for concurrent use.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) emit(ev Event) {
	ev.ID = uuid.NewString()
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Events returns a copy of all events in emission order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
