package afya

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core/types"
)

// Origin says who authored a turn.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// TurnStatus is the lifecycle position of a turn in the ledger.
type TurnStatus string

const (
	TurnSending TurnStatus = "sending"
	TurnSent    TurnStatus = "sent"
	TurnError   TurnStatus = "error"
	// TurnPendingBackground marks a video turn whose job outlived the
	// polling budget: not an error, still working server-side.
	TurnPendingBackground TurnStatus = "pending-background"
)

// Turn is one conversation entry. User turns are created at submission
// time; assistant turns are appended when a response resolves and are
// never derived by mutating a user turn.
type Turn struct {
	ID        string
	Kind      types.Kind
	Origin    Origin
	Body      string
	Media     *types.MediaRef
	Status    TurnStatus
	Failure   *core.Error
	Retry     func() // bound to the exact original input; nil unless Status is error
	Warning   string // set when the content filter masked part of the body
	JobID     string // set for asynchronous video turns
	Progress  int    // 0-100 estimate while a video job polls
	CreatedAt time.Time
}

// LedgerEventType distinguishes appends from in-place status updates.
type LedgerEventType string

const (
	LedgerAppended LedgerEventType = "appended"
	LedgerUpdated  LedgerEventType = "updated"
)

// LedgerEvent is delivered to subscribers on every ledger change.
type LedgerEvent struct {
	Type LedgerEventType
	Turn Turn
}

// Ledger is the ordered, append-only log of conversation turns. Appends
// happen strictly in submission-acceptance order; terminal updates may
// land out of order and are keyed by turn ID.
type Ledger struct {
	mu      sync.Mutex
	turns   []Turn
	index   map[string]int
	subs    map[int]func(LedgerEvent)
	nextSub int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index: make(map[string]int),
		subs:  make(map[int]func(LedgerEvent)),
	}
}

// NewTurnID returns a time-ordered unique turn identifier.
func NewTurnID() string {
	return ulid.Make().String()
}

// Append adds a turn to the ledger and notifies subscribers.
func (l *Ledger) Append(turn Turn) Turn {
	l.mu.Lock()
	if turn.ID == "" {
		turn.ID = NewTurnID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	l.index[turn.ID] = len(l.turns)
	l.turns = append(l.turns, turn)
	l.notifyLocked(LedgerEvent{Type: LedgerAppended, Turn: turn})
	l.mu.Unlock()
	return turn
}

// Update mutates the turn with the given ID in place and notifies
// subscribers. It reports whether the turn exists.
func (l *Ledger) Update(id string, mutate func(*Turn)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return false
	}
	mutate(&l.turns[i])
	l.notifyLocked(LedgerEvent{Type: LedgerUpdated, Turn: l.turns[i]})
	return true
}

// Get returns a copy of the turn with the given ID.
func (l *Ledger) Get(id string) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return Turn{}, false
	}
	return l.turns[i], true
}

// Turns returns a copy of the full ledger in append order.
func (l *Ledger) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Subscribe registers a listener for ledger changes and returns an
// unsubscribe function. Listeners run synchronously in change order and
// must not call back into the ledger.
func (l *Ledger) Subscribe(fn func(LedgerEvent)) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Ledger) notifyLocked(ev LedgerEvent) {
	for _, fn := range l.subs {
		fn(ev)
	}
}
