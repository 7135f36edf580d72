package reputation

import (
	"errors"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
)

var (
	// ErrAlreadyInitialized marks a second initialization for the same user.
	ErrAlreadyInitialized = errors.New("reputation: already initialized")
	// ErrNotInitialized marks updates against a user without a tally.
	ErrNotInitialized = errors.New("reputation: not initialized")

	errNilState = errors.New("reputation ledger: state not configured")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

func tallyKey(user [20]byte) []byte {
	return state.DeriveKey("reputation", user[:])
}

// Ledger persists per-identity trade tallies.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(st ledgerState) { l.state = st }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(reputationEvent{evt: evt})
}

// Initialize creates a zeroed tally for the user.
func (l *Ledger) Initialize(user [20]byte) (*Reputation, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	exists, err := l.state.KVGet(tallyKey(user), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyInitialized
	}
	tally := &Reputation{User: user}
	if err := l.storeTally(tally); err != nil {
		return nil, err
	}
	l.emit(NewReputationUpdatedEvent(tally))
	return tally.Clone(), nil
}

// Get loads the tally for a user, if present.
func (l *Ledger) Get(user [20]byte) (*Reputation, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilState
	}
	var stored storedReputation
	ok, err := l.state.KVGet(tallyKey(user), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.reputation(user), true, nil
}

// Record applies an outcome to the user's tally. The tally must exist.
func (l *Ledger) Record(user [20]byte, outcome Outcome) (*Reputation, error) {
	recorded, tally, err := l.record(user, outcome == OutcomeSuccessful)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return nil, ErrNotInitialized
	}
	return tally, nil
}

// TryRecord applies an outcome when the user's tally exists and reports
// whether anything was recorded. Missing tallies are skipped silently; this
// is the best-effort path the escrow engine attaches to fund transitions.
func (l *Ledger) TryRecord(user [20]byte, successful bool) (bool, error) {
	recorded, _, err := l.record(user, successful)
	return recorded, err
}

func (l *Ledger) record(user [20]byte, successful bool) (bool, *Reputation, error) {
	if l == nil || l.state == nil {
		return false, nil, errNilState
	}
	tally, ok, err := l.Get(user)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	if successful {
		tally.SuccessfulTrades = saturatingInc(tally.SuccessfulTrades)
	} else {
		tally.FailedTrades = saturatingInc(tally.FailedTrades)
	}
	if err := l.storeTally(tally); err != nil {
		return false, nil, err
	}
	l.emit(NewReputationUpdatedEvent(tally))
	return true, tally.Clone(), nil
}

func (l *Ledger) storeTally(tally *Reputation) error {
	return l.state.KVPut(tallyKey(tally.User), &storedReputation{
		SuccessfulTrades: tally.SuccessfulTrades,
		FailedTrades:     tally.FailedTrades,
	})
}

// storedReputation is the RLP layout persisted under the user key. The user
// address is part of the key and not duplicated in the value.
type storedReputation struct {
	SuccessfulTrades uint64
	FailedTrades     uint64
}

func (s *storedReputation) reputation(user [20]byte) *Reputation {
	return &Reputation{
		User:             user,
		SuccessfulTrades: s.SuccessfulTrades,
		FailedTrades:     s.FailedTrades,
	}
}
