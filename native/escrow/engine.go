package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
)

var (
	errNilPolicy   = errors.New("escrow engine: fee policy not configured")
	errNilArbiters = errors.New("escrow engine: arbiter gate not configured")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// FeePolicy resolves the platform fee applied when an escrow releases. The
// returned rate is in basis points; the collector address receives the fee.
type FeePolicy interface {
	FeePolicy() (feeBps uint32, collector [20]byte, err error)
}

// ArbiterGate authorises dispute resolution. EnsureActive returns nil only
// for a registered, active arbiter.
type ArbiterGate interface {
	EnsureActive(arbiter [20]byte) error
}

// ReputationRecorder applies best-effort reputation side effects. TryRecord
// reports whether the user's tally existed; a missing tally is not an error
// and must not fail the funding transition it is attached to.
type ReputationRecorder interface {
	TryRecord(user [20]byte, successful bool) (bool, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine governs the escrow lifecycle: creation, release, cancellation,
// disputes and arbiter resolution. Every exported method is a single
// transition; the caller commits or discards the staged state afterwards, so
// a failed transition leaves no side effects.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	policy     FeePolicy
	arbiters   ArbiterGate
	reputation ReputationRecorder
	nowFn      func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeePolicy configures the fee source consulted on release.
func (e *Engine) SetFeePolicy(policy FeePolicy) { e.policy = policy }

// SetArbiters configures the gate that authorises dispute resolution.
func (e *Engine) SetArbiters(gate ArbiterGate) { e.arbiters = gate }

// SetReputation configures the optional reputation recorder. A nil recorder
// disables reputation side effects entirely.
func (e *Engine) SetReputation(rec ReputationRecorder) { e.reputation = rec }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) recordOutcome(user [20]byte, successful bool) error {
	if e == nil || e.reputation == nil {
		return nil
	}
	_, err := e.reputation.TryRecord(user, successful)
	return err
}

// Create validates and persists a new escrow for the (buyer, seller) pair and
// moves the deposit from the buyer into the pair's vault address.
func (e *Engine) Create(buyer, seller [20]byte, amount *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if amount == nil || amount.Cmp(MinEscrowAmount) < 0 {
		return nil, ErrInsufficientFunds
	}
	if amount.Cmp(MaxEscrowAmount) > 0 {
		return nil, ErrInvalidAmount
	}
	if buyer == seller {
		return nil, ErrInvalidParties
	}
	exists, err := e.state.KVGet(StorageKey(buyer, seller), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyExists
	}
	if err := e.transfer(buyer, VaultAddress(buyer, seller), amount); err != nil {
		return nil, err
	}
	esc := &Escrow{
		Buyer:     buyer,
		Seller:    seller,
		Amount:    new(big.Int).Set(amount),
		Status:    EscrowActive,
		CreatedAt: e.now(),
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Release settles an active escrow in favour of the seller. Only the buyer
// may release. The platform fee is skimmed to the configured collector and
// both parties optionally gain a successful trade.
func (e *Engine) Release(buyer, seller, caller [20]byte) error {
	esc, err := e.loadEscrow(buyer, seller)
	if err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	if e.policy == nil {
		return errNilPolicy
	}
	feeBps, collector, err := e.policy.FeePolicy()
	if err != nil {
		return err
	}
	total := esc.Amount
	fee := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	payout := new(big.Int).Sub(total, fee)
	vault := VaultAddress(buyer, seller)
	if err := e.transfer(vault, esc.Seller, payout); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := e.transfer(vault, collector, fee); err != nil {
			return err
		}
	}
	esc.Status = EscrowCompleted
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.recordOutcome(esc.Buyer, true); err != nil {
		return err
	}
	if err := e.recordOutcome(esc.Seller, true); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc, fee))
	return nil
}

// Cancel returns the full deposit to the buyer of an active escrow. Only the
// buyer may cancel.
func (e *Engine) Cancel(buyer, seller, caller [20]byte) error {
	esc, err := e.loadEscrow(buyer, seller)
	if err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	if err := e.transfer(VaultAddress(buyer, seller), esc.Buyer, esc.Amount); err != nil {
		return err
	}
	esc.Status = EscrowCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Dispute flags an active escrow as disputed. Either party may raise the
// dispute; no funds move.
func (e *Engine) Dispute(buyer, seller, caller [20]byte) error {
	esc, err := e.loadEscrow(buyer, seller)
	if err != nil {
		return err
	}
	if esc.Status != EscrowActive {
		return ErrInvalidState
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return ErrUnauthorized
	}
	esc.Status = EscrowDisputed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc, caller))
	return nil
}

// RefundBuyer returns the full deposit to the buyer of a disputed escrow.
// Only the buyer may trigger it; both parties optionally take a failed trade.
func (e *Engine) RefundBuyer(buyer, seller, caller [20]byte) error {
	esc, err := e.loadEscrow(buyer, seller)
	if err != nil {
		return err
	}
	if esc.Status != EscrowDisputed {
		return ErrInvalidState
	}
	if caller != esc.Buyer {
		return ErrUnauthorized
	}
	if err := e.transfer(VaultAddress(buyer, seller), esc.Buyer, esc.Amount); err != nil {
		return err
	}
	esc.Status = EscrowCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if err := e.recordOutcome(esc.Buyer, false); err != nil {
		return err
	}
	if err := e.recordOutcome(esc.Seller, false); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

// Resolve settles a disputed escrow according to the arbiter's decision. The
// arbiter must be registered and active. All decisions end the escrow in
// Completed.
func (e *Engine) Resolve(buyer, seller, arbiter [20]byte, decision Decision) error {
	esc, err := e.loadEscrow(buyer, seller)
	if err != nil {
		return err
	}
	if esc.Status != EscrowDisputed {
		return ErrInvalidState
	}
	if e.arbiters == nil {
		return errNilArbiters
	}
	if err := e.arbiters.EnsureActive(arbiter); err != nil {
		return err
	}
	vault := VaultAddress(buyer, seller)
	switch decision {
	case DecisionFavorBuyer:
		if err := e.transfer(vault, esc.Buyer, esc.Amount); err != nil {
			return err
		}
	case DecisionFavorSeller:
		if err := e.transfer(vault, esc.Seller, esc.Amount); err != nil {
			return err
		}
	case DecisionSplit:
		// Buyer gets the floored half, seller the remainder. On odd amounts
		// the extra unit goes to the seller.
		half := new(big.Int).Div(esc.Amount, big.NewInt(2))
		remainder := new(big.Int).Sub(esc.Amount, half)
		if err := e.transfer(vault, esc.Buyer, half); err != nil {
			return err
		}
		if err := e.transfer(vault, esc.Seller, remainder); err != nil {
			return err
		}
	default:
		return ErrInvalidDecision
	}
	esc.Status = EscrowCompleted
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	switch decision {
	case DecisionFavorBuyer:
		if err := e.recordOutcome(esc.Buyer, true); err != nil {
			return err
		}
		if err := e.recordOutcome(esc.Seller, false); err != nil {
			return err
		}
	case DecisionFavorSeller:
		if err := e.recordOutcome(esc.Seller, true); err != nil {
			return err
		}
		if err := e.recordOutcome(esc.Buyer, false); err != nil {
			return err
		}
	case DecisionSplit:
		// A split carries no fault apportionment but still counts as a failed
		// trade for both parties.
		if err := e.recordOutcome(esc.Buyer, false); err != nil {
			return err
		}
		if err := e.recordOutcome(esc.Seller, false); err != nil {
			return err
		}
	}
	e.emit(NewResolvedEvent(esc, arbiter, decision))
	return nil
}

// Get loads the escrow record for the pair, if present.
func (e *Engine) Get(buyer, seller [20]byte) (*Escrow, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	var stored storedEscrow
	ok, err := e.state.KVGet(StorageKey(buyer, seller), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.escrow(), true, nil
}

func (e *Engine) loadEscrow(buyer, seller [20]byte) (*Escrow, error) {
	esc, ok, err := e.Get(buyer, seller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	return e.state.KVPut(StorageKey(sanitized.Buyer, sanitized.Seller), newStoredEscrow(sanitized))
}
