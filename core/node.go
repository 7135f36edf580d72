package core

import (
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	"escrowd/native/arbiter"
	"escrowd/native/escrow"
	"escrowd/native/fees"
	"escrowd/native/reputation"
	"escrowd/storage"
)

// Node wires the native engines to a shared state manager and exposes the
// operation surface. Every operation is applied as a single atomic unit: the
// engines stage their writes in the manager, and the node commits the staged
// batch only when the whole transition succeeded. Any error discards the
// staged writes, so failed operations leave records and balances untouched.
//
// Operations are serialized through a single mutex. The status guards inside
// the engines make that sufficient: a second attempt against the same escrow
// observes the post-transition status and fails with an invalid-state error.
type Node struct {
	mu sync.Mutex

	state      *state.Manager
	escrow     *escrow.Engine
	fees       *fees.Store
	arbiters   *arbiter.Registry
	reputation *reputation.Ledger
}

// NewNode constructs a node over the provided database.
func NewNode(db storage.Database) *Node {
	manager := state.NewManager(db)

	feeStore := fees.NewStore()
	feeStore.SetState(manager)

	registry := arbiter.NewRegistry()
	registry.SetState(manager)
	registry.SetAdminView(feeStore)

	ledger := reputation.NewLedger()
	ledger.SetState(manager)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetFeePolicy(feeStore)
	engine.SetArbiters(registry)
	engine.SetReputation(ledger)

	return &Node{
		state:      manager,
		escrow:     engine,
		fees:       feeStore,
		arbiters:   registry,
		reputation: ledger,
	}
}

// SetEmitter configures the event emitter used by all engines.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.escrow.SetEmitter(emitter)
	n.fees.SetEmitter(emitter)
	n.arbiters.SetEmitter(emitter)
	n.reputation.SetEmitter(emitter)
}

// SetNowFunc overrides the time source of all engines, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.escrow.SetNowFunc(now)
	n.arbiters.SetNowFunc(now)
}

// run executes a transition and commits or discards the staged writes.
func (n *Node) run(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := fn(); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		return err
	}
	return nil
}

// InitializeConfig creates the platform config singleton. The caller becomes
// the administrator.
func (n *Node) InitializeConfig(caller [20]byte, feeBps uint32, feeCollector [20]byte) (*fees.Config, error) {
	var cfg *fees.Config
	err := n.run(func() error {
		var err error
		cfg, err = n.fees.Initialize(caller, feeBps, feeCollector)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithdrawFees moves accumulated fees from the collector to the admin.
func (n *Node) WithdrawFees(caller [20]byte, amount *big.Int) error {
	return n.run(func() error {
		return n.fees.Withdraw(caller, amount)
	})
}

// AddArbiter registers a new active arbiter. Admin only.
func (n *Node) AddArbiter(caller, arb [20]byte) (*arbiter.Record, error) {
	var record *arbiter.Record
	err := n.run(func() error {
		var err error
		record, err = n.arbiters.Add(caller, arb)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// RemoveArbiter deactivates an arbiter. Admin only.
func (n *Node) RemoveArbiter(caller, arb [20]byte) error {
	return n.run(func() error {
		return n.arbiters.Remove(caller, arb)
	})
}

// InitializeReputation creates a zeroed tally for a user. Any authenticated
// caller may do this; the tally belongs to the user, not the caller.
func (n *Node) InitializeReputation(user [20]byte) (*reputation.Reputation, error) {
	var tally *reputation.Reputation
	err := n.run(func() error {
		var err error
		tally, err = n.reputation.Initialize(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tally, nil
}

// UpdateReputation records an outcome on an existing tally. The trust model
// is deliberately permissive: any authenticated caller may record outcomes.
func (n *Node) UpdateReputation(user [20]byte, outcome reputation.Outcome) (*reputation.Reputation, error) {
	var tally *reputation.Reputation
	err := n.run(func() error {
		var err error
		tally, err = n.reputation.Record(user, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tally, nil
}

// CreateEscrow opens a new escrow funded by the caller, who becomes the
// buyer.
func (n *Node) CreateEscrow(caller, seller [20]byte, amount *big.Int) (*escrow.Escrow, error) {
	var esc *escrow.Escrow
	err := n.run(func() error {
		var err error
		esc, err = n.escrow.Create(caller, seller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// ReleaseFunds settles an active escrow to the seller, minus the platform
// fee.
func (n *Node) ReleaseFunds(buyer, seller, caller [20]byte) error {
	return n.run(func() error {
		return n.escrow.Release(buyer, seller, caller)
	})
}

// CancelEscrow returns an active escrow's deposit to the buyer.
func (n *Node) CancelEscrow(buyer, seller, caller [20]byte) error {
	return n.run(func() error {
		return n.escrow.Cancel(buyer, seller, caller)
	})
}

// RaiseDispute flags an active escrow as disputed.
func (n *Node) RaiseDispute(buyer, seller, caller [20]byte) error {
	return n.run(func() error {
		return n.escrow.Dispute(buyer, seller, caller)
	})
}

// RefundBuyer returns a disputed escrow's deposit to the buyer.
func (n *Node) RefundBuyer(buyer, seller, caller [20]byte) error {
	return n.run(func() error {
		return n.escrow.RefundBuyer(buyer, seller, caller)
	})
}

// ResolveDispute applies an arbiter's decision to a disputed escrow.
func (n *Node) ResolveDispute(buyer, seller, caller [20]byte, decision escrow.Decision) error {
	return n.run(func() error {
		return n.escrow.Resolve(buyer, seller, caller, decision)
	})
}

// --- read-only queries ---

// GetEscrow loads the escrow record for a pair.
func (n *Node) GetEscrow(buyer, seller [20]byte) (*escrow.Escrow, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Get(buyer, seller)
}

// GetConfig loads the platform config singleton.
func (n *Node) GetConfig() (*fees.Config, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fees.Config()
}

// GetArbiter loads an arbiter registry record.
func (n *Node) GetArbiter(arb [20]byte) (*arbiter.Record, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.arbiters.Get(arb)
}

// GetReputation loads a user's tally.
func (n *Node) GetReputation(user [20]byte) (*reputation.Reputation, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.Get(user)
}

// GetAccount loads a ledger balance record.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.GetAccount(addr)
}

// Credit mints balance onto an address. Only used by genesis funding and
// tests; the RPC surface does not expose it.
func (n *Node) Credit(addr [20]byte, amount *big.Int) error {
	return n.run(func() error {
		acc, err := n.state.GetAccount(addr)
		if err != nil {
			return err
		}
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		return n.state.PutAccount(addr, acc)
	})
}
