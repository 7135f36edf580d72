package fees

import (
	"errors"
	"fmt"
	"math/big"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
)

var errNilState = errors.New("fees store: state not configured")

type storeState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

func configKey() []byte {
	return state.DeriveKey("fees/config")
}

// Store persists the platform config singleton and moves accumulated fees.
type Store struct {
	state   storeState
	emitter events.Emitter
}

// NewStore constructs a fee store bound to the provided state backend.
func NewStore() *Store {
	return &Store{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the store.
func (s *Store) SetState(st storeState) { s.state = st }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Store) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

func (s *Store) emit(evt *types.Event) {
	if s == nil || s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(feeEvent{evt: evt})
}

// Initialize creates the config singleton. It fails when a config already
// exists or when the fee rate exceeds the maximum.
func (s *Store) Initialize(admin [20]byte, feeBps uint32, collector [20]byte) (*Config, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	if feeBps > MaxFeeBasisPoints {
		return nil, ErrFeeTooHigh
	}
	exists, err := s.state.KVGet(configKey(), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyInitialized
	}
	cfg := &Config{Admin: admin, FeeBasisPoints: feeBps, FeeCollector: collector}
	if err := s.state.KVPut(configKey(), newStoredConfig(cfg)); err != nil {
		return nil, err
	}
	s.emit(NewConfigInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// Config loads the singleton if present.
func (s *Store) Config() (*Config, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	var stored storedConfig
	ok, err := s.state.KVGet(configKey(), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.config(), true, nil
}

func (s *Store) requireConfig() (*Config, error) {
	cfg, ok, err := s.Config()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// FeePolicy resolves the fee rate and collector for the escrow engine.
func (s *Store) FeePolicy() (uint32, [20]byte, error) {
	cfg, err := s.requireConfig()
	if err != nil {
		return 0, [20]byte{}, err
	}
	return cfg.FeeBasisPoints, cfg.FeeCollector, nil
}

// IsAdmin reports whether the address is the stored administrator. The config
// must exist.
func (s *Store) IsAdmin(addr [20]byte) (bool, error) {
	cfg, err := s.requireConfig()
	if err != nil {
		return false, err
	}
	return cfg.IsAdmin(addr), nil
}

// Withdraw moves accumulated fees from the collector to the admin. Only the
// stored admin may withdraw, and only up to the collector's balance.
func (s *Store) Withdraw(caller [20]byte, amount *big.Int) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	cfg, err := s.requireConfig()
	if err != nil {
		return err
	}
	if !cfg.IsAdmin(caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("fees: withdrawal amount must be positive")
	}
	collectorAcc, err := s.state.GetAccount(cfg.FeeCollector)
	if err != nil {
		return err
	}
	if collectorAcc == nil || collectorAcc.Balance == nil || collectorAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	adminAcc, err := s.state.GetAccount(cfg.Admin)
	if err != nil {
		return err
	}
	if adminAcc.Balance == nil {
		adminAcc.Balance = big.NewInt(0)
	}
	collectorAcc.Balance = new(big.Int).Sub(collectorAcc.Balance, amount)
	adminAcc.Balance = new(big.Int).Add(adminAcc.Balance, amount)
	if err := s.state.PutAccount(cfg.FeeCollector, collectorAcc); err != nil {
		return err
	}
	if err := s.state.PutAccount(cfg.Admin, adminAcc); err != nil {
		return err
	}
	s.emit(NewFeesWithdrawnEvent(cfg, amount))
	return nil
}

// storedConfig is the RLP layout persisted under the config key.
type storedConfig struct {
	Admin          [20]byte
	FeeBasisPoints uint32
	FeeCollector   [20]byte
}

func newStoredConfig(c *Config) *storedConfig {
	return &storedConfig{Admin: c.Admin, FeeBasisPoints: c.FeeBasisPoints, FeeCollector: c.FeeCollector}
}

func (s *storedConfig) config() *Config {
	return &Config{Admin: s.Admin, FeeBasisPoints: s.FeeBasisPoints, FeeCollector: s.FeeCollector}
}
