package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/storage"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the sender's
	// spendable balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrNoDatabase marks a manager constructed without a backend.
	ErrNoDatabase = errors.New("state: database not configured")
)

var accountPrefix = []byte("account:")

// Manager provides keyed persistent storage and the atomic transfer primitive
// consumed by the native engines. Writes are staged in memory until Commit
// flushes them through a single database batch; Discard drops everything
// staged since the last commit. An operation that fails partway therefore
// leaves no trace once its staged writes are discarded.
type Manager struct {
	db      storage.Database
	pending map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		pending: make(map[string][]byte),
	}
}

// DeriveKey computes the deterministic storage key for a namespaced record.
// Distinct (namespace, parts) tuples map to distinct keys.
func DeriveKey(namespace string, parts ...[]byte) []byte {
	buf := []byte(namespace)
	for _, part := range parts {
		buf = append(buf, ':')
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// DeriveAddress computes a deterministic 20-byte holding address from a
// namespace tag and key fields. Used for escrow vaults, which hold deposits
// without a controlling key.
func DeriveAddress(namespace string, parts ...[]byte) [20]byte {
	hash := DeriveKey(namespace, parts...)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, ErrNoDatabase
	}
	if staged, ok := m.pending[string(key)]; ok {
		return staged, true, nil
	}
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	data, err := m.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) stage(key, value []byte) error {
	if m == nil || m.db == nil {
		return ErrNoDatabase
	}
	m.pending[string(key)] = value
	return nil
}

// KVPut stages the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before hitting the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.stage(ethcrypto.Keccak256(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed, in staged writes or in the database.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(ethcrypto.Keccak256(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether a record exists under the supplied key.
func (m *Manager) KVHas(key []byte) (bool, error) {
	return m.KVGet(key, nil)
}

// GetAccount loads the balance record for an address. Unknown addresses
// resolve to a zeroed account rather than an error.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	data, ok, err := m.read(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	return &types.Account{Nonce: stored.Nonce, Balance: new(big.Int).Set(stored.Balance)}, nil
}

// PutAccount stages the balance record for an address.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := acc.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: acc.Nonce, Balance: balance})
	if err != nil {
		return err
	}
	return m.stage(accountKey(addr), encoded)
}

// Transfer moves amount from one address to another. The debit and credit are
// staged together, so either both survive the next Commit or neither does.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// Commit flushes all staged writes through one atomic database batch.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return ErrNoDatabase
	}
	if len(m.pending) == 0 {
		return nil
	}
	entries := make([]storage.Entry, 0, len(m.pending))
	for key, value := range m.pending {
		entries = append(entries, storage.Entry{Key: []byte(key), Value: value})
	}
	if err := m.db.WriteBatch(entries); err != nil {
		return err
	}
	m.pending = make(map[string][]byte)
	return nil
}

// Discard drops every write staged since the last commit.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.pending = make(map[string][]byte)
}

// Dirty reports whether uncommitted writes are staged.
func (m *Manager) Dirty() bool {
	return m != nil && len(m.pending) > 0
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}
