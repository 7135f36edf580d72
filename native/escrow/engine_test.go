package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"escrowd/core/events"
	"escrowd/core/types"
)

type mockState struct {
	kv       map[string][]byte
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		kv:       make(map[string][]byte),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (m *mockState) PutAccount(addr [20]byte, acc *types.Account) error {
	m.accounts[addr] = acc.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	if acc, ok := m.accounts[addr]; ok && acc.Balance != nil {
		return new(big.Int).Set(acc.Balance)
	}
	return big.NewInt(0)
}

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

type stubPolicy struct {
	bps       uint32
	collector [20]byte
	err       error
}

func (p *stubPolicy) FeePolicy() (uint32, [20]byte, error) {
	return p.bps, p.collector, p.err
}

type stubGate struct {
	err error
}

func (g *stubGate) EnsureActive([20]byte) error { return g.err }

type outcomeCall struct {
	user       [20]byte
	successful bool
}

type stubRecorder struct {
	known map[[20]byte]bool
	calls []outcomeCall
	err   error
}

func (r *stubRecorder) TryRecord(user [20]byte, successful bool) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.calls = append(r.calls, outcomeCall{user: user, successful: successful})
	return r.known[user], nil
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

var (
	buyerAddr     = testAddr(0x01)
	sellerAddr    = testAddr(0x02)
	arbiterAddr   = testAddr(0x03)
	outsiderAddr  = testAddr(0x04)
	collectorAddr = testAddr(0xFC)
)

func newTestEngine(st *mockState) (*Engine, *events.Recorder) {
	engine := NewEngine()
	engine.SetState(st)
	engine.SetFeePolicy(&stubPolicy{bps: 250, collector: collectorAddr})
	engine.SetArbiters(&stubGate{})
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	return engine, recorder
}

func mustCreate(t *testing.T, engine *Engine, st *mockState, amount int64) *Escrow {
	t.Helper()
	st.fund(buyerAddr, amount)
	esc, err := engine.Create(buyerAddr, sellerAddr, big.NewInt(amount))
	require.NoError(t, err)
	return esc
}

func TestCreateMovesDepositToVault(t *testing.T) {
	st := newMockState()
	engine, recorder := newTestEngine(st)
	st.fund(buyerAddr, 10_000_000_000)

	esc, err := engine.Create(buyerAddr, sellerAddr, big.NewInt(5_000_000_000))
	require.NoError(t, err)
	require.Equal(t, EscrowActive, esc.Status)
	require.Equal(t, int64(1_700_000_000), esc.CreatedAt)

	vault := VaultAddress(buyerAddr, sellerAddr)
	require.Equal(t, big.NewInt(5_000_000_000), st.balance(vault))
	require.Equal(t, big.NewInt(5_000_000_000), st.balance(buyerAddr))
	require.Equal(t, []string{EventTypeEscrowCreated}, recorder.Types())

	stored, ok, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, esc.Amount, stored.Amount)
}

func TestCreateAmountBounds(t *testing.T) {
	cases := []struct {
		name    string
		amount  *big.Int
		wantErr error
	}{
		{"below minimum", big.NewInt(9_999_999), ErrInsufficientFunds},
		{"nil amount", nil, ErrInsufficientFunds},
		{"at minimum", big.NewInt(10_000_000), nil},
		{"at maximum", big.NewInt(1_000_000_000_000), nil},
		{"above maximum", big.NewInt(1_000_000_000_001), ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMockState()
			engine, _ := newTestEngine(st)
			st.fund(buyerAddr, 2_000_000_000_000)

			_, err := engine.Create(buyerAddr, sellerAddr, tc.amount)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCreateRejectsSelfDealing(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	st.fund(buyerAddr, 1_000_000_000)

	_, err := engine.Create(buyerAddr, buyerAddr, big.NewInt(100_000_000))
	require.ErrorIs(t, err, ErrInvalidParties)
}

func TestCreateRejectsExistingPair(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 100_000_000)

	st.fund(buyerAddr, 100_000_000)
	_, err := engine.Create(buyerAddr, sellerAddr, big.NewInt(100_000_000))
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateRejectsReuseAfterCancel(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 100_000_000)
	require.NoError(t, engine.Cancel(buyerAddr, sellerAddr, buyerAddr))

	_, err := engine.Create(buyerAddr, sellerAddr, big.NewInt(100_000_000))
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateRejectsUnderfundedBuyer(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	st.fund(buyerAddr, 50_000_000)

	_, err := engine.Create(buyerAddr, sellerAddr, big.NewInt(100_000_000))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, ok, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, big.NewInt(50_000_000), st.balance(buyerAddr))
}

func TestReleaseSkimsFee(t *testing.T) {
	st := newMockState()
	engine, recorder := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{buyerAddr: true, sellerAddr: true}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 5_000_000_000)

	require.NoError(t, engine.Release(buyerAddr, sellerAddr, buyerAddr))

	// 250 bps on 5_000_000_000 is 125_000_000.
	require.Equal(t, big.NewInt(4_875_000_000), st.balance(sellerAddr))
	require.Equal(t, big.NewInt(125_000_000), st.balance(collectorAddr))
	require.Equal(t, big.NewInt(0), st.balance(VaultAddress(buyerAddr, sellerAddr)))

	esc, ok, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, EscrowCompleted, esc.Status)

	require.Equal(t, []outcomeCall{
		{user: buyerAddr, successful: true},
		{user: sellerAddr, successful: true},
	}, rec.calls)
	require.Equal(t, []string{EventTypeEscrowCreated, EventTypeEscrowReleased}, recorder.Types())
}

func TestReleaseZeroFeeKeepsCollectorUntouched(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	engine.SetFeePolicy(&stubPolicy{bps: 0, collector: collectorAddr})
	mustCreate(t, engine, st, 1_000_000_000)

	require.NoError(t, engine.Release(buyerAddr, sellerAddr, buyerAddr))
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(sellerAddr))
	require.Equal(t, big.NewInt(0), st.balance(collectorAddr))
}

func TestReleaseOnlyBuyer(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)

	require.ErrorIs(t, engine.Release(buyerAddr, sellerAddr, sellerAddr), ErrUnauthorized)
	require.ErrorIs(t, engine.Release(buyerAddr, sellerAddr, outsiderAddr), ErrUnauthorized)

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowActive, esc.Status)
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(VaultAddress(buyerAddr, sellerAddr)))
}

func TestReleaseRequiresActive(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Release(buyerAddr, sellerAddr, buyerAddr))

	require.ErrorIs(t, engine.Release(buyerAddr, sellerAddr, buyerAddr), ErrInvalidState)
}

func TestReleaseMissingEscrow(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)

	require.ErrorIs(t, engine.Release(buyerAddr, sellerAddr, buyerAddr), ErrNotFound)
}

func TestReleaseSkipsUnknownReputation(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 1_000_000_000)

	require.NoError(t, engine.Release(buyerAddr, sellerAddr, buyerAddr))
	require.Len(t, rec.calls, 2)
}

func TestCancelRefundsBuyer(t *testing.T) {
	st := newMockState()
	engine, recorder := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)

	require.NoError(t, engine.Cancel(buyerAddr, sellerAddr, buyerAddr))
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(buyerAddr))
	require.Equal(t, big.NewInt(0), st.balance(VaultAddress(buyerAddr, sellerAddr)))

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowCancelled, esc.Status)
	require.Equal(t, []string{EventTypeEscrowCreated, EventTypeEscrowCancelled}, recorder.Types())
}

func TestCancelOnlyBuyerOnActive(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)

	require.ErrorIs(t, engine.Cancel(buyerAddr, sellerAddr, sellerAddr), ErrUnauthorized)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))
	require.ErrorIs(t, engine.Cancel(buyerAddr, sellerAddr, buyerAddr), ErrInvalidState)
}

func TestDisputeByEitherParty(t *testing.T) {
	for _, caller := range [][20]byte{buyerAddr, sellerAddr} {
		st := newMockState()
		engine, _ := newTestEngine(st)
		mustCreate(t, engine, st, 1_000_000_000)

		require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, caller))
		esc, _, err := engine.Get(buyerAddr, sellerAddr)
		require.NoError(t, err)
		require.Equal(t, EscrowDisputed, esc.Status)
		// Disputing moves no funds.
		require.Equal(t, big.NewInt(1_000_000_000), st.balance(VaultAddress(buyerAddr, sellerAddr)))
	}
}

func TestDisputeRejectsOutsider(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)

	require.ErrorIs(t, engine.Dispute(buyerAddr, sellerAddr, outsiderAddr), ErrUnauthorized)
}

func TestDisputeRequiresActive(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.ErrorIs(t, engine.Dispute(buyerAddr, sellerAddr, sellerAddr), ErrInvalidState)
}

func TestRefundBuyerReturnsDeposit(t *testing.T) {
	st := newMockState()
	engine, recorder := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{buyerAddr: true, sellerAddr: true}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, sellerAddr))

	require.NoError(t, engine.RefundBuyer(buyerAddr, sellerAddr, buyerAddr))
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(buyerAddr))

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowCancelled, esc.Status)

	require.Equal(t, []outcomeCall{
		{user: buyerAddr, successful: false},
		{user: sellerAddr, successful: false},
	}, rec.calls)
	require.Equal(t, []string{
		EventTypeEscrowCreated,
		EventTypeEscrowDisputed,
		EventTypeEscrowRefunded,
	}, recorder.Types())
}

func TestRefundBuyerRequiresDispute(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)

	require.ErrorIs(t, engine.RefundBuyer(buyerAddr, sellerAddr, buyerAddr), ErrInvalidState)
}

func TestRefundBuyerOnlyBuyer(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.ErrorIs(t, engine.RefundBuyer(buyerAddr, sellerAddr, sellerAddr), ErrUnauthorized)
}

func TestResolveFavorBuyer(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{buyerAddr: true, sellerAddr: true}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 3_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.NoError(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, DecisionFavorBuyer))
	require.Equal(t, big.NewInt(3_000_000_000), st.balance(buyerAddr))
	require.Equal(t, big.NewInt(0), st.balance(sellerAddr))

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowCompleted, esc.Status)

	require.Equal(t, []outcomeCall{
		{user: buyerAddr, successful: true},
		{user: sellerAddr, successful: false},
	}, rec.calls)
}

func TestResolveFavorSeller(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{buyerAddr: true, sellerAddr: true}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 3_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.NoError(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, DecisionFavorSeller))
	require.Equal(t, big.NewInt(3_000_000_000), st.balance(sellerAddr))
	require.Equal(t, big.NewInt(0), st.balance(buyerAddr))

	require.Equal(t, []outcomeCall{
		{user: sellerAddr, successful: true},
		{user: buyerAddr, successful: false},
	}, rec.calls)
}

func TestResolveSplitOddAmount(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	rec := &stubRecorder{known: map[[20]byte]bool{buyerAddr: true, sellerAddr: true}}
	engine.SetReputation(rec)
	mustCreate(t, engine, st, 2_000_000_001)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.NoError(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, DecisionSplit))
	// The extra unit of an odd amount goes to the seller.
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(buyerAddr))
	require.Equal(t, big.NewInt(1_000_000_001), st.balance(sellerAddr))
	require.Equal(t, big.NewInt(0), st.balance(VaultAddress(buyerAddr, sellerAddr)))

	require.Equal(t, []outcomeCall{
		{user: buyerAddr, successful: false},
		{user: sellerAddr, successful: false},
	}, rec.calls)
}

func TestResolveRequiresDisputed(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	// The status guard runs before the arbiter check.
	engine.SetArbiters(&stubGate{err: errors.New("gate should not be consulted")})
	mustCreate(t, engine, st, 1_000_000_000)

	require.ErrorIs(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, DecisionSplit), ErrInvalidState)
}

func TestResolveRejectsGatedArbiter(t *testing.T) {
	gateErr := errors.New("arbiter: deactivated")
	st := newMockState()
	engine, _ := newTestEngine(st)
	engine.SetArbiters(&stubGate{err: gateErr})
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.ErrorIs(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, DecisionSplit), gateErr)

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowDisputed, esc.Status)
	require.Equal(t, big.NewInt(1_000_000_000), st.balance(VaultAddress(buyerAddr, sellerAddr)))
}

func TestResolveRejectsInvalidDecision(t *testing.T) {
	st := newMockState()
	engine, _ := newTestEngine(st)
	mustCreate(t, engine, st, 1_000_000_000)
	require.NoError(t, engine.Dispute(buyerAddr, sellerAddr, buyerAddr))

	require.ErrorIs(t, engine.Resolve(buyerAddr, sellerAddr, arbiterAddr, Decision(99)), ErrInvalidDecision)

	esc, _, err := engine.Get(buyerAddr, sellerAddr)
	require.NoError(t, err)
	require.Equal(t, EscrowDisputed, esc.Status)
}
