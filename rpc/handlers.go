package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"escrowd/core/types"
	"escrowd/native/arbiter"
	"escrowd/native/escrow"
	"escrowd/native/fees"
	"escrowd/native/reputation"
)

var errBadParams = errors.New("invalid params")

func decodeParams(params []json.RawMessage, dst interface{}) error {
	if len(params) != 1 {
		return fmt.Errorf("%w: expected a single params object", errBadParams)
	}
	if err := json.Unmarshal(params[0], dst); err != nil {
		return fmt.Errorf("%w: %s", errBadParams, err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("%w: address %q is not hex", errBadParams, value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("%w: address must be %d bytes", errBadParams, len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not a base-10 integer", errBadParams, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", errBadParams)
	}
	return amount, nil
}

// --- result views ---

type escrowView struct {
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func newEscrowView(e *escrow.Escrow) escrowView {
	return escrowView{
		Buyer:     formatAddress(e.Buyer),
		Seller:    formatAddress(e.Seller),
		Amount:    e.Amount.String(),
		Status:    e.Status.String(),
		CreatedAt: e.CreatedAt,
	}
}

type configView struct {
	Admin          string `json:"admin"`
	FeeBasisPoints uint32 `json:"feeBasisPoints"`
	FeeCollector   string `json:"feeCollector"`
}

func newConfigView(cfg *fees.Config) configView {
	return configView{
		Admin:          formatAddress(cfg.Admin),
		FeeBasisPoints: cfg.FeeBasisPoints,
		FeeCollector:   formatAddress(cfg.FeeCollector),
	}
}

type arbiterView struct {
	Arbiter string `json:"arbiter"`
	AddedBy string `json:"addedBy"`
	AddedAt int64  `json:"addedAt"`
	Active  bool   `json:"active"`
}

func newArbiterView(rec *arbiter.Record) arbiterView {
	return arbiterView{
		Arbiter: formatAddress(rec.Arbiter),
		AddedBy: formatAddress(rec.AddedBy),
		AddedAt: rec.AddedAt,
		Active:  rec.Active,
	}
}

type reputationView struct {
	User             string  `json:"user"`
	SuccessfulTrades uint64  `json:"successfulTrades"`
	FailedTrades     uint64  `json:"failedTrades"`
	TotalTrades      uint64  `json:"totalTrades"`
	SuccessRate      float64 `json:"successRate"`
}

func newReputationView(r *reputation.Reputation) reputationView {
	return reputationView{
		User:             formatAddress(r.User),
		SuccessfulTrades: r.SuccessfulTrades,
		FailedTrades:     r.FailedTrades,
		TotalTrades:      r.TotalTrades(),
		SuccessRate:      r.SuccessRate(),
	}
}

type accountView struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
	Balance string `json:"balance"`
}

func newAccountView(addr [20]byte, acc *types.Account) accountView {
	return accountView{
		Address: formatAddress(addr),
		Nonce:   acc.Nonce,
		Balance: acc.Balance.String(),
	}
}

type txResult struct {
	Applied bool `json:"applied"`
}

// --- config and fees ---

type configInitializeParams struct {
	FeeBasisPoints uint32 `json:"feeBasisPoints"`
	FeeCollector   string `json:"feeCollector"`
}

func (s *Server) handleConfigInitialize(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p configInitializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	collector, err := parseAddress(p.FeeCollector)
	if err != nil {
		return nil, err
	}
	cfg, err := s.node.InitializeConfig(caller, p.FeeBasisPoints, collector)
	if err != nil {
		return nil, err
	}
	return newConfigView(cfg), nil
}

func (s *Server) handleConfigGet(_ [20]byte, _ []json.RawMessage) (interface{}, error) {
	cfg, ok, err := s.node.GetConfig()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fees.ErrNotInitialized
	}
	return newConfigView(cfg), nil
}

type feesWithdrawParams struct {
	Amount string `json:"amount"`
}

func (s *Server) handleFeesWithdraw(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p feesWithdrawParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.node.WithdrawFees(caller, amount); err != nil {
		return nil, err
	}
	return txResult{Applied: true}, nil
}

// --- arbiters ---

type arbiterParams struct {
	Arbiter string `json:"arbiter"`
}

func (s *Server) handleArbiterAdd(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p arbiterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	arb, err := parseAddress(p.Arbiter)
	if err != nil {
		return nil, err
	}
	record, err := s.node.AddArbiter(caller, arb)
	if err != nil {
		return nil, err
	}
	return newArbiterView(record), nil
}

func (s *Server) handleArbiterRemove(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p arbiterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	arb, err := parseAddress(p.Arbiter)
	if err != nil {
		return nil, err
	}
	if err := s.node.RemoveArbiter(caller, arb); err != nil {
		return nil, err
	}
	return txResult{Applied: true}, nil
}

func (s *Server) handleArbiterGet(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p arbiterParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	arb, err := parseAddress(p.Arbiter)
	if err != nil {
		return nil, err
	}
	record, ok, err := s.node.GetArbiter(arb)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, arbiter.ErrArbiterNotFound
	}
	return newArbiterView(record), nil
}

// --- reputation ---

type reputationParams struct {
	User string `json:"user"`
}

func (s *Server) handleReputationInitialize(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p reputationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress(p.User)
	if err != nil {
		return nil, err
	}
	tally, err := s.node.InitializeReputation(user)
	if err != nil {
		return nil, err
	}
	return newReputationView(tally), nil
}

type reputationUpdateParams struct {
	User    string `json:"user"`
	Outcome string `json:"outcome"`
}

func (s *Server) handleReputationUpdate(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p reputationUpdateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress(p.User)
	if err != nil {
		return nil, err
	}
	outcome, err := reputation.ParseOutcome(p.Outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errBadParams, err)
	}
	tally, err := s.node.UpdateReputation(user, outcome)
	if err != nil {
		return nil, err
	}
	return newReputationView(tally), nil
}

func (s *Server) handleReputationGet(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p reputationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress(p.User)
	if err != nil {
		return nil, err
	}
	tally, ok, err := s.node.GetReputation(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reputation.ErrNotInitialized
	}
	return newReputationView(tally), nil
}

// --- escrow ---

type escrowCreateParams struct {
	Seller string `json:"seller"`
	Amount string `json:"amount"`
}

func (s *Server) handleEscrowCreate(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	seller, err := parseAddress(p.Seller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	esc, err := s.node.CreateEscrow(caller, seller, amount)
	if err != nil {
		return nil, err
	}
	return newEscrowView(esc), nil
}

type escrowPairParams struct {
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
}

func (p escrowPairParams) addresses() (buyer, seller [20]byte, err error) {
	if buyer, err = parseAddress(p.Buyer); err != nil {
		return
	}
	seller, err = parseAddress(p.Seller)
	return
}

func (s *Server) handleEscrowRelease(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	return s.escrowTransition(caller, params, s.node.ReleaseFunds)
}

func (s *Server) handleEscrowCancel(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	return s.escrowTransition(caller, params, s.node.CancelEscrow)
}

func (s *Server) handleEscrowDispute(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	return s.escrowTransition(caller, params, s.node.RaiseDispute)
}

func (s *Server) handleEscrowRefundBuyer(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	return s.escrowTransition(caller, params, s.node.RefundBuyer)
}

func (s *Server) escrowTransition(caller [20]byte, params []json.RawMessage, apply func(buyer, seller, caller [20]byte) error) (interface{}, error) {
	var p escrowPairParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	buyer, seller, err := p.addresses()
	if err != nil {
		return nil, err
	}
	if err := apply(buyer, seller, caller); err != nil {
		return nil, err
	}
	return txResult{Applied: true}, nil
}

type escrowResolveParams struct {
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Decision string `json:"decision"`
}

func (s *Server) handleEscrowResolve(caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowResolveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	buyer, err := parseAddress(p.Buyer)
	if err != nil {
		return nil, err
	}
	seller, err := parseAddress(p.Seller)
	if err != nil {
		return nil, err
	}
	decision, err := escrow.ParseDecision(p.Decision)
	if err != nil {
		return nil, err
	}
	if err := s.node.ResolveDispute(buyer, seller, caller, decision); err != nil {
		return nil, err
	}
	return txResult{Applied: true}, nil
}

func (s *Server) handleEscrowGet(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowPairParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	buyer, seller, err := p.addresses()
	if err != nil {
		return nil, err
	}
	esc, ok, err := s.node.GetEscrow(buyer, seller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return newEscrowView(esc), nil
}

// --- accounts ---

type accountParams struct {
	Address string `json:"address"`
}

func (s *Server) handleAccountGet(_ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress(p.Address)
	if err != nil {
		return nil, err
	}
	acc, err := s.node.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return newAccountView(addr, acc), nil
}
