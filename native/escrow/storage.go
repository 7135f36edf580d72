package escrow

import "math/big"

// storedEscrow is the RLP layout persisted under the pair's storage key.
// Timestamps are stored unsigned because RLP has no signed integer encoding.
type storedEscrow struct {
	Buyer     [20]byte
	Seller    [20]byte
	Amount    *big.Int
	Status    uint8
	CreatedAt uint64
}

func newStoredEscrow(e *Escrow) *storedEscrow {
	stored := &storedEscrow{
		Buyer:  e.Buyer,
		Seller: e.Seller,
		Amount: big.NewInt(0),
		Status: uint8(e.Status),
	}
	if e.Amount != nil {
		stored.Amount = new(big.Int).Set(e.Amount)
	}
	if e.CreatedAt > 0 {
		stored.CreatedAt = uint64(e.CreatedAt)
	}
	return stored
}

func (s *storedEscrow) escrow() *Escrow {
	esc := &Escrow{
		Buyer:     s.Buyer,
		Seller:    s.Seller,
		Amount:    big.NewInt(0),
		Status:    EscrowStatus(s.Status),
		CreatedAt: int64(s.CreatedAt),
	}
	if s.Amount != nil {
		esc.Amount = new(big.Int).Set(s.Amount)
	}
	return esc
}
