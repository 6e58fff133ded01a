package solprogram

import (
	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
)

// TransactionStatus - Confirmation status of a sent transaction
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFinalized TransactionStatus = "finalized"
	StatusFailed    TransactionStatus = "failed"
)

// TransactionResult - Outcome of a sent transaction
type TransactionResult struct {
	Signature   string            `json:"signature"`
	Status      TransactionStatus `json:"status"`
	Error       *string           `json:"error,omitempty"`
	ExplorerURL string            `json:"explorer_url"`
}

// EarnerAccount is a decoded earner account with its address.
type EarnerAccount struct {
	Address solana.PublicKey
	earn.Earner
}

// EarnManagerAccount is a decoded earn manager account with its address.
type EarnManagerAccount struct {
	Address solana.PublicKey
	earn.EarnManager
}
