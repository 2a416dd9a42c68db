package gasbank

import (
	"errors"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

const (
	// Transaction types
	TxTypeDeposit  = "deposit"
	TxTypeTransfer = "transfer"

	// GASFactor is the number of smallest units in one GAS.
	GASFactor int64 = 100_000_000
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRecipientRejected   = errors.New("recipient rejects incoming payments")
	ErrBalanceOverflow     = errors.New("balance overflow")
	ErrNegativeBalance     = errors.New("negative balance")
)

// Transaction records one balance movement.
type Transaction struct {
	ID        string       `json:"id"`
	TxType    string       `json:"tx_type"`
	From      util.Uint160 `json:"from"`
	To        util.Uint160 `json:"to"`
	Amount    int64        `json:"amount"`
	CreatedAt time.Time    `json:"created_at"`
}
