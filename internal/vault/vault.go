package vault

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAsset      = errors.New("unknown asset")
)

// Vault moves assets between participant accounts and the ledger's custody
// account. TransferIn pulls funds from a participant into custody,
// TransferOut pays funds from custody to a participant. Implementations
// must be all-or-nothing per call: a returned error means no balance moved.
type Vault interface {
	TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error
	TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error)
}
