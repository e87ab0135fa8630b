package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Xi-Labs-ETH/staking-contract/pkg/circuit"
)

// Breakered wraps a Vault with a circuit breaker so a failing transfer
// backend stops being hammered while it is down.
type Breakered struct {
	inner   Vault
	breaker *circuit.Breaker
}

// WithBreaker decorates v with the given breaker.
func WithBreaker(v Vault, b *circuit.Breaker) *Breakered {
	return &Breakered{inner: v, breaker: b}
}

func (v *Breakered) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	return v.breaker.Execute(ctx, func() error {
		return v.inner.TransferIn(ctx, asset, from, amount)
	})
}

func (v *Breakered) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	return v.breaker.Execute(ctx, func() error {
		return v.inner.TransferOut(ctx, asset, to, amount)
	})
}

func (v *Breakered) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	var bal *big.Int
	err := v.breaker.Execute(ctx, func() error {
		var err error
		bal, err = v.inner.BalanceOf(ctx, asset, owner)
		return err
	})
	return bal, err
}
