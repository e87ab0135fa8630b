package staking

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TotalStaked returns the sum of all staked balances.
func (l *Ledger) TotalStaked() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalStaked)
}

// StakedOf returns addr's staked balance.
func (l *Ledger) StakedOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := l.lookup(addr)
	if p == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.Staked)
}

// EarnedOf returns addr's unclaimed reward as of now, including the share
// of elapsed time that has not been settled yet. Pure read, no state
// change.
func (l *Ledger) EarnedOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := l.lookup(addr)
	if p == nil {
		return big.NewInt(0)
	}

	st := l.computeAccrual(l.now().Unix())
	return new(big.Int).Add(p.Accrued, pendingReward(p, st.rewardPerToken))
}

// IsStaker reports whether addr currently has nonzero stake.
func (l *Ledger) IsStaker(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.index[addr]
	return ok && l.registry.Contains(id)
}

// Stakers returns the active staker addresses in unspecified order.
func (l *Ledger) Stakers() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.registry.IDs()
	out := make([]common.Address, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.participants[id].Addr)
	}
	return out
}

// EmissionRate returns the current per-day emission rate.
func (l *Ledger) EmissionRate() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.emissionRate)
}

// StakingAsset returns the stakeable asset identity.
func (l *Ledger) StakingAsset() string {
	return l.stakingAsset
}

// RewardAsset returns the reward asset identity.
func (l *Ledger) RewardAsset() string {
	return l.rewardAsset
}

// RewardCustody returns the reward asset balance held in custody.
func (l *Ledger) RewardCustody(ctx context.Context) (*big.Int, error) {
	return l.vault.BalanceOf(ctx, l.rewardAsset, l.custody)
}

// SecondsSinceAccrual returns the age of the last committed accrual pass.
func (l *Ledger) SecondsSinceAccrual() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	elapsed := l.now().Unix() - l.lastAccrual
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Undistributed returns emission carried forward from zero-supply windows.
func (l *Ledger) Undistributed() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.undistributed)
}

// TotalPaid returns cumulative reward paid out by claims.
func (l *Ledger) TotalPaid() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalPaid)
}

// TotalDistributed returns cumulative reward folded into the accumulator.
func (l *Ledger) TotalDistributed() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalDistributed)
}
