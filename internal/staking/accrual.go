package staking

import (
	"math/big"
)

// Scale carries fractional reward-per-token precision through integer
// division. Residual sub-Scale fractions floor away; at 10^12 the loss per
// accrual per staker is negligible.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// SecondsPerDay converts the per-day emission rate to a per-second rate.
// The division truncates: a rate below 86400 emits nothing per second.
const SecondsPerDay = 86400

// accrualState is a fully computed accrual pass that has not been applied
// yet. Operations compute first, run their transfers, and commit the state
// only for the legs that actually executed.
type accrualState struct {
	now            int64 // unix seconds
	elapsed        int64
	pool           *big.Int // emission for the window plus carried remainder
	rewardPerToken *big.Int // accumulator value after the pass
	undistributed  *big.Int // carry after the pass
	distributed    *big.Int // amount folded into the accumulator by the pass
}

// computeAccrual derives the accrual pass as of now without mutating the
// ledger. With zero staked supply nothing distributes and the whole pool is
// carried forward; time still advances on commit.
func (l *Ledger) computeAccrual(now int64) accrualState {
	var elapsed int64
	if now > l.lastAccrual {
		elapsed = now - l.lastAccrual
	}

	perSecond := new(big.Int).Div(l.emissionRate, big.NewInt(SecondsPerDay))
	pool := new(big.Int).Mul(perSecond, big.NewInt(elapsed))
	pool.Add(pool, l.undistributed)

	st := accrualState{
		now:            now,
		elapsed:        elapsed,
		pool:           pool,
		rewardPerToken: new(big.Int).Set(l.rewardPerToken),
	}

	if l.totalStaked.Sign() == 0 {
		st.undistributed = new(big.Int).Set(pool)
		st.distributed = big.NewInt(0)
		return st
	}

	delta := new(big.Int).Mul(pool, Scale)
	delta.Div(delta, l.totalStaked)
	st.rewardPerToken.Add(st.rewardPerToken, delta)
	st.undistributed = big.NewInt(0)
	st.distributed = pool
	return st
}

// applyAccrual commits a computed pass. lastAccrual never decreases.
func (l *Ledger) applyAccrual(st accrualState) {
	l.rewardPerToken = st.rewardPerToken
	l.undistributed = st.undistributed
	l.totalDistributed.Add(l.totalDistributed, st.distributed)
	if st.now > l.lastAccrual {
		l.lastAccrual = st.now
	}
}

// pendingReward is the participant's share of the accumulator movement
// since their checkpoint. The division floors.
func pendingReward(p *Participant, rewardPerToken *big.Int) *big.Int {
	delta := new(big.Int).Sub(rewardPerToken, p.Checkpoint)
	delta.Mul(delta, p.Staked)
	return delta.Div(delta, Scale)
}
