package staking

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Xi-Labs-ETH/staking-contract/internal/metrics"
	"github.com/Xi-Labs-ETH/staking-contract/internal/vault"
	"github.com/Xi-Labs-ETH/staking-contract/pkg/messaging"
)

// Participant is one staker's record. Records are created on first deposit
// and never deleted; a fully withdrawn staker keeps a zeroed record and is
// only removed from the active registry.
type Participant struct {
	Addr       common.Address
	Staked     *big.Int
	Accrued    *big.Int
	Checkpoint *big.Int // rewardPerToken as of the last settle
}

// Config holds ledger construction parameters. The two asset identities
// are immutable after construction.
type Config struct {
	StakingAsset string
	RewardAsset  string
	Custody      common.Address
	EmissionRate *big.Int // reward base units per day
	Source       string   // event source tag
	Now          func() time.Time
}

// Ledger is the single shared accounting state. All mutating operations are
// serialized: overlapping mutating calls fail with ErrReentrant rather than
// queue, which also rejects a transfer backend calling back into the ledger
// mid-operation.
type Ledger struct {
	vault   vault.Vault
	events  *messaging.Client
	metrics *metrics.Recorder

	stakingAsset string
	rewardAsset  string
	custody      common.Address
	source       string
	now          func() time.Time

	busy   atomic.Bool
	paused atomic.Bool

	mu               sync.RWMutex
	participants     []*Participant
	index            map[common.Address]uint32
	registry         *Registry
	totalStaked      *big.Int
	rewardPerToken   *big.Int
	lastAccrual      int64 // unix seconds
	emissionRate     *big.Int
	undistributed    *big.Int // emission carried over zero-supply windows
	totalDistributed *big.Int
	totalPaid        *big.Int
}

// New creates a ledger. events and rec may be nil.
func New(v vault.Vault, events *messaging.Client, rec *metrics.Recorder, cfg Config) *Ledger {
	rate := cfg.EmissionRate
	if rate == nil {
		rate = big.NewInt(0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Ledger{
		vault:            v,
		events:           events,
		metrics:          rec,
		stakingAsset:     cfg.StakingAsset,
		rewardAsset:      cfg.RewardAsset,
		custody:          cfg.Custody,
		source:           cfg.Source,
		now:              now,
		index:            make(map[common.Address]uint32),
		registry:         NewRegistry(),
		totalStaked:      big.NewInt(0),
		rewardPerToken:   big.NewInt(0),
		lastAccrual:      now().Unix(),
		emissionRate:     new(big.Int).Set(rate),
		undistributed:    big.NewInt(0),
		totalDistributed: big.NewInt(0),
		totalPaid:        big.NewInt(0),
	}
}

// enter gates every mutating entry point: paused ledgers reject, and a
// second mutating call while one is in flight fails with ErrReentrant.
func (l *Ledger) enter() error {
	if l.paused.Load() {
		return ErrPaused
	}
	if !l.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

func (l *Ledger) exit() {
	l.busy.Store(false)
}

// Deposit stakes amount for addr. The accrual pass and the self-claim run
// before the stake increase so the new amount earns nothing for the window
// that just elapsed.
func (l *Ledger) Deposit(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.computeAccrual(l.now().Unix())
	p := l.lookup(addr)

	owed := big.NewInt(0)
	if p != nil {
		owed = new(big.Int).Add(p.Accrued, pendingReward(p, st.rewardPerToken))
	}

	// Pay the pending reward first: if it fails nothing has moved and no
	// state changes.
	if owed.Sign() > 0 {
		if err := l.vault.TransferOut(ctx, l.rewardAsset, addr, owed); err != nil {
			return fmt.Errorf("claim on deposit: %w: %w", ErrTransferFailed, err)
		}
	}

	if err := l.vault.TransferIn(ctx, l.stakingAsset, addr, amount); err != nil {
		// The payout already executed, so the claim leg must commit even
		// though the deposit leg failed; the stake stays untouched.
		if p != nil {
			l.commitClaim(ctx, p, st, owed)
		}
		return fmt.Errorf("deposit transfer: %w: %w", ErrTransferFailed, err)
	}

	if p == nil {
		p = l.create(addr)
	}
	l.commitClaim(ctx, p, st, owed)

	p.Staked = new(big.Int).Add(p.Staked, amount)
	l.totalStaked = new(big.Int).Add(l.totalStaked, amount)
	l.registry.Add(l.index[addr])

	l.metrics.Operation("deposit", addr.Hex(), amount)
	l.publish(ctx, messaging.EventTypeStakeDeposited, messaging.StakeEvent{
		Address:     addr.Hex(),
		Amount:      amount.String(),
		Staked:      p.Staked.String(),
		TotalStaked: l.totalStaked.String(),
		RewardPaid:  owed.String(),
	})
	return nil
}

// Withdraw unstakes amount for addr, pays out pending reward, and removes
// the staker from the registry when their stake reaches zero.
func (l *Ledger) Withdraw(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.lookup(addr)
	if p == nil || p.Staked.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}

	st := l.computeAccrual(l.now().Unix())
	owed := new(big.Int).Add(p.Accrued, pendingReward(p, st.rewardPerToken))

	if owed.Sign() > 0 {
		if err := l.vault.TransferOut(ctx, l.rewardAsset, addr, owed); err != nil {
			return fmt.Errorf("claim on withdraw: %w: %w", ErrTransferFailed, err)
		}
	}

	if err := l.vault.TransferOut(ctx, l.stakingAsset, addr, amount); err != nil {
		l.commitClaim(ctx, p, st, owed)
		return fmt.Errorf("withdraw transfer: %w: %w", ErrTransferFailed, err)
	}

	l.commitClaim(ctx, p, st, owed)

	p.Staked = new(big.Int).Sub(p.Staked, amount)
	l.totalStaked = new(big.Int).Sub(l.totalStaked, amount)
	if p.Staked.Sign() == 0 {
		l.registry.Remove(l.index[addr])
	}

	l.metrics.Operation("withdraw", addr.Hex(), amount)
	l.publish(ctx, messaging.EventTypeStakeWithdrawn, messaging.StakeEvent{
		Address:     addr.Hex(),
		Amount:      amount.String(),
		Staked:      p.Staked.String(),
		TotalStaked: l.totalStaked.String(),
		RewardPaid:  owed.String(),
	})
	return nil
}

// Claim pays out the caller's accrued reward. Claiming with nothing accrued
// is a no-op, not an error, so an immediate second claim does nothing.
func (l *Ledger) Claim(ctx context.Context, addr common.Address) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.computeAccrual(l.now().Unix())
	p := l.lookup(addr)

	owed := big.NewInt(0)
	if p != nil {
		owed = new(big.Int).Add(p.Accrued, pendingReward(p, st.rewardPerToken))
	}

	if owed.Sign() == 0 {
		l.applyAccrual(st)
		if p != nil {
			p.Checkpoint = new(big.Int).Set(st.rewardPerToken)
		}
		return nil
	}

	if err := l.vault.TransferOut(ctx, l.rewardAsset, addr, owed); err != nil {
		return fmt.Errorf("claim transfer: %w: %w", ErrTransferFailed, err)
	}

	l.commitClaim(ctx, p, st, owed)

	l.metrics.Operation("claim", addr.Hex(), owed)
	return nil
}

// Accrue forces a global accrual pass.
func (l *Ledger) Accrue(ctx context.Context) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.computeAccrual(l.now().Unix())
	l.applyAccrual(st)

	l.metrics.AccrualPass(time.Duration(st.elapsed)*time.Second, st.pool, l.totalStaked)
	l.publish(ctx, messaging.EventTypeRewardAccrued, messaging.AccrualEvent{
		ElapsedSeconds: st.elapsed,
		RewardPool:     st.pool.String(),
		TotalStaked:    l.totalStaked.String(),
		Undistributed:  l.undistributed.String(),
	})
	return nil
}

// SetEmissionRate changes the per-day emission rate. An accrual pass runs
// first so the old rate applies to the elapsed window and the new rate only
// to future time.
func (l *Ledger) SetEmissionRate(ctx context.Context, rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.computeAccrual(l.now().Unix())
	l.applyAccrual(st)

	old := l.emissionRate
	l.emissionRate = new(big.Int).Set(rate)

	l.publish(ctx, messaging.EventTypeRewardRateUpdated, messaging.RateEvent{
		OldRate: old.String(),
		NewRate: rate.String(),
	})
	return nil
}

// DepositRewardSupply moves reward asset from the administrator into the
// ledger's custody.
func (l *Ledger) DepositRewardSupply(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if err := l.vault.TransferIn(ctx, l.rewardAsset, from, amount); err != nil {
		return fmt.Errorf("reward supply deposit: %w: %w", ErrTransferFailed, err)
	}

	l.metrics.Operation("reward_supply_deposit", from.Hex(), amount)
	l.publish(ctx, messaging.EventTypeTreasuryDeposited, messaging.TreasuryEvent{
		Amount:  amount.String(),
		Custody: l.custody.Hex(),
	})
	return nil
}

// WithdrawRewardSupply moves reward asset out of custody. The withdrawal is
// refused if it would leave custody below the outstanding reward
// obligations (distributed but unpaid reward plus the carried-forward
// pool).
func (l *Ledger) WithdrawRewardSupply(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.computeAccrual(l.now().Unix())

	custody, err := l.vault.BalanceOf(ctx, l.rewardAsset, l.custody)
	if err != nil {
		return fmt.Errorf("custody balance: %w", err)
	}

	obligations := new(big.Int).Add(l.totalDistributed, st.distributed)
	obligations.Add(obligations, st.undistributed)
	obligations.Sub(obligations, l.totalPaid)

	remaining := new(big.Int).Sub(custody, amount)
	if remaining.Cmp(obligations) < 0 {
		return ErrInsolvent
	}

	if err := l.vault.TransferOut(ctx, l.rewardAsset, to, amount); err != nil {
		return fmt.Errorf("reward supply withdrawal: %w: %w", ErrTransferFailed, err)
	}

	l.applyAccrual(st)

	l.metrics.Operation("reward_supply_withdraw", to.Hex(), amount)
	l.publish(ctx, messaging.EventTypeTreasuryWithdrawn, messaging.TreasuryEvent{
		Amount:  amount.String(),
		Custody: l.custody.Hex(),
	})
	return nil
}

// Pause blocks every mutating operation until Unpause.
func (l *Ledger) Pause(ctx context.Context) {
	l.paused.Store(true)
	l.publish(ctx, messaging.EventTypeLedgerPaused, nil)
}

// Unpause lifts the pause.
func (l *Ledger) Unpause(ctx context.Context) {
	l.paused.Store(false)
	l.publish(ctx, messaging.EventTypeLedgerUnpaused, nil)
}

// Paused reports whether mutating operations are blocked.
func (l *Ledger) Paused() bool {
	return l.paused.Load()
}

// commitClaim applies an accrual pass plus one participant's payout of owed:
// their share is settled to zero and their checkpoint moves to the new
// accumulator value. Caller holds l.mu.
func (l *Ledger) commitClaim(ctx context.Context, p *Participant, st accrualState, owed *big.Int) {
	l.applyAccrual(st)
	p.Accrued = big.NewInt(0)
	p.Checkpoint = new(big.Int).Set(st.rewardPerToken)
	if owed.Sign() > 0 {
		l.totalPaid = new(big.Int).Add(l.totalPaid, owed)
		l.publish(ctx, messaging.EventTypeRewardClaimed, messaging.ClaimEvent{
			Address: p.Addr.Hex(),
			Amount:  owed.String(),
		})
	}
}

func (l *Ledger) lookup(addr common.Address) *Participant {
	id, ok := l.index[addr]
	if !ok {
		return nil
	}
	return l.participants[id]
}

func (l *Ledger) create(addr common.Address) *Participant {
	p := &Participant{
		Addr:       addr,
		Staked:     big.NewInt(0),
		Accrued:    big.NewInt(0),
		Checkpoint: new(big.Int).Set(l.rewardPerToken),
	}
	l.index[addr] = uint32(len(l.participants))
	l.participants = append(l.participants, p)
	return p
}

func (l *Ledger) publish(ctx context.Context, eventType string, payload interface{}) {
	evt, err := messaging.NewEvent(eventType, l.source, payload)
	if err != nil {
		return
	}
	// Best effort: a broker outage must not fail the operation.
	_ = l.events.Publish(ctx, eventType, evt)
}
