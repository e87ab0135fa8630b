package staking

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xi-Labs-ETH/staking-contract/internal/vault"
)

var (
	custody = common.HexToAddress("0x0000000000000000000000000000000000000C57")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000B2")
	treas   = common.HexToAddress("0x00000000000000000000000000000000000000AD")
)

const (
	stakeAsset  = "XLS"
	rewardAsset = "XLR"
)

type fixture struct {
	ledger *Ledger
	vault  *vault.Memory
	clock  *time.Time
}

// advance moves the fake clock forward.
func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

// newFixture builds a ledger over an in-memory vault with a seeded reward
// custody and funded staker accounts. ratePerDay in reward units per day.
func newFixture(t *testing.T, ratePerDay int64) *fixture {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	mem := vault.NewMemory(custody)
	mem.Mint(rewardAsset, custody, big.NewInt(1_000_000))
	mem.Mint(stakeAsset, alice, big.NewInt(10_000))
	mem.Mint(stakeAsset, bob, big.NewInt(10_000))
	mem.Mint(rewardAsset, treas, big.NewInt(1_000_000))

	l := New(mem, nil, nil, Config{
		StakingAsset: stakeAsset,
		RewardAsset:  rewardAsset,
		Custody:      custody,
		EmissionRate: big.NewInt(ratePerDay),
		Now:          func() time.Time { return now },
	})
	return &fixture{ledger: l, vault: mem, clock: &now}
}

// assertInvariants checks the supply and registry invariants that must hold
// after every public operation.
func assertInvariants(t *testing.T, l *Ledger) {
	t.Helper()

	sum := big.NewInt(0)
	for _, p := range l.participants {
		sum.Add(sum, p.Staked)
	}
	require.Zero(t, sum.Cmp(l.totalStaked), "total staked must equal sum of balances")

	for id, p := range l.participants {
		require.Equal(t, p.Staked.Sign() > 0, l.registry.Contains(uint32(id)),
			"registry membership must match nonzero stake for %s", p.Addr.Hex())
	}
}

func bal(t *testing.T, f *fixture, asset string, owner common.Address) *big.Int {
	t.Helper()
	b, err := f.vault.BalanceOf(context.Background(), asset, owner)
	require.NoError(t, err)
	return b
}

func TestSingleStakerAccrual(t *testing.T) {
	// Rate 86400/day is one reward unit per second.
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	assertInvariants(t, f.ledger)

	f.advance(10 * time.Second)

	assert.Equal(t, int64(10), f.ledger.EarnedOf(alice).Int64())

	require.NoError(t, f.ledger.Claim(ctx, alice))
	assert.Equal(t, int64(10), bal(t, f, rewardAsset, alice).Int64())
	assert.Equal(t, int64(0), f.ledger.EarnedOf(alice).Int64())
	assertInvariants(t, f.ledger)
}

func TestTwoStakersTimeWeighted(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))

	f.advance(5 * time.Second)
	require.NoError(t, f.ledger.Deposit(ctx, bob, big.NewInt(100)))

	f.advance(5 * time.Second)

	// Alice: 5s alone at supply 100 (5) plus 5s at supply 200 (2, floored).
	// Bob: 5s at supply 200 (2). Sum 9 <= 10 emitted, remainder lost to
	// truncation.
	a := f.ledger.EarnedOf(alice)
	b := f.ledger.EarnedOf(bob)
	assert.Equal(t, int64(7), a.Int64())
	assert.Equal(t, int64(2), b.Int64())

	emitted := big.NewInt(10)
	total := new(big.Int).Add(a, b)
	assert.LessOrEqual(t, total.Int64(), emitted.Int64())
	assertInvariants(t, f.ledger)
}

func TestNoRetroactiveReward(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(100 * time.Second)

	// Bob deposits after the window; that window belongs to Alice alone.
	require.NoError(t, f.ledger.Deposit(ctx, bob, big.NewInt(100)))
	assert.Equal(t, int64(0), f.ledger.EarnedOf(bob).Int64())
	assert.Equal(t, int64(100), f.ledger.EarnedOf(alice).Int64())
}

func TestClaimIdempotent(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(10 * time.Second)

	require.NoError(t, f.ledger.Claim(ctx, alice))
	paid := bal(t, f, rewardAsset, alice)

	// Immediate second claim is a no-op, not an error.
	require.NoError(t, f.ledger.Claim(ctx, alice))
	assert.Zero(t, paid.Cmp(bal(t, f, rewardAsset, alice)))

	// Claiming for an address that never staked is also a no-op.
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	require.NoError(t, f.ledger.Claim(ctx, stranger))
}

func TestZeroSupplyAccrual(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	f.advance(30 * time.Second)
	require.NoError(t, f.ledger.Accrue(ctx))

	// Nothing distributes, time still advances, no error surfaces.
	assert.Equal(t, int64(0), f.ledger.SecondsSinceAccrual())
	assert.Equal(t, int64(30), f.ledger.Undistributed().Int64())
}

func TestZeroSupplyEmissionCarriesForward(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	// 20s of emission with nobody staked.
	f.advance(20 * time.Second)
	require.NoError(t, f.ledger.Accrue(ctx))

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(10 * time.Second)

	// Alice receives the carried 20 plus her own 10.
	assert.Equal(t, int64(30), f.ledger.EarnedOf(alice).Int64())

	require.NoError(t, f.ledger.Claim(ctx, alice))
	assert.Equal(t, int64(30), bal(t, f, rewardAsset, alice).Int64())
	assert.Equal(t, int64(0), f.ledger.Undistributed().Int64())
}

func TestWithdrawAllDeregisters(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	require.True(t, f.ledger.IsStaker(alice))

	f.advance(4 * time.Second)
	require.NoError(t, f.ledger.Withdraw(ctx, alice, big.NewInt(100)))

	assert.False(t, f.ledger.IsStaker(alice))
	assert.Equal(t, int64(0), f.ledger.StakedOf(alice).Int64())
	assert.Equal(t, int64(10_000), bal(t, f, stakeAsset, alice).Int64())
	// Pending reward was paid out on withdraw.
	assert.Equal(t, int64(4), bal(t, f, rewardAsset, alice).Int64())
	assertInvariants(t, f.ledger)
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	t.Run("zero deposit", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, big.NewInt(0)), ErrInvalidAmount)
	})
	t.Run("nil deposit", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, nil), ErrInvalidAmount)
	})
	t.Run("zero withdraw", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, big.NewInt(0)), ErrInvalidAmount)
	})
	t.Run("withdraw exceeding stake", func(t *testing.T) {
		require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(50)))
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, big.NewInt(51)), ErrInsufficientStake)
	})
	t.Run("withdraw without stake", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.Withdraw(ctx, bob, big.NewInt(1)), ErrInsufficientStake)
	})
	t.Run("negative emission rate", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.SetEmissionRate(ctx, big.NewInt(-1)), ErrInvalidAmount)
	})
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))

	f.ledger.Pause(ctx)
	require.True(t, f.ledger.Paused())

	assert.ErrorIs(t, f.ledger.Deposit(ctx, alice, big.NewInt(1)), ErrPaused)
	assert.ErrorIs(t, f.ledger.Withdraw(ctx, alice, big.NewInt(1)), ErrPaused)
	assert.ErrorIs(t, f.ledger.Claim(ctx, alice), ErrPaused)
	assert.ErrorIs(t, f.ledger.Accrue(ctx), ErrPaused)
	assert.ErrorIs(t, f.ledger.SetEmissionRate(ctx, big.NewInt(1)), ErrPaused)

	// Queries stay available while paused.
	assert.Equal(t, int64(100), f.ledger.TotalStaked().Int64())

	f.ledger.Unpause(ctx)
	assert.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(1)))
}

// reentrantVault calls back into the ledger from inside a transfer, the way
// a malicious transfer backend would.
type reentrantVault struct {
	*vault.Memory
	ledger  *Ledger
	callErr error
}

func (v *reentrantVault) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	v.callErr = v.ledger.Claim(ctx, from)
	return v.Memory.TransferIn(ctx, asset, from, amount)
}

func TestReentrantCallRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mem := vault.NewMemory(custody)
	mem.Mint(stakeAsset, alice, big.NewInt(1_000))

	rv := &reentrantVault{Memory: mem}
	l := New(rv, nil, nil, Config{
		StakingAsset: stakeAsset,
		RewardAsset:  rewardAsset,
		Custody:      custody,
		EmissionRate: big.NewInt(86400),
		Now:          func() time.Time { return now },
	})
	rv.ledger = l

	require.NoError(t, l.Deposit(context.Background(), alice, big.NewInt(100)))
	assert.ErrorIs(t, rv.callErr, ErrReentrant)
}

// failingVault rejects a configurable leg so transfer failure paths can be
// exercised.
type failingVault struct {
	*vault.Memory
	failIn  bool
	failOut bool
}

var errBackend = errors.New("backend down")

func (v *failingVault) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	if v.failIn {
		return errBackend
	}
	return v.Memory.TransferIn(ctx, asset, from, amount)
}

func (v *failingVault) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	if v.failOut {
		return errBackend
	}
	return v.Memory.TransferOut(ctx, asset, to, amount)
}

func TestTransferFailureLeavesStateUnchanged(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mem := vault.NewMemory(custody)
	mem.Mint(stakeAsset, alice, big.NewInt(1_000))
	mem.Mint(rewardAsset, custody, big.NewInt(1_000))

	fv := &failingVault{Memory: mem}
	l := New(fv, nil, nil, Config{
		StakingAsset: stakeAsset,
		RewardAsset:  rewardAsset,
		Custody:      custody,
		EmissionRate: big.NewInt(86400),
		Now:          func() time.Time { return now },
	})

	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, alice, big.NewInt(100)))
	now = now.Add(10 * time.Second)

	t.Run("failed claim", func(t *testing.T) {
		fv.failOut = true
		err := l.Claim(ctx, alice)
		assert.ErrorIs(t, err, ErrTransferFailed)

		fv.failOut = false
		assert.Equal(t, int64(10), l.EarnedOf(alice).Int64(), "failed claim must not burn accrued reward")
	})

	t.Run("failed deposit", func(t *testing.T) {
		fv.failIn = true
		err := l.Deposit(ctx, bob, big.NewInt(50))
		assert.ErrorIs(t, err, ErrTransferFailed)

		fv.failIn = false
		assert.Equal(t, int64(0), l.StakedOf(bob).Int64())
		assert.False(t, l.IsStaker(bob))
		assertInvariants(t, l)
	})
}

func TestEmissionRateBoundary(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(10 * time.Second)

	// Doubling the rate settles the elapsed window at the old rate first.
	require.NoError(t, f.ledger.SetEmissionRate(ctx, big.NewInt(2*86400)))
	assert.Equal(t, int64(10), f.ledger.EarnedOf(alice).Int64())

	f.advance(10 * time.Second)
	assert.Equal(t, int64(30), f.ledger.EarnedOf(alice).Int64())
}

func TestSubDayRateFloorsToZero(t *testing.T) {
	// A rate below one unit per second emits nothing, by design.
	f := newFixture(t, 86399)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(time.Hour)
	assert.Equal(t, int64(0), f.ledger.EarnedOf(alice).Int64())
}

func TestConservation(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	steps := []func(){
		func() { f.ledger.Deposit(ctx, alice, big.NewInt(73)) },
		func() { f.ledger.Deposit(ctx, bob, big.NewInt(131)) },
		func() { f.ledger.Withdraw(ctx, alice, big.NewInt(20)) },
		func() { f.ledger.Claim(ctx, bob) },
		func() { f.ledger.Deposit(ctx, alice, big.NewInt(7)) },
		func() { f.ledger.Withdraw(ctx, bob, big.NewInt(131)) },
		func() { f.ledger.Claim(ctx, alice) },
		func() { f.ledger.Accrue(ctx) },
	}

	var elapsed int64
	for _, step := range steps {
		f.advance(13 * time.Second)
		elapsed += 13
		step()
		assertInvariants(t, f.ledger)
	}

	emitted := big.NewInt(elapsed) // one unit per second

	outstanding := new(big.Int).Add(f.ledger.EarnedOf(alice), f.ledger.EarnedOf(bob))
	total := new(big.Int).Add(outstanding, f.ledger.TotalPaid())
	total.Add(total, f.ledger.Undistributed())

	assert.LessOrEqual(t, total.Int64(), emitted.Int64(),
		"paid + accrued + carried reward must never exceed cumulative emission")
}

func TestRewardSupplyAdministration(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(50 * time.Second)

	require.NoError(t, f.ledger.DepositRewardSupply(ctx, treas, big.NewInt(500)))

	t.Run("insolvent withdrawal rejected", func(t *testing.T) {
		custodyBal, err := f.ledger.RewardCustody(ctx)
		require.NoError(t, err)

		// Alice is owed 50; draining custody below that must fail.
		tooMuch := new(big.Int).Sub(custodyBal, big.NewInt(49))
		assert.ErrorIs(t, f.ledger.WithdrawRewardSupply(ctx, treas, tooMuch), ErrInsolvent)
	})

	t.Run("solvent withdrawal succeeds", func(t *testing.T) {
		require.NoError(t, f.ledger.WithdrawRewardSupply(ctx, treas, big.NewInt(400)))

		// Alice can still claim everything she is owed.
		require.NoError(t, f.ledger.Claim(ctx, alice))
		assert.Equal(t, int64(50), bal(t, f, rewardAsset, alice).Int64())
	})

	t.Run("zero amounts rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.ledger.DepositRewardSupply(ctx, treas, big.NewInt(0)), ErrInvalidAmount)
		assert.ErrorIs(t, f.ledger.WithdrawRewardSupply(ctx, treas, nil), ErrInvalidAmount)
	})
}

func TestLastAccrualNeverDecreases(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	before := f.ledger.lastAccrual

	// Clock regression must not move the accrual point backwards.
	*f.clock = f.clock.Add(-time.Hour)
	require.NoError(t, f.ledger.Accrue(ctx))
	assert.Equal(t, before, f.ledger.lastAccrual)
	assert.Equal(t, int64(0), f.ledger.SecondsSinceAccrual())
}

func TestParticipantRecordSurvivesFullExit(t *testing.T) {
	f := newFixture(t, 86400)
	ctx := context.Background()

	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	f.advance(10 * time.Second)
	require.NoError(t, f.ledger.Withdraw(ctx, alice, big.NewInt(100)))

	// Re-entering reuses the same record. The 10s nobody was staked carried
	// forward and lands on Alice together with her fresh 5s.
	f.advance(10 * time.Second)
	require.NoError(t, f.ledger.Deposit(ctx, alice, big.NewInt(100)))
	require.Len(t, f.ledger.participants, 1)

	f.advance(5 * time.Second)
	assert.Equal(t, int64(15), f.ledger.EarnedOf(alice).Int64())
}
