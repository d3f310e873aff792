package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/extensions"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/queue"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/namisoft/coinflip/pkg/stats"
	"github.com/namisoft/coinflip/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHouseAddr  = "house-1"
	testOwnerAddr  = "owner-1"
	testPlayerAddr = "player-1"
	testMasterAddr = "registry"
)

type fakeProvider struct {
	ready     bool
	nextID    uint64
	consumers map[uint64]random.Consumer
	err       error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{ready: true, consumers: make(map[uint64]random.Consumer)}
}

func (p *fakeProvider) IsReady() bool { return p.ready }

func (p *fakeProvider) RequestRandomNumber(caller random.Consumer, seed uint64) (uint64, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.nextID++
	p.consumers[p.nextID] = caller
	return p.nextID, nil
}

func (p *fakeProvider) CheckRequestState(requestID uint64) random.RequestState {
	if _, ok := p.consumers[requestID]; ok {
		return random.RequestPending
	}
	return random.RequestInvalid
}

func (p *fakeProvider) deliver(requestID, value uint64) {
	p.consumers[requestID].FulfillRandomness(requestID, value)
}

type fakeMaster struct {
	operationFees []int64
}

func (m *fakeMaster) IsHouseRegistered(uuid.UUID) bool { return true }

func (m *fakeMaster) ReceiveOperationFee(fromAddr string, amount int64) error {
	m.operationFees = append(m.operationFees, amount)
	return nil
}

type houseFixture struct {
	house     *House
	asset     *token.InMemoryAsset
	provider  *fakeProvider
	source    *chain.SimulatedChain
	master    *fakeMaster
	collector *stats.InMemoryCollector
}

func newHouseFixture(t *testing.T, config Config, allocations []fees.Allocation) *houseFixture {
	t.Helper()

	asset := token.NewInMemoryAsset("FLIP")
	asset.Mint(testHouseAddr, 10000)
	asset.Mint(testPlayerAddr, 1000)
	require.NoError(t, asset.Approve(testPlayerAddr, testHouseAddr, 1000))

	provider := newFakeProvider()
	source := chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second})
	master := &fakeMaster{}
	collector := stats.NewInMemoryCollector()

	house, err := NewHouse(NewHouseOptions{
		Address:     testHouseAddr,
		Owner:       testOwnerAddr,
		Asset:       asset,
		Provider:    provider,
		Distributor: fees.NewDistributor(fees.NewDistributorOptions{Asset: asset}),
		Collector:   collector,
		Source:      source,
		Master:      master,
		Config:      config,
		Allocations: allocations,
	})
	require.NoError(t, err)
	collector.RegisterTracker(house.Tracker())
	house.SetRegistered()
	house.SetRunning(true)

	return &houseFixture{
		house:     house,
		asset:     asset,
		provider:  provider,
		source:    source,
		master:    master,
		collector: collector,
	}
}

func defaultConfig() Config {
	return Config{
		FeePerBetBP:          100,
		OperationFeePerBetBP: 50,
		MinBet:               1,
		MaxBet:               1000,
		CancelWindowBlocks:   10,
	}
}

func (f *houseFixture) assertLedgerInvariant(t *testing.T) {
	t.Helper()
	l := f.house.Ledger()
	assert.GreaterOrEqual(t, l.LockedByGames(), int64(0))
	assert.GreaterOrEqual(t, l.TotalLocked(), l.LockedByGames())
	assert.GreaterOrEqual(t, f.asset.BalanceOf(testHouseAddr), l.TotalLocked())
}

func TestHouse_PlaceBet(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), bet.ID)
	assert.Equal(t, BetStatePending, bet.State)
	assert.Equal(t, int64(500), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, int64(10500), f.asset.BalanceOf(testHouseAddr))
	assert.Equal(t, int64(1000), f.house.Ledger().LockedByGames())
	assert.Equal(t, int64(500), f.house.Statistics().BetVolume)
	assert.Equal(t, int64(1), f.house.Statistics().UniquePlayers)
	f.assertLedgerInvariant(t)

	record, ok := f.collector.PlayerStats(f.house.Tracker(), testPlayerAddr)
	require.True(t, ok)
	assert.Equal(t, int64(1), record.Games)
	assert.Equal(t, int64(500), record.AmountIn)
}

func TestHouse_PlaceBetRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *houseFixture)
		amount  int64
		side    Side
		wantErr error
	}{
		{
			name:    "not running",
			setup:   func(f *houseFixture) { f.house.SetRunning(false) },
			amount:  100,
			side:    SideHeads,
			wantErr: ErrHouseNotRunning,
		},
		{
			name:    "invalid side",
			amount:  100,
			side:    Side(5),
			wantErr: ErrInvalidSide,
		},
		{
			name:    "provider not ready",
			setup:   func(f *houseFixture) { f.provider.ready = false },
			amount:  100,
			side:    SideHeads,
			wantErr: ErrProviderNotReady,
		},
		{
			name:    "amount above range",
			amount:  1001,
			side:    SideHeads,
			wantErr: ErrAmountOutOfRange,
		},
		{
			name:    "amount below range",
			amount:  0,
			side:    SideHeads,
			wantErr: ErrAmountOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHouseFixture(t, defaultConfig(), nil)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.house.PlaceBet(testPlayerAddr, tt.amount, tt.side, 0)
			assert.ErrorIs(t, err, tt.wantErr)
			// Rejections happen before any state mutation.
			assert.Equal(t, int64(1000), f.asset.BalanceOf(testPlayerAddr))
			assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
		})
	}
}

func TestHouse_PlaceBetCompensatesFailedRequest(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)
	f.provider.err = fmt.Errorf("%w: pool drained mid-flight", random.ErrNotReady)
	f.provider.ready = true

	_, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 0)
	assert.ErrorIs(t, err, ErrProviderNotReady)

	// The pulled stake and the lock are both rolled back.
	assert.Equal(t, int64(1000), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
	assert.Equal(t, int64(0), f.house.Ledger().TotalLocked())
}

func TestHouse_BetableRange(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		minBet  int64
		maxBet  int64
		wantMin int64
		wantMax int64
	}{
		{
			name:    "full range",
			balance: 10000,
			minBet:  1,
			maxBet:  1000,
			wantMin: 1,
			wantMax: 1000,
		},
		{
			name:    "capped at half free capital",
			balance: 1500,
			minBet:  1,
			maxBet:  1000,
			wantMin: 1,
			wantMax: 750,
		},
		{
			name:    "closed below twice min",
			balance: 150,
			minBet:  100,
			maxBet:  1000,
			wantMin: 0,
			wantMax: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset := token.NewInMemoryAsset("FLIP")
			asset.Mint(testHouseAddr, tt.balance)
			config := defaultConfig()
			config.MinBet = tt.minBet
			config.MaxBet = tt.maxBet
			house, err := NewHouse(NewHouseOptions{
				Address:  testHouseAddr,
				Owner:    testOwnerAddr,
				Asset:    asset,
				Provider: newFakeProvider(),
				Source:   chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second}),
				Config:   config,
			})
			require.NoError(t, err)

			min, max := house.BetableRange()
			assert.Equal(t, tt.wantMin, min)
			assert.Equal(t, tt.wantMax, max)
		})
	}
}

func TestHouse_WinningBet(t *testing.T) {
	allocations := []fees.Allocation{{Target: "treasury", ShareBP: 10000}}
	f := newHouseFixture(t, defaultConfig(), allocations)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	// Odd value resolves heads, matching the player's side.
	f.provider.deliver(bet.RequestID, 12345)
	require.NoError(t, f.house.FinalizeGame(bet.ID))

	resolved, ok := f.house.Bet(bet.ID)
	require.True(t, ok)
	assert.Equal(t, BetStateFinalized, resolved.State)
	assert.Equal(t, SideHeads, resolved.ResolvedSide)

	// totalFee = 500 * 150 / 10000 = 7; operation 2, house 5.
	assert.Equal(t, int64(500+993), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, []int64{2}, f.master.operationFees)
	assert.Equal(t, int64(5), f.asset.BalanceOf("treasury"))
	assert.Equal(t, int64(5), f.house.AccruedFee())
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
	assert.Equal(t, int64(1), f.house.Statistics().FinalizedGames)
	assert.Equal(t, int64(993), f.house.Statistics().PayoutVolume)
	f.assertLedgerInvariant(t)
}

func TestHouse_LosingBet(t *testing.T) {
	allocations := []fees.Allocation{{Target: "treasury", ShareBP: 10000}}
	f := newHouseFixture(t, defaultConfig(), allocations)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	// Even value resolves tails: no payout, fees still distributed.
	f.provider.deliver(bet.RequestID, 4242)
	require.NoError(t, f.house.FinalizeGame(bet.ID))

	resolved, ok := f.house.Bet(bet.ID)
	require.True(t, ok)
	assert.Equal(t, SideTails, resolved.ResolvedSide)
	assert.Equal(t, int64(500), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, []int64{2}, f.master.operationFees)
	assert.Equal(t, int64(5), f.asset.BalanceOf("treasury"))
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
	assert.Equal(t, int64(0), f.house.Statistics().PayoutVolume)
	f.assertLedgerInvariant(t)
}

func TestHouse_ImmediateResolution(t *testing.T) {
	config := defaultConfig()
	config.ResolveOnFulfill = true
	f := newHouseFixture(t, config, nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	f.provider.deliver(bet.RequestID, 12345)

	resolved, ok := f.house.Bet(bet.ID)
	require.True(t, ok)
	assert.Equal(t, BetStateFinalized, resolved.State)

	err = f.house.FinalizeGame(bet.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHouse_FulfillmentIdempotent(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	f.provider.deliver(bet.RequestID, 12345)
	before, _ := f.house.Bet(bet.ID)
	beforeStats := f.house.Statistics()

	// Redelivery with a different value is a silent no-op.
	f.provider.deliver(bet.RequestID, 99999)

	after, _ := f.house.Bet(bet.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, beforeStats, f.house.Statistics())
}

func TestHouse_FinalizeOnlyOnce(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)
	f.provider.deliver(bet.RequestID, 12345)

	require.NoError(t, f.house.FinalizeGame(bet.ID))
	err = f.house.FinalizeGame(bet.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	err = f.house.FinalizeGame(999)
	assert.ErrorIs(t, err, ErrUnknownBet)
}

func TestHouse_FailedDrawAutoCancels(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	// The sentinel value 0 is a failed draw: full refund, no fees.
	f.provider.deliver(bet.RequestID, 0)

	canceled, ok := f.house.Bet(bet.ID)
	require.True(t, ok)
	assert.Equal(t, BetStateCanceled, canceled.State)
	assert.Equal(t, int64(1000), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
	assert.Equal(t, int64(1), f.house.Statistics().CanceledGames)
}

func TestHouse_CancelGame(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)

	err = f.house.CancelGame(bet.ID, testPlayerAddr)
	assert.ErrorIs(t, err, ErrCancelWindowOpen)

	err = f.house.CancelGame(bet.ID, "someone-else")
	assert.ErrorIs(t, err, ErrUnauthorized)

	f.source.AdvanceTo(bet.PlacedBlock + defaultConfig().CancelWindowBlocks + 1)
	require.NoError(t, f.house.CancelGame(bet.ID, testPlayerAddr))

	canceled, ok := f.house.Bet(bet.ID)
	require.True(t, ok)
	assert.Equal(t, BetStateCanceled, canceled.State)
	assert.Equal(t, int64(1000), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())

	// The in/out figures net to zero for the canceled bet.
	record, ok := f.collector.PlayerStats(f.house.Tracker(), testPlayerAddr)
	require.True(t, ok)
	assert.Equal(t, record.AmountIn, record.AmountOut)

	err = f.house.CancelGame(bet.ID, testPlayerAddr)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHouse_CancelRejectedWithValidValue(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)
	f.provider.deliver(bet.RequestID, 12345)

	f.source.AdvanceTo(bet.PlacedBlock + defaultConfig().CancelWindowBlocks + 1)
	// A delivered valid value forces resolution, not cancellation.
	err = f.house.CancelGame(bet.ID, testPlayerAddr)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHouse_ValueConservation(t *testing.T) {
	allocations := []fees.Allocation{{Target: "treasury", ShareBP: 10000}}

	outcomes := []struct {
		name  string
		value uint64
	}{
		{name: "win", value: 12345},
		{name: "lose", value: 4242},
		{name: "failed draw", value: 0},
	}
	for _, tt := range outcomes {
		t.Run(tt.name, func(t *testing.T) {
			f := newHouseFixture(t, defaultConfig(), allocations)
			total := func() int64 {
				return f.asset.BalanceOf(testHouseAddr) +
					f.asset.BalanceOf(testPlayerAddr) +
					f.asset.BalanceOf("treasury") +
					f.asset.BalanceOf(testMasterAddr)
			}
			before := total()

			bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
			require.NoError(t, err)
			f.provider.deliver(bet.RequestID, tt.value)
			if resolved, _ := f.house.Bet(bet.ID); resolved.State == BetStateRandomnessFulfilled {
				require.NoError(t, f.house.FinalizeGame(bet.ID))
			}

			// No value is created or destroyed across the lifecycle.
			assert.Equal(t, before, total())
			assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())
			f.assertLedgerInvariant(t)
		})
	}
}

type vetoExtension struct {
	extensions.Noop
	vetoBet      bool
	vetoFinalize bool
}

func (e *vetoExtension) Name() string { return "veto" }

func (e *vetoExtension) OnBeforeBet(extensions.Context) error {
	if e.vetoBet {
		return fmt.Errorf("bet rejected by policy")
	}
	return nil
}

func (e *vetoExtension) OnBeforeFinalize(extensions.Context) error {
	if e.vetoFinalize {
		return fmt.Errorf("finalize rejected by policy")
	}
	return nil
}

func TestHouse_ExtensionVeto(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)
	veto := &vetoExtension{vetoBet: true}
	f.house.Dispatcher().Register(veto)

	_, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.Error(t, err)
	assert.Equal(t, int64(1000), f.asset.BalanceOf(testPlayerAddr))
	assert.Equal(t, int64(0), f.house.Ledger().LockedByGames())

	veto.vetoBet = false
	bet, err := f.house.PlaceBet(testPlayerAddr, 500, SideHeads, 7)
	require.NoError(t, err)
	f.provider.deliver(bet.RequestID, 12345)

	// A vetoed finalize leaves the bet resolvable later.
	veto.vetoFinalize = true
	require.Error(t, f.house.FinalizeGame(bet.ID))
	pending, _ := f.house.Bet(bet.ID)
	assert.Equal(t, BetStateRandomnessFulfilled, pending.State)

	veto.vetoFinalize = false
	require.NoError(t, f.house.FinalizeGame(bet.ID))
}

func TestHouse_DepositWithdraw(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)
	f.asset.Mint(testOwnerAddr, 500)
	require.NoError(t, f.asset.Approve(testOwnerAddr, testHouseAddr, 500))

	require.NoError(t, f.house.Deposit(testOwnerAddr, 500))
	assert.Equal(t, int64(10500), f.asset.BalanceOf(testHouseAddr))

	err := f.house.Withdraw("someone-else", "sink", 100)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.house.Withdraw(testOwnerAddr, testOwnerAddr, 300))
	assert.Equal(t, int64(300), f.asset.BalanceOf(testOwnerAddr))
}

func TestHouse_EveryPlacementCountsAsGame(t *testing.T) {
	f := newHouseFixture(t, defaultConfig(), nil)

	for i := 0; i < 3; i++ {
		_, err := f.house.PlaceBet(testPlayerAddr, 100, SideHeads, uint64(i))
		require.NoError(t, err)
	}

	// Three placements, one player: the lifetime game counter follows
	// placements, not first-seen players.
	record, ok := f.collector.PlayerStats(f.house.Tracker(), testPlayerAddr)
	require.True(t, ok)
	assert.Equal(t, int64(3), record.Games)
	assert.Equal(t, int64(300), record.AmountIn)
	assert.Equal(t, int64(1), f.house.Statistics().UniquePlayers)
}

func TestHouse_FullEventQueueDoesNotBlock(t *testing.T) {
	asset := token.NewInMemoryAsset("FLIP")
	asset.Mint(testHouseAddr, 10000)
	asset.Mint(testPlayerAddr, 1000)
	require.NoError(t, asset.Approve(testPlayerAddr, testHouseAddr, 1000))

	house, err := NewHouse(NewHouseOptions{
		Address:  testHouseAddr,
		Owner:    testOwnerAddr,
		Asset:    asset,
		Provider: newFakeProvider(),
		Sink:     events.NewQueueSink(queue.NewInMemoryQueue(1)),
		Source:   chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second}),
		Config:   defaultConfig(),
	})
	require.NoError(t, err)
	house.SetRegistered()
	house.SetRunning(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, err := house.PlaceBet(testPlayerAddr, 100, SideHeads, uint64(i))
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bet placement blocked on a full event queue")
	}
}
