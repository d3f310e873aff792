package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/extensions"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/ledger"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/namisoft/coinflip/pkg/stats"
	"github.com/namisoft/coinflip/pkg/token"
)

// Master is the registry contract as seen from a house: the house
// forwards its operation fee there and the registry re-distributes it.
type Master interface {
	IsHouseRegistered(houseID uuid.UUID) bool
	ReceiveOperationFee(fromAddr string, amount int64) error
}

// House runs one coin-flip game instance over its own fund pool. Every
// public transition executes as a single critical section under the
// house mutex; external collaborators (asset, provider, extensions, fee
// recipients) are called only after the accounting state is updated.
type House struct {
	mu sync.Mutex

	id      uuid.UUID
	address string
	owner   string
	tracker uuid.UUID

	asset       token.Asset
	ledger      *ledger.Ledger
	provider    random.Provider
	dispatcher  *extensions.Dispatcher
	distributor *fees.Distributor
	collector   stats.Collector
	sink        events.Sink
	source      chain.Source
	master      Master

	config      Config
	allocations []fees.Allocation
	running     bool
	registered  bool
	accruedFee  int64

	nextBetID  uint64
	bets       map[uint64]*Bet
	requests   map[uint64]uint64
	players    map[string]bool
	statistics Statistics
}

type NewHouseOptions struct {
	// Address is the asset-holder identity of the house fund pool.
	Address string
	Owner   string
	// Tracker keys player lifetime statistics. A migrated successor is
	// created bound to its predecessor's tracker.
	Tracker     uuid.UUID
	Asset       token.Asset
	Provider    random.Provider
	Dispatcher  *extensions.Dispatcher
	Distributor *fees.Distributor
	Collector   stats.Collector
	Sink        events.Sink
	Source      chain.Source
	Master      Master
	Config      Config
	Allocations []fees.Allocation
}

func NewHouse(opts NewHouseOptions) (*House, error) {
	if opts.Config.FeePerBetBP < 0 || opts.Config.OperationFeePerBetBP < 0 {
		return nil, fmt.Errorf("negative fee configuration")
	}
	if opts.Config.FeePerBetBP+opts.Config.OperationFeePerBetBP > fees.BasisPointDenominator {
		return nil, fmt.Errorf("fee %d bp plus operation fee %d bp exceeds %d",
			opts.Config.FeePerBetBP, opts.Config.OperationFeePerBetBP, fees.BasisPointDenominator)
	}
	if opts.Config.MinBet <= 0 || opts.Config.MaxBet < opts.Config.MinBet {
		return nil, fmt.Errorf("invalid bet range [%d, %d]", opts.Config.MinBet, opts.Config.MaxBet)
	}
	if err := fees.ValidateAllocations(opts.Allocations); err != nil {
		return nil, fmt.Errorf("invalid fee allocations: %w", err)
	}

	tracker := opts.Tracker
	if tracker == uuid.Nil {
		tracker = uuid.New()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = extensions.NewDispatcher()
	}

	return &House{
		id:          uuid.New(),
		address:     opts.Address,
		owner:       opts.Owner,
		tracker:     tracker,
		asset:       opts.Asset,
		ledger:      ledger.New(opts.Asset, opts.Address),
		provider:    opts.Provider,
		dispatcher:  dispatcher,
		distributor: opts.Distributor,
		collector:   opts.Collector,
		sink:        opts.Sink,
		source:      opts.Source,
		master:      opts.Master,
		config:      opts.Config,
		allocations: append([]fees.Allocation(nil), opts.Allocations...),
		bets:        make(map[uint64]*Bet),
		requests:    make(map[uint64]uint64),
		players:     make(map[string]bool),
	}, nil
}

// ConsumerID identifies the house toward the randomness provider.
func (h *House) ConsumerID() uuid.UUID {
	return h.id
}

func (h *House) ID() uuid.UUID      { return h.id }
func (h *House) Address() string    { return h.address }
func (h *House) Owner() string      { return h.owner }
func (h *House) Tracker() uuid.UUID { return h.tracker }

func (h *House) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *House) IsRegistered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registered
}

func (h *House) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config
}

func (h *House) Allocations() []fees.Allocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]fees.Allocation(nil), h.allocations...)
}

func (h *House) AccruedFee() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accruedFee
}

func (h *House) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statistics
}

func (h *House) Ledger() *ledger.Ledger {
	return h.ledger
}

func (h *House) Dispatcher() *extensions.Dispatcher {
	return h.dispatcher
}

// Bet returns a copy of the bet with the given id.
func (h *House) Bet(betID uint64) (Bet, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	bet, ok := h.bets[betID]
	if !ok {
		return Bet{}, false
	}
	return *bet, true
}

// OpenBets counts bets that are not yet terminal.
func (h *House) OpenBets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, bet := range h.bets {
		if !bet.State.Terminal() {
			count++
		}
	}
	return count
}

// Snapshot captures the full durable state under the house mutex.
func (h *House) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := Snapshot{
		ID:            h.id,
		Address:       h.address,
		Owner:         h.owner,
		Tracker:       h.tracker,
		Running:       h.running,
		Registered:    h.registered,
		Config:        h.config,
		Allocations:   append([]fees.Allocation(nil), h.allocations...),
		AccruedFee:    h.accruedFee,
		TotalLocked:   h.ledger.TotalLocked(),
		LockedByGames: h.ledger.LockedByGames(),
		Statistics:    h.statistics,
	}
	for id := uint64(1); id <= h.nextBetID; id++ {
		if bet, ok := h.bets[id]; ok {
			snapshot.Bets = append(snapshot.Bets, *bet)
		}
	}
	return snapshot
}

// SetAllocations atomically replaces the fee allocator list.
func (h *House) SetAllocations(allocations []fees.Allocation) error {
	if err := fees.ValidateAllocations(allocations); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocations = append([]fees.Allocation(nil), allocations...)
	return nil
}

// SetRunning toggles the running flag. Registry only.
func (h *House) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// SetRegistered marks the house registered. Registry only.
func (h *House) SetRegistered() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registered = true
}

// MarkDeregistered flips the house to the deregistered fund-accounting
// policy and stops the game. Open bets stay resolvable. Returns false
// when the house is already deregistered, so racing registry callers
// resolve to exactly one winner. Registry only.
func (h *House) MarkDeregistered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered {
		return false
	}
	h.registered = false
	h.running = false
	h.ledger.SetDeregistered()
	return true
}

// SetAccruedFee restores the accumulated-fee counter on a migration
// successor. Registry only.
func (h *House) SetAccruedFee(amount int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accruedFee = amount
}

// Deposit pulls capital from a depositor into the house fund pool. The
// depositor must have approved the house address as spender.
func (h *House) Deposit(from string, amount int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if amount <= 0 {
		return fmt.Errorf("invalid deposit amount: %d", amount)
	}
	return h.asset.TransferFrom(h.address, from, h.address, amount)
}

// Withdraw moves free capital out of the house. Owner only.
func (h *House) Withdraw(caller, to string, amount int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if caller != h.owner {
		return fmt.Errorf("%w: %s is not the house owner", ErrUnauthorized, caller)
	}
	return h.withdrawLocked(to, amount)
}

// WithdrawAvailable drains all free capital to the given address.
// Registry only, used by admin-initiated unregistration and migration.
func (h *House) WithdrawAvailable(to string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	amount := h.ledger.AvailableFund()
	if amount <= 0 {
		return 0, nil
	}
	if err := h.withdrawLocked(to, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func (h *House) withdrawLocked(to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid withdraw amount: %d", amount)
	}
	if available := h.ledger.AvailableFund(); amount > available {
		return fmt.Errorf("%w: withdraw %d exceeds available %d", ledger.ErrInsufficientFunds, amount, available)
	}
	return h.asset.Transfer(h.address, to, amount)
}

func (h *House) publish(eventType events.Type, payload interface{}) {
	if h.sink == nil {
		return
	}
	h.sink.Publish(events.New(eventType, h.id, payload))
}
