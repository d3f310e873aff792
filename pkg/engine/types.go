package engine

import (
	"errors"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/fees"
)

var (
	ErrHouseNotRegistered = errors.New("house is not registered")
	ErrHouseNotRunning    = errors.New("house is not running")
	ErrProviderNotReady   = errors.New("randomness provider not ready")
	ErrInvalidSide        = errors.New("invalid side")
	ErrAmountOutOfRange   = errors.New("amount outside betable range")
	ErrUnknownBet         = errors.New("unknown bet")
	ErrInvalidState       = errors.New("bet not in expected state")
	ErrUnauthorized       = errors.New("caller not authorized")
	ErrCancelWindowOpen   = errors.New("cancellation window has not elapsed")
)

// Side is the two-valued coin face a player wagers on. The resolved
// side is the parity of the delivered random value.
type Side int

const (
	SideTails Side = iota
	SideHeads
)

func (s Side) Valid() bool {
	return s == SideTails || s == SideHeads
}

func (s Side) String() string {
	switch s {
	case SideTails:
		return "tails"
	case SideHeads:
		return "heads"
	default:
		return "unknown"
	}
}

// sideOf maps a random value to the resolved side by parity.
func sideOf(value uint64) Side {
	return Side(value % 2)
}

// BetState is the bet lifecycle state. Finalized and Canceled are
// terminal; a bet reaches exactly one of them, exactly once.
type BetState int

const (
	BetStatePending BetState = iota
	BetStateRandomnessFulfilled
	BetStateFinalized
	BetStateCanceled
)

func (s BetState) Terminal() bool {
	return s == BetStateFinalized || s == BetStateCanceled
}

func (s BetState) String() string {
	switch s {
	case BetStatePending:
		return "pending"
	case BetStateRandomnessFulfilled:
		return "randomness_fulfilled"
	case BetStateFinalized:
		return "finalized"
	case BetStateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Bet is one wager. IDs are monotonic from 1 and never reused. The
// stake lock of 2x amount is released exactly once regardless of
// outcome.
type Bet struct {
	ID           uint64   `json:"id"`
	Player       string   `json:"player"`
	Amount       int64    `json:"amount"`
	Side         Side     `json:"side"`
	ResolvedSide Side     `json:"resolved_side"`
	State        BetState `json:"state"`
	PlacedBlock  uint64   `json:"placed_block"`
	RequestID    uint64   `json:"request_id"`
	// RandomValue is 0 until delivery; 0 after delivery means a failed draw.
	RandomValue uint64 `json:"random_value"`
}

// Statistics is the per-house rolling aggregate, mutated only by bet
// transitions. All fields are full precision in the engine; the storage
// layer applies the lossy volume scale.
type Statistics struct {
	BetVolume      int64 `json:"bet_volume"`
	PayoutVolume   int64 `json:"payout_volume"`
	FinalizedGames int64 `json:"finalized_games"`
	CanceledGames  int64 `json:"canceled_games"`
	UniquePlayers  int64 `json:"unique_players"`
}

// Config is the per-house game configuration.
type Config struct {
	// FeePerBetBP and OperationFeePerBetBP are basis points of the
	// stake; together they may not exceed 10000.
	FeePerBetBP          int64 `json:"fee_per_bet_bp"`
	OperationFeePerBetBP int64 `json:"operation_fee_per_bet_bp"`
	MinBet               int64 `json:"min_bet"`
	MaxBet               int64 `json:"max_bet"`
	// CancelWindowBlocks is how many blocks after placement a player
	// must wait before canceling an unfulfilled bet. It should exceed
	// the provider's own failure horizon.
	CancelWindowBlocks uint64 `json:"cancel_window_blocks"`
	// ResolveOnFulfill settles the bet synchronously inside the
	// randomness callback. When false, settlement waits for an explicit
	// FinalizeGame call, keeping the callback's side-effect budget
	// small.
	ResolveOnFulfill bool `json:"resolve_on_fulfill"`
}

// Snapshot is a consistent copy of a house's durable state, exposed for
// persistence and audit.
type Snapshot struct {
	ID            uuid.UUID         `json:"id"`
	Address       string            `json:"address"`
	Owner         string            `json:"owner"`
	Tracker       uuid.UUID         `json:"tracker"`
	Running       bool              `json:"running"`
	Registered    bool              `json:"registered"`
	Config        Config            `json:"config"`
	Allocations   []fees.Allocation `json:"allocations"`
	AccruedFee    int64             `json:"accrued_fee"`
	TotalLocked   int64             `json:"total_locked"`
	LockedByGames int64             `json:"locked_by_games"`
	Statistics    Statistics        `json:"statistics"`
	Bets          []Bet             `json:"bets"`
}
