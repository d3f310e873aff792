package stats

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/log"
)

// ErrUnknownTracker is returned when the identity check on a tracker fails.
var ErrUnknownTracker = errors.New("unknown tracker")

// Collector receives per-player game notifications keyed by the tracker
// identity a house is bound to. Lifetime player statistics survive house
// migrations because the successor house keeps the tracker identity.
type Collector interface {
	UpdateGameData(tracker uuid.UUID, player string, isNewGame, isWinner bool, amountIn, amountOut int64) error
}

// Notify is the fire-and-forget delivery used inside bet transitions: a
// failed identity check or a misbehaving collector must never fail the
// transition. The boolean result exists so that callers discard it on
// purpose rather than implicitly.
func Notify(c Collector, tracker uuid.UUID, player string, isNewGame, isWinner bool, amountIn, amountOut int64) bool {
	if c == nil {
		return false
	}
	if err := c.UpdateGameData(tracker, player, isNewGame, isWinner, amountIn, amountOut); err != nil {
		log.Warn("Player stats update dropped for tracker %s: %v", tracker, err)
		return false
	}
	return true
}

// PlayerRecord is the lifetime aggregate kept per (tracker, player).
type PlayerRecord struct {
	Games     int64
	Wins      int64
	AmountIn  int64
	AmountOut int64
}

// InMemoryCollector keeps player records per tracker identity.
type InMemoryCollector struct {
	lock     sync.RWMutex
	trackers map[uuid.UUID]map[string]*PlayerRecord
}

func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		trackers: make(map[uuid.UUID]map[string]*PlayerRecord),
	}
}

// RegisterTracker creates a tracker identity. Updates for unregistered
// trackers fail the identity check.
func (c *InMemoryCollector) RegisterTracker(tracker uuid.UUID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.trackers[tracker]; !ok {
		c.trackers[tracker] = make(map[string]*PlayerRecord)
	}
}

func (c *InMemoryCollector) UpdateGameData(tracker uuid.UUID, player string, isNewGame, isWinner bool, amountIn, amountOut int64) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	players, ok := c.trackers[tracker]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTracker, tracker)
	}

	record, ok := players[player]
	if !ok {
		record = &PlayerRecord{}
		players[player] = record
	}
	if isNewGame {
		record.Games++
	}
	if isWinner {
		record.Wins++
	}
	record.AmountIn += amountIn
	record.AmountOut += amountOut
	return nil
}

// PlayerStats returns a copy of the record for a player under a tracker.
func (c *InMemoryCollector) PlayerStats(tracker uuid.UUID, player string) (PlayerRecord, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	players, ok := c.trackers[tracker]
	if !ok {
		return PlayerRecord{}, false
	}
	record, ok := players[player]
	if !ok {
		return PlayerRecord{}, false
	}
	return *record, true
}
