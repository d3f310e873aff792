package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/namisoft/coinflip/pkg/token"
)

var (
	// ErrInsufficientFunds is returned when a lock exceeds the free capital.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrExcessRelease is returned when a release exceeds the held lock.
	ErrExcessRelease = errors.New("release exceeds locked funds")
)

// Ledger tracks the two-tier fund reservation of a single house.
// totalLocked is capital the house has promised not to pay out for any
// reason; lockedByGames is the subset of it pledged to open bets.
// At all times 0 <= lockedByGames <= totalLocked <= asset balance.
type Ledger struct {
	lock          sync.RWMutex
	asset         token.Asset
	holder        string
	totalLocked   int64
	lockedByGames int64
	deregistered  bool
}

func New(asset token.Asset, holder string) *Ledger {
	return &Ledger{
		asset:  asset,
		holder: holder,
	}
}

// AvailableFund is the capital free to lock or withdraw. A registered
// house reserves its full totalLocked; a deregistered house must still
// honor open bets but may release any house-profit reservation early,
// so only lockedByGames stays excluded.
func (l *Ledger) AvailableFund() int64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.availableFund()
}

func (l *Ledger) availableFund() int64 {
	balance := l.asset.BalanceOf(l.holder)
	if l.deregistered {
		return balance - l.lockedByGames
	}
	return balance - l.totalLocked
}

// LockFund promotes free capital into the house reservation.
func (l *Ledger) LockFund(amount int64) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.lockFund(amount)
}

func (l *Ledger) lockFund(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative lock amount: %d", amount)
	}
	if available := l.availableFund(); amount > available {
		return fmt.Errorf("%w: lock %d exceeds available %d", ErrInsufficientFunds, amount, available)
	}
	l.totalLocked += amount
	return nil
}

// ReleaseFund returns reserved capital to the free pool.
func (l *Ledger) ReleaseFund(amount int64) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if amount < 0 {
		return fmt.Errorf("negative release amount: %d", amount)
	}
	if amount > l.totalLocked {
		return fmt.Errorf("%w: release %d exceeds total locked %d", ErrExcessRelease, amount, l.totalLocked)
	}
	l.totalLocked -= amount
	return nil
}

// LockFundByGame pledges reserved capital to an open bet, first
// promoting any shortfall from the free pool into the reservation.
func (l *Ledger) LockFundByGame(amount int64) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if amount < 0 {
		return fmt.Errorf("negative lock amount: %d", amount)
	}
	if headroom := l.totalLocked - l.lockedByGames; amount > headroom {
		if err := l.lockFund(amount - headroom); err != nil {
			return err
		}
	}
	l.lockedByGames += amount
	return nil
}

// ReleaseFundByGame releases a bet's pledge. The higher-tier reservation
// the pledge consumed is freed symmetrically.
func (l *Ledger) ReleaseFundByGame(amount int64) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if amount < 0 {
		return fmt.Errorf("negative release amount: %d", amount)
	}
	if amount > l.lockedByGames {
		return fmt.Errorf("%w: release %d exceeds game locked %d", ErrExcessRelease, amount, l.lockedByGames)
	}
	l.lockedByGames -= amount
	l.totalLocked -= amount
	return nil
}

// SetDeregistered switches the available-fund rule to the deregistered
// policy. It is never switched back.
func (l *Ledger) SetDeregistered() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.deregistered = true
}

func (l *Ledger) Deregistered() bool {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.deregistered
}

func (l *Ledger) TotalLocked() int64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.totalLocked
}

func (l *Ledger) LockedByGames() int64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.lockedByGames
}

// Restore reinstates persisted lock counters on startup.
func (l *Ledger) Restore(totalLocked, lockedByGames int64, deregistered bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.totalLocked = totalLocked
	l.lockedByGames = lockedByGames
	l.deregistered = deregistered
}
