package token

import (
	"fmt"
	"sync"
)

// InMemoryAsset is an in-process Asset with per-holder balances and
// spender allowances.
type InMemoryAsset struct {
	symbol     string
	lock       sync.RWMutex
	balances   map[string]int64
	allowances map[string]map[string]int64
}

func NewInMemoryAsset(symbol string) *InMemoryAsset {
	return &InMemoryAsset{
		symbol:     symbol,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

func (a *InMemoryAsset) Symbol() string {
	return a.symbol
}

// Mint credits newly issued units to a holder.
func (a *InMemoryAsset) Mint(holder string, amount int64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.balances[holder] += amount
}

func (a *InMemoryAsset) BalanceOf(holder string) int64 {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.balances[holder]
}

func (a *InMemoryAsset) Transfer(from, to string, amount int64) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.transfer(from, to, amount)
}

func (a *InMemoryAsset) TransferFrom(spender, from, to string, amount int64) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if spender != from {
		allowed := a.allowances[from][spender]
		if allowed < amount {
			return fmt.Errorf("%w: %s allowed %d of %d from %s", ErrInsufficientAllowance, spender, allowed, amount, from)
		}
		a.allowances[from][spender] = allowed - amount
	}

	return a.transfer(from, to, amount)
}

func (a *InMemoryAsset) Approve(holder, spender string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative allowance: %d", amount)
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.allowances[holder] == nil {
		a.allowances[holder] = make(map[string]int64)
	}
	a.allowances[holder][spender] = amount
	return nil
}

func (a *InMemoryAsset) transfer(from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer amount: %d", amount)
	}
	if a.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d of %d", ErrInsufficientBalance, from, a.balances[from], amount)
	}
	a.balances[from] -= amount
	a.balances[to] += amount
	return nil
}
