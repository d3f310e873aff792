package token

import "errors"

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Asset is the fungible payment-asset primitive the platform settles in.
// All amounts are in the asset's native integer unit.
type Asset interface {
	// Symbol identifies the asset for configuration keyed per payment asset.
	Symbol() string
	BalanceOf(holder string) int64
	Transfer(from, to string, amount int64) error
	TransferFrom(spender, from, to string, amount int64) error
	Approve(holder, spender string, amount int64) error
}
