package fees

import (
	"errors"
	"fmt"

	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/token"
)

// BasisPointDenominator is the fee unit scale: 10000 bp = 100%.
const BasisPointDenominator = 10000

var (
	// ErrZeroShare is returned for allocations with no share.
	ErrZeroShare = errors.New("allocation share is zero")
	// ErrSharesExceedTotal is returned when allocation shares sum past 10000 bp.
	ErrSharesExceedTotal = errors.New("allocation shares exceed 10000 bp")
)

// Allocation routes a basis-point share of a fee to a target address.
type Allocation struct {
	Target  string `json:"target"`
	ShareBP int64  `json:"share_bp"`
}

// ValidateAllocations checks an allocation list at configuration time.
// Shares need not sum to 10000; the remainder is implicitly retained by
// the house.
func ValidateAllocations(allocations []Allocation) error {
	var total int64
	for _, a := range allocations {
		if a.ShareBP <= 0 {
			return fmt.Errorf("%w: target %s", ErrZeroShare, a.Target)
		}
		total += a.ShareBP
	}
	if total > BasisPointDenominator {
		return fmt.Errorf("%w: %d", ErrSharesExceedTotal, total)
	}
	return nil
}

// Recipient reacts to an incoming fee share. Only recipients flagged
// trusted are notified, and only best-effort.
type Recipient interface {
	OnFeeReceived(from string, amount int64) error
}

// Converter turns a base-asset fee share into a staked, yield-bearing
// position instead of a plain transfer.
type Converter interface {
	Stake(from, target string, amount int64) error
}

// Distributor splits fee amounts across allocation lists.
type Distributor struct {
	asset         token.Asset
	trusted       map[string]Recipient
	converter     Converter
	convertTarget string
}

type NewDistributorOptions struct {
	Asset token.Asset
	// Converter handles the stake-conversion path for ConvertTarget.
	Converter     Converter
	ConvertTarget string
}

func NewDistributor(opts NewDistributorOptions) *Distributor {
	return &Distributor{
		asset:         opts.Asset,
		trusted:       make(map[string]Recipient),
		converter:     opts.Converter,
		convertTarget: opts.ConvertTarget,
	}
}

// SetTrustedRecipient flags a target for best-effort notification after
// each transfer to it.
func (d *Distributor) SetTrustedRecipient(target string, recipient Recipient) {
	d.trusted[target] = recipient
}

// Distribute pays each allocation its share of amount, in list order,
// from the given holder. Returns the total paid out; the remainder
// stays with the holder. A misbehaving recipient can never block the
// distribution: the post-transfer notification is best-effort only.
func (d *Distributor) Distribute(from string, amount int64, allocations []Allocation) (int64, error) {
	var distributed int64
	for _, allocation := range allocations {
		share := amount * allocation.ShareBP / BasisPointDenominator
		if share <= 0 {
			continue
		}

		if d.converter != nil && allocation.Target == d.convertTarget {
			if err := d.converter.Stake(from, allocation.Target, share); err != nil {
				return distributed, fmt.Errorf("stake conversion for %s failed: %w", allocation.Target, err)
			}
		} else {
			if err := d.asset.Transfer(from, allocation.Target, share); err != nil {
				return distributed, fmt.Errorf("fee transfer to %s failed: %w", allocation.Target, err)
			}
		}
		distributed += share

		if recipient, ok := d.trusted[allocation.Target]; ok {
			// Failure is intentionally discarded.
			_ = notifyRecipient(recipient, allocation.Target, from, share)
		}
	}
	return distributed, nil
}

// notifyRecipient is the explicit notify-and-ignore-failure helper: the
// returned boolean makes the don't-propagate contract visible at the
// call site.
func notifyRecipient(recipient Recipient, target, from string, amount int64) (notified bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Fee recipient %s panicked on notification: %v", target, r)
			notified = false
		}
	}()
	if err := recipient.OnFeeReceived(from, amount); err != nil {
		log.Warn("Fee recipient %s rejected notification: %v", target, err)
		return false
	}
	return true
}
