package engine

import (
	"fmt"

	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/extensions"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/stats"
)

// BetableRange derives the currently accepted stake bounds from the
// free-to-lock capital. A win pays out double the stake, so the house
// must be able to reserve 2x amount: below 2x min betting is closed,
// below 2x max the ceiling is capped at half the free capital.
func (h *House) BetableRange() (min, max int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.betableRange()
}

func (h *House) betableRange() (min, max int64) {
	free := h.ledger.AvailableFund()
	if free < 2*h.config.MinBet {
		return 0, 0
	}
	if free < 2*h.config.MaxBet {
		return h.config.MinBet, free / 2
	}
	return h.config.MinBet, h.config.MaxBet
}

// PlaceBet validates the wager, pulls the stake, locks 2x amount
// against house liquidity, requests randomness and records the bet in
// Pending state. The stake is pulled and locked before the provider
// call so a reentrant callee can never double-spend the lock.
func (h *House) PlaceBet(player string, amount int64, side Side, clientSeed uint64) (Bet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registered {
		return Bet{}, ErrHouseNotRegistered
	}
	if !h.running {
		return Bet{}, ErrHouseNotRunning
	}
	if !side.Valid() {
		return Bet{}, fmt.Errorf("%w: %d", ErrInvalidSide, side)
	}
	if !h.provider.IsReady() {
		return Bet{}, ErrProviderNotReady
	}
	min, max := h.betableRange()
	if max == 0 || amount < min || amount > max {
		return Bet{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amount, min, max)
	}

	ctx := extensions.Context{
		HouseID: h.id,
		BetID:   h.nextBetID + 1,
		Player:  player,
		Amount:  amount,
		Side:    int(side),
	}
	if err := h.dispatcher.NotifyBefore(extensions.BeforeBet, ctx); err != nil {
		return Bet{}, err
	}

	if err := h.asset.TransferFrom(h.address, player, h.address, amount); err != nil {
		return Bet{}, fmt.Errorf("failed to pull stake: %w", err)
	}
	if err := h.ledger.LockFundByGame(2 * amount); err != nil {
		h.refund(player, amount)
		return Bet{}, err
	}

	requestID, err := h.provider.RequestRandomNumber(h, clientSeed)
	if err != nil || requestID == 0 {
		if releaseErr := h.ledger.ReleaseFundByGame(2 * amount); releaseErr != nil {
			log.Error("Failed to release lock after randomness request failure: %v", releaseErr)
		}
		h.refund(player, amount)
		if err == nil {
			err = ErrProviderNotReady
		}
		return Bet{}, fmt.Errorf("%w: %v", ErrProviderNotReady, err)
	}

	h.nextBetID++
	bet := &Bet{
		ID:          h.nextBetID,
		Player:      player,
		Amount:      amount,
		Side:        side,
		State:       BetStatePending,
		PlacedBlock: h.source.CurrentBlock(),
		RequestID:   requestID,
	}
	h.bets[bet.ID] = bet
	h.requests[requestID] = bet.ID

	isNewPlayer := !h.players[player]
	h.players[player] = true
	if isNewPlayer {
		h.statistics.UniquePlayers++
	}
	h.statistics.BetVolume += amount

	// Every placement opens a new game for the lifetime player record;
	// isNewPlayer only feeds the house-level unique-player counter.
	_ = stats.Notify(h.collector, h.tracker, player, true, false, amount, 0)
	h.publish(events.TypeBetPlaced, *bet)
	h.dispatcher.NotifyAfter(extensions.AfterBet, ctx)

	return *bet, nil
}

// FulfillRandomness is the provider callback. Redelivery and races with
// settlement make unknown or already-resolved requests a silent no-op,
// never an error. A value of 0 signals a failed draw and cancels the
// bet with a full refund.
func (h *House) FulfillRandomness(requestID uint64, value uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	betID, ok := h.requests[requestID]
	if !ok {
		log.Debug("Dropping fulfillment for unknown request %d", requestID)
		return
	}
	bet := h.bets[betID]
	if bet.State != BetStatePending {
		log.Debug("Dropping fulfillment for bet %d in state %s", betID, bet.State)
		return
	}

	if value == 0 {
		if err := h.cancelLocked(bet); err != nil {
			log.Error("Failed to cancel bet %d on failed draw: %v", betID, err)
		}
		return
	}

	bet.RandomValue = value
	bet.State = BetStateRandomnessFulfilled
	h.publish(events.TypeRandomnessFulfilled, *bet)

	if h.config.ResolveOnFulfill {
		if err := h.finalizeLocked(bet); err != nil {
			log.Error("Failed to resolve bet %d in callback: %v", betID, err)
		}
	}
}

// FinalizeGame settles a bet whose randomness has been delivered but
// not yet resolved. Settlement happens exactly once per bet.
func (h *House) FinalizeGame(betID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bet, ok := h.bets[betID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBet, betID)
	}
	if bet.State != BetStateRandomnessFulfilled {
		return fmt.Errorf("%w: bet %d is %s", ErrInvalidState, betID, bet.State)
	}
	return h.finalizeLocked(bet)
}

func (h *House) finalizeLocked(bet *Bet) error {
	ctx := extensions.Context{
		HouseID: h.id,
		BetID:   bet.ID,
		Player:  bet.Player,
		Amount:  bet.Amount,
		Side:    int(bet.Side),
	}
	if err := h.dispatcher.NotifyBefore(extensions.BeforeFinalize, ctx); err != nil {
		return err
	}

	if err := h.ledger.ReleaseFundByGame(2 * bet.Amount); err != nil {
		return fmt.Errorf("failed to release game lock for bet %d: %w", bet.ID, err)
	}

	totalFee := bet.Amount * (h.config.FeePerBetBP + h.config.OperationFeePerBetBP) / fees.BasisPointDenominator
	operationFee := bet.Amount * h.config.OperationFeePerBetBP / fees.BasisPointDenominator
	houseFee := totalFee - operationFee

	bet.ResolvedSide = sideOf(bet.RandomValue)
	bet.State = BetStateFinalized
	won := bet.ResolvedSide == bet.Side

	var payout int64
	if won {
		payout = 2*bet.Amount - totalFee
		h.statistics.PayoutVolume += payout
	}
	h.statistics.FinalizedGames++
	h.accruedFee += houseFee

	// Interactions follow the state updates above.
	if won {
		if err := h.asset.Transfer(h.address, bet.Player, payout); err != nil {
			return fmt.Errorf("failed to pay out bet %d: %w", bet.ID, err)
		}
	}
	if operationFee > 0 && h.master != nil {
		if err := h.master.ReceiveOperationFee(h.address, operationFee); err != nil {
			log.Error("Failed to forward operation fee for bet %d: %v", bet.ID, err)
		}
	}
	if houseFee > 0 && h.distributor != nil {
		if _, err := h.distributor.Distribute(h.address, houseFee, h.allocations); err != nil {
			log.Error("Failed to distribute house fee for bet %d: %v", bet.ID, err)
		}
	}

	_ = stats.Notify(h.collector, h.tracker, bet.Player, false, won, 0, payout)
	h.publish(events.TypeBetFinalized, *bet)
	h.dispatcher.NotifyAfter(extensions.AfterFinalize, ctx)

	return nil
}

// CancelGame refunds a bet whose randomness never arrived. Only the
// bet's player may cancel, and only once the cancellation window has
// elapsed; a bet holding a valid random value must be resolved instead.
func (h *House) CancelGame(betID uint64, caller string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bet, ok := h.bets[betID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBet, betID)
	}
	if bet.State.Terminal() {
		return fmt.Errorf("%w: bet %d is %s", ErrInvalidState, betID, bet.State)
	}
	if bet.RandomValue != 0 {
		return fmt.Errorf("%w: bet %d holds a valid random value", ErrInvalidState, betID)
	}
	if caller != bet.Player {
		return fmt.Errorf("%w: %s is not the bet player", ErrUnauthorized, caller)
	}
	if current := h.source.CurrentBlock(); current <= bet.PlacedBlock+h.config.CancelWindowBlocks {
		return fmt.Errorf("%w: block %d, cancelable after %d", ErrCancelWindowOpen, current, bet.PlacedBlock+h.config.CancelWindowBlocks)
	}

	return h.cancelLocked(bet)
}

func (h *House) cancelLocked(bet *Bet) error {
	ctx := extensions.Context{
		HouseID: h.id,
		BetID:   bet.ID,
		Player:  bet.Player,
		Amount:  bet.Amount,
		Side:    int(bet.Side),
	}
	if err := h.dispatcher.NotifyBefore(extensions.BeforeCancel, ctx); err != nil {
		return err
	}

	if err := h.ledger.ReleaseFundByGame(2 * bet.Amount); err != nil {
		return fmt.Errorf("failed to release game lock for bet %d: %w", bet.ID, err)
	}

	bet.State = BetStateCanceled
	h.statistics.CanceledGames++

	if err := h.asset.Transfer(h.address, bet.Player, bet.Amount); err != nil {
		return fmt.Errorf("failed to refund bet %d: %w", bet.ID, err)
	}

	// The refund is recorded as amount-out so it nets to zero against
	// the stake recorded at placement.
	_ = stats.Notify(h.collector, h.tracker, bet.Player, false, false, 0, bet.Amount)
	h.publish(events.TypeBetCanceled, *bet)
	h.dispatcher.NotifyAfter(extensions.AfterCancel, ctx)

	return nil
}

func (h *House) refund(player string, amount int64) {
	if err := h.asset.Transfer(h.address, player, amount); err != nil {
		log.Error("Failed to refund %d to %s: %v", amount, player, err)
	}
}
