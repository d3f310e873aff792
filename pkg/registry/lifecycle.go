package registry

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/log"
)

// RegisterHouseRequest describes a house to be created and activated.
type RegisterHouseRequest struct {
	Owner   string
	Address string
	// Provider must be registry-vetted.
	Provider Provider
	Config   engine.Config
	// Allocations defaults to the registry-level list when empty.
	Allocations []fees.Allocation
	// InitialDeposit is pulled from the owner, who must have approved
	// the registry address as spender.
	InitialDeposit int64
	// Tracker binds the house to an existing identity; zero means a
	// fresh one. Migration uses this to keep statistics continuity.
	Tracker uuid.UUID
}

// RegisterHouse creates a house via a trusted factory, funds it with
// the owner's initial deposit, and activates it.
func (gm *GameMaster) RegisterHouse(factoryName string, req RegisterHouseRequest) (*engine.House, error) {
	gm.lock.Lock()
	defer gm.lock.Unlock()

	factory, ok := gm.factories[factoryName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedFactory, factoryName)
	}
	if !gm.providers[req.Provider] {
		return nil, ErrUntrustedProvider
	}
	if min := gm.minDeposit[gm.asset.Symbol()]; req.InitialDeposit < min {
		return nil, fmt.Errorf("%w: %d below %d for %s", ErrInsufficientDeposit, req.InitialDeposit, min, gm.asset.Symbol())
	}

	allocations := req.Allocations
	if len(allocations) == 0 {
		allocations = append([]fees.Allocation(nil), gm.allocations...)
	}

	house, err := factory.CreateHouse(engine.NewHouseOptions{
		Address:     req.Address,
		Owner:       req.Owner,
		Tracker:     req.Tracker,
		Asset:       gm.asset,
		Provider:    req.Provider,
		Distributor: gm.distributor,
		Collector:   gm.collector,
		Sink:        gm.sink,
		Source:      gm.source,
		Master:      gm,
		Config:      req.Config,
		Allocations: allocations,
	})
	if err != nil {
		return nil, fmt.Errorf("factory %s failed: %w", factoryName, err)
	}

	if req.InitialDeposit > 0 {
		if err := gm.asset.TransferFrom(gm.address, req.Owner, house.Address(), req.InitialDeposit); err != nil {
			return nil, fmt.Errorf("failed to pull initial deposit: %w", err)
		}
	}

	if registrar, ok := gm.collector.(TrackerRegistrar); ok {
		registrar.RegisterTracker(house.Tracker())
	}
	req.Provider.TrustedConsumers().Add(house.ConsumerID())

	house.SetRegistered()
	house.SetRunning(true)
	gm.houses[house.ID()] = house

	gm.publish(events.TypeHouseRegistered, house.ID(), map[string]interface{}{
		"owner":   house.Owner(),
		"address": house.Address(),
		"tracker": house.Tracker(),
	})
	log.Info("Registered house %s for owner %s", house.ID(), house.Owner())
	return house, nil
}

// UnregisterHouse deactivates a house. The owner leaves the funds in
// place to withdraw later; the admin force-withdraws all free capital
// to the given address. Open bets stay resolvable either way.
func (gm *GameMaster) UnregisterHouse(caller string, houseID uuid.UUID, withdrawTo string) error {
	// gm.lock is never held across a house call: settlement forwards
	// the operation fee while holding the house lock and then takes
	// gm.lock, so the reverse order would deadlock.
	gm.lock.RLock()
	house, ok := gm.houses[houseID]
	gm.lock.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHouse, houseID)
	}

	byAdmin := caller == gm.admin
	if !byAdmin && caller != house.Owner() {
		return fmt.Errorf("%w: %s may not unregister house %s", ErrUnauthorized, caller, houseID)
	}

	if !house.MarkDeregistered() {
		return fmt.Errorf("%w: %s", ErrHouseNotRegistered, houseID)
	}

	if byAdmin {
		withdrawn, err := house.WithdrawAvailable(withdrawTo)
		if err != nil {
			return fmt.Errorf("failed to force-withdraw house %s: %w", houseID, err)
		}
		log.Info("Force-withdrew %d from house %s to %s", withdrawn, houseID, withdrawTo)
	}

	gm.publish(events.TypeHouseUnregistered, houseID, map[string]interface{}{
		"by_admin": byAdmin,
	})
	return nil
}

// MigrateHouse creates a successor house bound to the predecessor's
// tracker identity, moves the free capital and fee configuration over,
// and deactivates the predecessor. Open bets are not moved: they remain
// resolvable against the predecessor only.
func (gm *GameMaster) MigrateHouse(caller string, houseID uuid.UUID, factoryName string, successorAddr string) (*engine.House, error) {
	// Same lock discipline as UnregisterHouse: registry-table lookups
	// under gm.lock, house calls outside it.
	gm.lock.RLock()
	predecessor, hasHouse := gm.houses[houseID]
	factory, hasFactory := gm.factories[factoryName]
	gm.lock.RUnlock()

	if !hasHouse {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHouse, houseID)
	}
	if !predecessor.IsRegistered() {
		return nil, fmt.Errorf("%w: %s", ErrHouseNotRegistered, houseID)
	}
	if caller != gm.admin && caller != predecessor.Owner() {
		return nil, fmt.Errorf("%w: %s may not migrate house %s", ErrUnauthorized, caller, houseID)
	}
	if !hasFactory {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedFactory, factoryName)
	}

	provider, ok := gm.providerOf(predecessor)
	if !ok {
		return nil, ErrUntrustedProvider
	}

	successor, err := factory.CreateHouse(engine.NewHouseOptions{
		Address: successorAddr,
		Owner:   predecessor.Owner(),
		// Identity-tracker continuity: statistics keyed by the tracker
		// survive the swap.
		Tracker:     predecessor.Tracker(),
		Asset:       gm.asset,
		Provider:    provider,
		Distributor: gm.distributor,
		Collector:   gm.collector,
		Sink:        gm.sink,
		Source:      gm.source,
		Master:      gm,
		Config:      predecessor.Config(),
		Allocations: predecessor.Allocations(),
	})
	if err != nil {
		return nil, fmt.Errorf("factory %s failed: %w", factoryName, err)
	}

	// The predecessor is taken atomically: a racing unregistration or
	// second migration loses here and the fresh successor is discarded
	// before anything references it.
	if !predecessor.MarkDeregistered() {
		return nil, fmt.Errorf("%w: %s", ErrHouseNotRegistered, houseID)
	}

	successor.SetAccruedFee(predecessor.AccruedFee())
	provider.TrustedConsumers().Add(successor.ConsumerID())
	successor.SetRegistered()
	successor.SetRunning(true)

	gm.lock.Lock()
	gm.houses[successor.ID()] = successor
	gm.lock.Unlock()

	// Deregistered accounting frees the predecessor's house-profit
	// reservation; only the open-bet pledges stay behind.
	moved, err := predecessor.WithdrawAvailable(successor.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to move capital to successor: %w", err)
	}

	gm.publish(events.TypeHouseMigrated, houseID, map[string]interface{}{
		"successor": successor.ID(),
		"moved":     moved,
	})
	log.Info("Migrated house %s to %s, moved %d", houseID, successor.ID(), moved)
	return successor, nil
}

// providerOf finds a vetted provider trusting the house as consumer.
func (gm *GameMaster) providerOf(house *engine.House) (Provider, bool) {
	gm.lock.RLock()
	defer gm.lock.RUnlock()
	for provider := range gm.providers {
		if provider.TrustedConsumers().IsTrusted(house.ConsumerID()) {
			return provider, true
		}
	}
	return nil, false
}

func (gm *GameMaster) publish(eventType events.Type, houseID uuid.UUID, payload interface{}) {
	if gm.sink == nil {
		return
	}
	gm.sink.Publish(events.New(eventType, houseID, payload))
}
