package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/namisoft/coinflip/pkg/stats"
	"github.com/namisoft/coinflip/pkg/token"
)

var (
	ErrUntrustedFactory    = errors.New("untrusted house factory")
	ErrUntrustedProvider   = errors.New("untrusted randomness provider")
	ErrInsufficientDeposit = errors.New("initial deposit below minimum")
	ErrUnknownHouse        = errors.New("unknown house")
	ErrHouseNotRegistered  = errors.New("house is not registered")
	ErrUnauthorized        = errors.New("caller not authorized")
)

// Provider is a randomness provider the registry can administer: it
// exposes its trusted-consumer table so newly registered houses can be
// added as consumers.
type Provider interface {
	random.Provider
	TrustedConsumers() *random.TrustedConsumers
}

// HouseFactory creates houses. Only registry-vetted factories may be
// used for registration and migration.
type HouseFactory interface {
	Name() string
	CreateHouse(opts engine.NewHouseOptions) (*engine.House, error)
}

// StandardFactory builds plain engine houses.
type StandardFactory struct{}

func (StandardFactory) Name() string { return "standard" }

func (StandardFactory) CreateHouse(opts engine.NewHouseOptions) (*engine.House, error) {
	return engine.NewHouse(opts)
}

// TrackerRegistrar is the optional statistics-collaborator surface for
// creating tracker identities at house registration.
type TrackerRegistrar interface {
	RegisterTracker(tracker uuid.UUID)
}

// GameMaster is the multi-tenant coordinator: it vets factories and
// providers, enforces minimum initial capital, tracks the house set,
// routes operation fees to registry-level allocators, and orchestrates
// unregistration and migration.
type GameMaster struct {
	lock sync.RWMutex

	admin   string
	address string

	asset       token.Asset
	distributor *fees.Distributor
	collector   stats.Collector
	sink        events.Sink
	source      chain.Source

	allocations []fees.Allocation
	factories   map[string]HouseFactory
	providers   map[Provider]bool
	minDeposit  map[string]int64
	houses      map[uuid.UUID]*engine.House
}

type NewGameMasterOptions struct {
	Admin string
	// Address receives forwarded operation fees before redistribution.
	Address     string
	Asset       token.Asset
	Distributor *fees.Distributor
	Collector   stats.Collector
	Sink        events.Sink
	Source      chain.Source
	// Allocations are the registry-level fee allocators; they also act
	// as defaults copied to houses created without their own list.
	Allocations []fees.Allocation
}

func NewGameMaster(opts NewGameMasterOptions) (*GameMaster, error) {
	if err := fees.ValidateAllocations(opts.Allocations); err != nil {
		return nil, fmt.Errorf("invalid registry allocations: %w", err)
	}
	return &GameMaster{
		admin:       opts.Admin,
		address:     opts.Address,
		asset:       opts.Asset,
		distributor: opts.Distributor,
		collector:   opts.Collector,
		sink:        opts.Sink,
		source:      opts.Source,
		allocations: append([]fees.Allocation(nil), opts.Allocations...),
		factories:   make(map[string]HouseFactory),
		providers:   make(map[Provider]bool),
		minDeposit:  make(map[string]int64),
		houses:      make(map[uuid.UUID]*engine.House),
	}, nil
}

// AddTrustedFactory vets a house factory. Admin only.
func (gm *GameMaster) AddTrustedFactory(caller string, factory HouseFactory) error {
	if err := gm.requireAdmin(caller); err != nil {
		return err
	}
	gm.lock.Lock()
	defer gm.lock.Unlock()
	gm.factories[factory.Name()] = factory
	return nil
}

// AddTrustedProvider vets a randomness provider. Admin only.
func (gm *GameMaster) AddTrustedProvider(caller string, provider Provider) error {
	if err := gm.requireAdmin(caller); err != nil {
		return err
	}
	gm.lock.Lock()
	defer gm.lock.Unlock()
	gm.providers[provider] = true
	return nil
}

// SetMinInitialDeposit sets the minimum activation capital for a
// payment asset. Admin only.
func (gm *GameMaster) SetMinInitialDeposit(caller, assetSymbol string, amount int64) error {
	if err := gm.requireAdmin(caller); err != nil {
		return err
	}
	gm.lock.Lock()
	defer gm.lock.Unlock()
	gm.minDeposit[assetSymbol] = amount
	return nil
}

func (gm *GameMaster) requireAdmin(caller string) error {
	if caller != gm.admin {
		return fmt.Errorf("%w: %s is not the registry admin", ErrUnauthorized, caller)
	}
	return nil
}

// House returns a registered or historical house by id.
func (gm *GameMaster) House(houseID uuid.UUID) (*engine.House, bool) {
	gm.lock.RLock()
	defer gm.lock.RUnlock()
	house, ok := gm.houses[houseID]
	return house, ok
}

// Houses returns all houses the registry has ever created.
func (gm *GameMaster) Houses() []*engine.House {
	gm.lock.RLock()
	defer gm.lock.RUnlock()
	out := make([]*engine.House, 0, len(gm.houses))
	for _, house := range gm.houses {
		out = append(out, house)
	}
	return out
}

// IsHouseRegistered implements engine.Master.
func (gm *GameMaster) IsHouseRegistered(houseID uuid.UUID) bool {
	gm.lock.RLock()
	house, ok := gm.houses[houseID]
	gm.lock.RUnlock()
	return ok && house.IsRegistered()
}

// ReceiveOperationFee implements engine.Master: the forwarded fee lands
// on the registry address and is re-distributed to the registry-level
// allocators with the same rules houses use.
func (gm *GameMaster) ReceiveOperationFee(fromAddr string, amount int64) error {
	if err := gm.asset.Transfer(fromAddr, gm.address, amount); err != nil {
		return fmt.Errorf("failed to collect operation fee: %w", err)
	}

	gm.lock.RLock()
	allocations := gm.allocations
	gm.lock.RUnlock()

	if gm.distributor != nil && len(allocations) > 0 {
		if _, err := gm.distributor.Distribute(gm.address, amount, allocations); err != nil {
			log.Error("Failed to distribute operation fee: %v", err)
		}
	}
	return nil
}
