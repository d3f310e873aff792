package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/repositories"
)

// HouseSource is where the worker finds houses to persist. The registry
// implements it.
type HouseSource interface {
	House(houseID uuid.UUID) (*engine.House, bool)
	Houses() []*engine.House
}

type SaveStateWorker struct {
	repository         repositories.Repository
	saveHouseStateChan <-chan SaveHouseStateRequest
	houses             HouseSource
	interval           time.Duration
}

type NewSaveStateWorkerOptions struct {
	Repository         repositories.Repository
	SaveHouseStateChan <-chan SaveHouseStateRequest
	Houses             HouseSource
	Interval           time.Duration
}

type SaveHouseStateRequest struct {
	HouseID uuid.UUID
}

// NewSaveStateWorker creates a new SaveStateWorker.
// The worker processes targeted save requests and periodically saves
// every house snapshot to the repository.
func NewSaveStateWorker(opts NewSaveStateWorkerOptions) *SaveStateWorker {
	return &SaveStateWorker{
		repository:         opts.Repository,
		saveHouseStateChan: opts.SaveHouseStateChan,
		houses:             opts.Houses,
		interval:           opts.Interval,
	}
}

func (w *SaveStateWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case saveRequest := <-w.saveHouseStateChan:
			house, ok := w.houses.House(saveRequest.HouseID)
			if !ok {
				log.Error("Failed to save unknown house %s", saveRequest.HouseID)
				continue
			}
			w.saveHouse(ctx, house)
		case <-ticker.C:
			for _, house := range w.houses.Houses() {
				w.saveHouse(ctx, house)
			}
		}
	}
}

func (w *SaveStateWorker) saveHouse(ctx context.Context, house *engine.House) {
	record, bets, err := repositories.HouseRecords(house.Snapshot())
	if err != nil {
		log.Error("Failed to encode house %s: %v", house.ID(), err)
		return
	}
	if err := w.repository.SaveHouseState(ctx, record, bets); err != nil {
		log.Error("Failed to save house %s: %v", house.ID(), err)
	}
}
