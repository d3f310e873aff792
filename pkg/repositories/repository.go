package repositories

import (
	"context"

	"github.com/namisoft/coinflip/pkg/repositories/models"
)

type Repository interface {
	Close(ctx context.Context) error
	SaveHouseState(ctx context.Context, house *models.House, bets []*models.Bet) error
	LoadHouseState(ctx context.Context, houseID string) (*models.House, []*models.Bet, error)
	ListHouseIDs(ctx context.Context) ([]string, error)
	AppendEvent(ctx context.Context, event *models.Event) error
	LoadEvents(ctx context.Context, houseID string, limit int) ([]*models.Event, error)
}
