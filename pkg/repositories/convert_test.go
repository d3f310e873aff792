package repositories

import (
	"testing"

	"github.com/google/uuid"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/repositories/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHouseRecordsRoundTrip(t *testing.T) {
	snapshot := engine.Snapshot{
		ID:         uuid.New(),
		Address:    "house-1",
		Owner:      "owner-1",
		Tracker:    uuid.New(),
		Running:    true,
		Registered: true,
		Config: engine.Config{
			FeePerBetBP:          100,
			OperationFeePerBetBP: 50,
			MinBet:               1,
			MaxBet:               1000,
			CancelWindowBlocks:   300,
		},
		Allocations:   []fees.Allocation{{Target: "treasury", ShareBP: 5000}},
		AccruedFee:    250,
		TotalLocked:   600,
		LockedByGames: 600,
		Statistics: engine.Statistics{
			BetVolume:      7 * models.VolumeScale,
			PayoutVolume:   3 * models.VolumeScale,
			FinalizedGames: 12,
			CanceledGames:  2,
			UniquePlayers:  5,
		},
		Bets: []engine.Bet{
			{
				ID:          3,
				Player:      "player-1",
				Amount:      100,
				Side:        engine.SideHeads,
				State:       engine.BetStatePending,
				PlacedBlock: 40,
				RequestID:   9,
			},
		},
	}

	house, bets, err := HouseRecords(snapshot)
	require.NoError(t, err)
	require.Len(t, bets, 1)
	assert.Equal(t, int64(7), house.BetVolume)
	assert.Equal(t, int64(3), house.PayoutVolume)

	restored, err := HouseSnapshot(house, bets)
	require.NoError(t, err)
	assert.Equal(t, snapshot, restored)
}

func TestHouseRecordsVolumeIsLossy(t *testing.T) {
	snapshot := engine.Snapshot{
		ID:      uuid.New(),
		Tracker: uuid.New(),
		Statistics: engine.Statistics{
			BetVolume: 2*models.VolumeScale + 12345,
		},
	}

	house, bets, err := HouseRecords(snapshot)
	require.NoError(t, err)

	restored, err := HouseSnapshot(house, bets)
	require.NoError(t, err)
	assert.Equal(t, int64(2*models.VolumeScale), restored.Statistics.BetVolume)
}

func TestEventRecordRoundTrip(t *testing.T) {
	event := events.New(events.TypeBetFinalized, uuid.New(), map[string]interface{}{
		"bet_id": 7,
		"payout": 993,
	})

	record := EventRecord(event)
	assert.Equal(t, "bet_finalized", record.Type)
	assert.NotEqual(t, []byte(event.Payload), record.Payload)

	decoded, err := DecodeEvent(record)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}
