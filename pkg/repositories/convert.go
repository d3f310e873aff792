package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/repositories/models"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// HouseRecords converts a house snapshot into storage records. Volumes
// are scaled down lossily; everything else round-trips exactly.
func HouseRecords(snapshot engine.Snapshot) (*models.House, []*models.Bet, error) {
	configJSON, err := json.Marshal(snapshot.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal config: %v", err)
	}
	allocationsJSON, err := json.Marshal(snapshot.Allocations)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal allocations: %v", err)
	}

	house := &models.House{
		ID:             snapshot.ID.String(),
		Address:        snapshot.Address,
		Owner:          snapshot.Owner,
		Tracker:        snapshot.Tracker.String(),
		Running:        snapshot.Running,
		Registered:     snapshot.Registered,
		Config:         configJSON,
		Allocations:    allocationsJSON,
		AccruedFee:     snapshot.AccruedFee,
		TotalLocked:    snapshot.TotalLocked,
		LockedByGames:  snapshot.LockedByGames,
		BetVolume:      models.EncodeVolume(snapshot.Statistics.BetVolume),
		PayoutVolume:   models.EncodeVolume(snapshot.Statistics.PayoutVolume),
		FinalizedGames: snapshot.Statistics.FinalizedGames,
		CanceledGames:  snapshot.Statistics.CanceledGames,
		UniquePlayers:  snapshot.Statistics.UniquePlayers,
		SavedAt:        time.Now().UnixMilli(),
	}

	bets := make([]*models.Bet, 0, len(snapshot.Bets))
	for _, bet := range snapshot.Bets {
		bets = append(bets, &models.Bet{
			HouseID:      house.ID,
			BetID:        int64(bet.ID),
			Player:       bet.Player,
			Amount:       bet.Amount,
			Side:         int(bet.Side),
			ResolvedSide: int(bet.ResolvedSide),
			State:        int(bet.State),
			PlacedBlock:  int64(bet.PlacedBlock),
			RequestID:    int64(bet.RequestID),
			RandomValue:  int64(bet.RandomValue),
		})
	}
	return house, bets, nil
}

// HouseSnapshot rebuilds a snapshot from storage records.
func HouseSnapshot(house *models.House, bets []*models.Bet) (engine.Snapshot, error) {
	id, err := uuid.Parse(house.ID)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to parse house id: %v", err)
	}
	tracker, err := uuid.Parse(house.Tracker)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to parse tracker: %v", err)
	}
	var config engine.Config
	if err := json.Unmarshal(house.Config, &config); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to unmarshal config: %v", err)
	}
	var allocations []fees.Allocation
	if err := json.Unmarshal(house.Allocations, &allocations); err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to unmarshal allocations: %v", err)
	}

	snapshot := engine.Snapshot{
		ID:            id,
		Address:       house.Address,
		Owner:         house.Owner,
		Tracker:       tracker,
		Running:       house.Running,
		Registered:    house.Registered,
		Config:        config,
		Allocations:   allocations,
		AccruedFee:    house.AccruedFee,
		TotalLocked:   house.TotalLocked,
		LockedByGames: house.LockedByGames,
		Statistics: engine.Statistics{
			BetVolume:      models.DecodeVolume(house.BetVolume),
			PayoutVolume:   models.DecodeVolume(house.PayoutVolume),
			FinalizedGames: house.FinalizedGames,
			CanceledGames:  house.CanceledGames,
			UniquePlayers:  house.UniquePlayers,
		},
	}

	for _, bet := range bets {
		snapshot.Bets = append(snapshot.Bets, engine.Bet{
			ID:           uint64(bet.BetID),
			Player:       bet.Player,
			Amount:       bet.Amount,
			Side:         engine.Side(bet.Side),
			ResolvedSide: engine.Side(bet.ResolvedSide),
			State:        engine.BetState(bet.State),
			PlacedBlock:  uint64(bet.PlacedBlock),
			RequestID:    uint64(bet.RequestID),
			RandomValue:  uint64(bet.RandomValue),
		})
	}
	return snapshot, nil
}

// EventRecord converts an event into its audit-log record with a
// zstd-compressed payload.
func EventRecord(event events.Event) *models.Event {
	return &models.Event{
		Type:      string(event.Type),
		HouseID:   event.HouseID.String(),
		Timestamp: event.Timestamp,
		Payload:   zstdEncoder.EncodeAll(event.Payload, nil),
	}
}

// DecodeEvent inflates an audit-log record back into an event.
func DecodeEvent(record *models.Event) (events.Event, error) {
	houseID, err := uuid.Parse(record.HouseID)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to parse house id: %v", err)
	}
	payload, err := zstdDecoder.DecodeAll(record.Payload, nil)
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to decompress payload: %v", err)
	}
	return events.Event{
		Type:      events.Type(record.Type),
		HouseID:   houseID,
		Timestamp: record.Timestamp,
		Payload:   payload,
	}, nil
}
