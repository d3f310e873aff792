package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/namisoft/coinflip/pkg/repositories/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveHouseState(ctx context.Context, house *models.House, bets []*models.Bet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	q := `
	INSERT OR REPLACE INTO houses (house_id, address, owner, tracker, running, registered,
		config, allocations, accrued_fee, total_locked, locked_by_games,
		bet_volume, payout_volume, finalized_games, canceled_games, unique_players, saved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = tx.ExecContext(ctx, q, house.ID, house.Address, house.Owner, house.Tracker,
		house.Running, house.Registered, house.Config, house.Allocations,
		house.AccruedFee, house.TotalLocked, house.LockedByGames,
		house.BetVolume, house.PayoutVolume, house.FinalizedGames,
		house.CanceledGames, house.UniquePlayers, house.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to insert house: %v", err)
	}

	for _, bet := range bets {
		q := `
		INSERT OR REPLACE INTO bets (house_id, bet_id, player, amount, side, resolved_side,
			state, placed_block, request_id, random_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`
		_, err = tx.ExecContext(ctx, q, bet.HouseID, bet.BetID, bet.Player, bet.Amount,
			bet.Side, bet.ResolvedSide, bet.State, bet.PlacedBlock,
			bet.RequestID, bet.RandomValue)
		if err != nil {
			return fmt.Errorf("failed to insert bet: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) LoadHouseState(ctx context.Context, houseID string) (*models.House, []*models.Bet, error) {
	q := `
	SELECT house_id, address, owner, tracker, running, registered,
		config, allocations, accrued_fee, total_locked, locked_by_games,
		bet_volume, payout_volume, finalized_games, canceled_games, unique_players, saved_at
	FROM houses WHERE house_id = ?;
	`
	house := &models.House{}
	err := r.db.QueryRowContext(ctx, q, houseID).Scan(&house.ID, &house.Address,
		&house.Owner, &house.Tracker, &house.Running, &house.Registered,
		&house.Config, &house.Allocations, &house.AccruedFee,
		&house.TotalLocked, &house.LockedByGames, &house.BetVolume,
		&house.PayoutVolume, &house.FinalizedGames, &house.CanceledGames,
		&house.UniquePlayers, &house.SavedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, &ErrNotFound{HouseID: houseID}
		}
		return nil, nil, fmt.Errorf("failed to scan house: %v", err)
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT house_id, bet_id, player, amount, side, resolved_side,
		state, placed_block, request_id, random_value
	FROM bets WHERE house_id = ? ORDER BY bet_id;
	`, houseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query bets: %v", err)
	}
	defer rows.Close()

	var bets []*models.Bet
	for rows.Next() {
		bet := &models.Bet{}
		if err := rows.Scan(&bet.HouseID, &bet.BetID, &bet.Player, &bet.Amount,
			&bet.Side, &bet.ResolvedSide, &bet.State, &bet.PlacedBlock,
			&bet.RequestID, &bet.RandomValue); err != nil {
			return nil, nil, fmt.Errorf("failed to scan bet: %v", err)
		}
		bets = append(bets, bet)
	}

	return house, bets, nil
}

func (r *SQLiteRepository) ListHouseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT house_id FROM houses")
	if err != nil {
		return nil, fmt.Errorf("failed to query houses: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan house id: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *SQLiteRepository) AppendEvent(ctx context.Context, event *models.Event) error {
	q := `
	INSERT INTO events (event_type, house_id, event_timestamp, payload)
	VALUES (?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, event.Type, event.HouseID, event.Timestamp, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert event: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadEvents(ctx context.Context, houseID string, limit int) ([]*models.Event, error) {
	q := `
	SELECT id, event_type, house_id, event_timestamp, payload
	FROM events WHERE house_id = ? ORDER BY id DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, houseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %v", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		if err := rows.Scan(&event.ID, &event.Type, &event.HouseID,
			&event.Timestamp, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %v", err)
		}
		events = append(events, event)
	}
	return events, nil
}
