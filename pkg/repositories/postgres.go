package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/repositories/models"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository connects to the database and panics on failure.
// The caller is responsible for calling Close() on the repository. The
// schema is expected to exist already.
func NewPostgresRepository(ctx context.Context, connStr string) Repository {
	return &PostgresRepository{
		conn: connectDb(ctx, connStr),
	}
}

func connectDb(ctx context.Context, connStr string) *pgx.Conn {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Unable to connect to database: %v\n", err))
	}

	var username string
	var database string
	err = conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		panic(fmt.Sprintf("Unable to query database: %v\n", err))
	}

	log.Info("Connected to %s as %s", database, username)

	return conn
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveHouseState(ctx context.Context, house *models.House, bets []*models.Bet) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	q := `
	INSERT INTO houses (house_id, address, owner, tracker, running, registered,
		config, allocations, accrued_fee, total_locked, locked_by_games,
		bet_volume, payout_volume, finalized_games, canceled_games, unique_players, saved_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (house_id) DO UPDATE SET
		address = $2, owner = $3, tracker = $4, running = $5, registered = $6,
		config = $7, allocations = $8, accrued_fee = $9, total_locked = $10,
		locked_by_games = $11, bet_volume = $12, payout_volume = $13,
		finalized_games = $14, canceled_games = $15, unique_players = $16, saved_at = $17;
	`
	_, err = tx.Exec(ctx, q, house.ID, house.Address, house.Owner, house.Tracker,
		house.Running, house.Registered, house.Config, house.Allocations,
		house.AccruedFee, house.TotalLocked, house.LockedByGames,
		house.BetVolume, house.PayoutVolume, house.FinalizedGames,
		house.CanceledGames, house.UniquePlayers, house.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert house: %v", err)
	}

	for _, bet := range bets {
		q := `
		INSERT INTO bets (house_id, bet_id, player, amount, side, resolved_side,
			state, placed_block, request_id, random_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (house_id, bet_id) DO UPDATE SET
			resolved_side = $6, state = $7, request_id = $9, random_value = $10;
		`
		_, err = tx.Exec(ctx, q, bet.HouseID, bet.BetID, bet.Player, bet.Amount,
			bet.Side, bet.ResolvedSide, bet.State, bet.PlacedBlock,
			bet.RequestID, bet.RandomValue)
		if err != nil {
			return fmt.Errorf("failed to upsert bet: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

func (r *PostgresRepository) LoadHouseState(ctx context.Context, houseID string) (*models.House, []*models.Bet, error) {
	q := `
	SELECT house_id, address, owner, tracker, running, registered,
		config, allocations, accrued_fee, total_locked, locked_by_games,
		bet_volume, payout_volume, finalized_games, canceled_games, unique_players, saved_at
	FROM houses WHERE house_id = $1;
	`
	house := &models.House{}
	err := r.conn.QueryRow(ctx, q, houseID).Scan(&house.ID, &house.Address,
		&house.Owner, &house.Tracker, &house.Running, &house.Registered,
		&house.Config, &house.Allocations, &house.AccruedFee,
		&house.TotalLocked, &house.LockedByGames, &house.BetVolume,
		&house.PayoutVolume, &house.FinalizedGames, &house.CanceledGames,
		&house.UniquePlayers, &house.SavedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, &ErrNotFound{HouseID: houseID}
		}
		return nil, nil, fmt.Errorf("failed to scan house: %v", err)
	}

	rows, err := r.conn.Query(ctx, `
	SELECT house_id, bet_id, player, amount, side, resolved_side,
		state, placed_block, request_id, random_value
	FROM bets WHERE house_id = $1 ORDER BY bet_id;
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

func (r *PostgresRepository) ListHouseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, "SELECT house_id FROM houses")
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

func (r *PostgresRepository) AppendEvent(ctx context.Context, event *models.Event) error {
	q := `
	INSERT INTO events (event_type, house_id, event_timestamp, payload)
	VALUES ($1, $2, $3, $4);
	`
	_, err := r.conn.Exec(ctx, q, event.Type, event.HouseID, event.Timestamp, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert event: %v", err)
	}
	return nil
}

func (r *PostgresRepository) LoadEvents(ctx context.Context, houseID string, limit int) ([]*models.Event, error) {
	q := `
	SELECT id, event_type, house_id, event_timestamp, payload
	FROM events WHERE house_id = $1 ORDER BY id DESC LIMIT $2;
	`
	rows, err := r.conn.Query(ctx, q, houseID, limit)
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
