package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/registry"
	"github.com/namisoft/coinflip/pkg/repositories"
)

// HouseSummary is the list-view projection of a house.
type HouseSummary struct {
	ID         uuid.UUID `json:"id"`
	Address    string    `json:"address"`
	Owner      string    `json:"owner"`
	Running    bool      `json:"running"`
	Registered bool      `json:"registered"`
}

func HandleListHouses(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		houses := gm.Houses()
		summaries := make([]HouseSummary, 0, len(houses))
		for _, house := range houses {
			summaries = append(summaries, HouseSummary{
				ID:         house.ID(),
				Address:    house.Address(),
				Owner:      house.Owner(),
				Running:    house.IsRunning(),
				Registered: house.IsRegistered(),
			})
		}
		writeJSON(w, summaries)
	}
}

func HandleGetHouse(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		writeJSON(w, house.Snapshot())
	}
}

// HouseStats is the statistics view with the live betable range.
type HouseStats struct {
	Statistics engine.Statistics `json:"statistics"`
	AccruedFee int64             `json:"accrued_fee"`
	MinBet     int64             `json:"min_bet"`
	MaxBet     int64             `json:"max_bet"`
}

func HandleGetHouseStats(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		min, max := house.BetableRange()
		writeJSON(w, HouseStats{
			Statistics: house.Statistics(),
			AccruedFee: house.AccruedFee(),
			MinBet:     min,
			MaxBet:     max,
		})
	}
}

type PlaceBetRequest struct {
	Player string      `json:"player"`
	Amount int64       `json:"amount"`
	Side   engine.Side `json:"side"`
	Seed   uint64      `json:"seed"`
}

func HandlePlaceBet(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		var req PlaceBetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}
		bet, err := house.PlaceBet(req.Player, req.Amount, req.Side, req.Seed)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, bet)
	}
}

func HandleGetBet(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		betID, ok := parseBetID(w, r)
		if !ok {
			return
		}
		bet, ok := house.Bet(betID)
		if !ok {
			http.Error(w, "Bet not found", http.StatusNotFound)
			return
		}
		writeJSON(w, bet)
	}
}

type CancelBetRequest struct {
	Player string `json:"player"`
}

func HandleCancelBet(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		betID, ok := parseBetID(w, r)
		if !ok {
			return
		}
		var req CancelBetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}
		if err := house.CancelGame(betID, req.Player); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleFinalizeBet(gm *registry.GameMaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		betID, ok := parseBetID(w, r)
		if !ok {
			return
		}
		if err := house.FinalizeGame(betID); err != nil {
			writeDomainError(w, err)
			return
		}
		bet, _ := house.Bet(betID)
		writeJSON(w, bet)
	}
}

func HandleListEvents(gm *registry.GameMaster, repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		house, ok := lookupHouse(gm, w, r)
		if !ok {
			return
		}
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		records, err := repository.LoadEvents(r.Context(), house.ID().String(), limit)
		if err != nil {
			log.Error("failed to load events: %v", err)
			http.Error(w, "Failed to load events", http.StatusInternalServerError)
			return
		}
		decoded := make([]interface{}, 0, len(records))
		for _, record := range records {
			event, err := repositories.DecodeEvent(record)
			if err != nil {
				log.Error("failed to decode event %d: %v", record.ID, err)
				continue
			}
			decoded = append(decoded, event)
		}
		writeJSON(w, decoded)
	}
}

type RegisterHouseRequest struct {
	Factory        string            `json:"factory"`
	Provider       string            `json:"provider"`
	Owner          string            `json:"owner"`
	Address        string            `json:"address"`
	Config         engine.Config     `json:"config"`
	Allocations    []fees.Allocation `json:"allocations"`
	InitialDeposit int64             `json:"initial_deposit"`
}

func HandleRegisterHouse(gm *registry.GameMaster, providers map[string]registry.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterHouseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}
		provider, ok := providers[req.Provider]
		if !ok {
			http.Error(w, "Unknown provider", http.StatusBadRequest)
			return
		}
		house, err := gm.RegisterHouse(req.Factory, registry.RegisterHouseRequest{
			Owner:          req.Owner,
			Address:        req.Address,
			Provider:       provider,
			Config:         req.Config,
			Allocations:    req.Allocations,
			InitialDeposit: req.InitialDeposit,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, house.Snapshot())
	}
}

func HandleUnregisterHouse(gm *registry.GameMaster, admin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		houseID, ok := parseHouseID(w, r)
		if !ok {
			return
		}
		withdrawTo := r.URL.Query().Get("withdraw_to")
		if err := gm.UnregisterHouse(admin, houseID, withdrawTo); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type MigrateHouseRequest struct {
	Factory          string `json:"factory"`
	SuccessorAddress string `json:"successor_address"`
}

func HandleMigrateHouse(gm *registry.GameMaster, admin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		houseID, ok := parseHouseID(w, r)
		if !ok {
			return
		}
		var req MigrateHouseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Failed to decode request body", http.StatusBadRequest)
			return
		}
		successor, err := gm.MigrateHouse(admin, houseID, req.Factory, req.SuccessorAddress)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, successor.Snapshot())
	}
}

func parseHouseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	houseID, err := uuid.Parse(mux.Vars(r)["houseID"])
	if err != nil {
		http.Error(w, "Invalid house ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return houseID, true
}

func parseBetID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	betID, err := strconv.ParseUint(mux.Vars(r)["betID"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid bet ID", http.StatusBadRequest)
		return 0, false
	}
	return betID, true
}

func lookupHouse(gm *registry.GameMaster, w http.ResponseWriter, r *http.Request) (*engine.House, bool) {
	houseID, ok := parseHouseID(w, r)
	if !ok {
		return nil, false
	}
	house, ok := gm.House(houseID)
	if !ok {
		http.Error(w, "House not found", http.StatusNotFound)
		return nil, false
	}
	return house, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownBet),
		errors.Is(err, registry.ErrUnknownHouse):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, registry.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrProviderNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrAmountOutOfRange),
		errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrCancelWindowOpen),
		errors.Is(err, engine.ErrHouseNotRegistered),
		errors.Is(err, engine.ErrHouseNotRunning),
		errors.Is(err, registry.ErrHouseNotRegistered),
		errors.Is(err, registry.ErrUntrustedFactory),
		errors.Is(err, registry.ErrUntrustedProvider),
		errors.Is(err, registry.ErrInsufficientDeposit):
		status = http.StatusBadRequest
	default:
		log.Error("internal error handling request: %v", err)
	}
	http.Error(w, err.Error(), status)
}
