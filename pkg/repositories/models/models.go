package models

// VolumeScale is the lossy storage scale for rolling volume counters.
// Volumes are full precision in memory and divided down on save, so
// stored values fit comfortably regardless of asset decimals.
const VolumeScale = 1_000_000_000

func EncodeVolume(v int64) int64 {
	return v / VolumeScale
}

func DecodeVolume(v int64) int64 {
	return v * VolumeScale
}

type House struct {
	ID            string `json:"id"`
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	Tracker       string `json:"tracker"`
	Running       bool   `json:"running"`
	Registered    bool   `json:"registered"`
	Config        []byte `json:"config"`
	Allocations   []byte `json:"allocations"`
	AccruedFee    int64  `json:"accrued_fee"`
	TotalLocked   int64  `json:"total_locked"`
	LockedByGames int64  `json:"locked_by_games"`
	// BetVolume and PayoutVolume are stored in VolumeScale units.
	BetVolume      int64 `json:"bet_volume"`
	PayoutVolume   int64 `json:"payout_volume"`
	FinalizedGames int64 `json:"finalized_games"`
	CanceledGames  int64 `json:"canceled_games"`
	UniquePlayers  int64 `json:"unique_players"`
	SavedAt        int64 `json:"saved_at"`
}

type Bet struct {
	HouseID      string `json:"house_id"`
	BetID        int64  `json:"bet_id"`
	Player       string `json:"player"`
	Amount       int64  `json:"amount"`
	Side         int    `json:"side"`
	ResolvedSide int    `json:"resolved_side"`
	State        int    `json:"state"`
	PlacedBlock  int64  `json:"placed_block"`
	RequestID    int64  `json:"request_id"`
	RandomValue  int64  `json:"random_value"`
}

type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	HouseID   string `json:"house_id"`
	Timestamp int64  `json:"timestamp"`
	// Payload is the zstd-compressed event payload.
	Payload []byte `json:"payload"`
}
