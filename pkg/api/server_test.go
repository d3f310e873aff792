package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/namisoft/coinflip/pkg/api/handlers"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/engine"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/namisoft/coinflip/pkg/registry"
	"github.com/namisoft/coinflip/pkg/stats"
	"github.com/namisoft/coinflip/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "test-admin-token"

type apiFixture struct {
	server *httptest.Server
	gm     *registry.GameMaster
	asset  *token.InMemoryAsset
	house  *engine.House
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	asset := token.NewInMemoryAsset("FLIP")
	asset.Mint("owner-1", 50000)
	asset.Mint("player-1", 1000)
	require.NoError(t, asset.Approve("owner-1", "registry", 50000))
	require.NoError(t, asset.Approve("player-1", "house-1", 1000))

	source := chain.NewSimulatedChain(chain.NewSimulatedChainOptions{BlockInterval: time.Second})
	provider := random.NewCommitRevealProvider(random.NewCommitRevealProviderOptions{Source: source})
	provider.AddRevealer("operator")
	for i := byte(1); i <= 4; i++ {
		var secret [32]byte
		secret[0] = i
		require.NoError(t, provider.AddCommitments(sha256.Sum256(secret[:])))
	}

	gm, err := registry.NewGameMaster(registry.NewGameMasterOptions{
		Admin:       "admin",
		Address:     "registry",
		Asset:       asset,
		Distributor: fees.NewDistributor(fees.NewDistributorOptions{Asset: asset}),
		Collector:   stats.NewInMemoryCollector(),
		Source:      source,
		Allocations: []fees.Allocation{{Target: "treasury", ShareBP: 10000}},
	})
	require.NoError(t, err)
	require.NoError(t, gm.AddTrustedFactory("admin", registry.StandardFactory{}))
	require.NoError(t, gm.AddTrustedProvider("admin", provider))

	house, err := gm.RegisterHouse("standard", registry.RegisterHouseRequest{
		Owner:    "owner-1",
		Address:  "house-1",
		Provider: provider,
		Config: engine.Config{
			FeePerBetBP:        100,
			MinBet:             1,
			MaxBet:             1000,
			CancelWindowBlocks: 10,
		},
		InitialDeposit: 10000,
	})
	require.NoError(t, err)

	apiServer := NewAPIServer(NewAPIServerOptions{
		Port:       0,
		AdminToken: adminToken,
		AdminAddr:  "admin",
		Registry:   gm,
		Providers: map[string]registry.Provider{
			"commit-reveal": provider,
		},
		Stream: NewEventStream(),
	})

	server := httptest.NewServer(apiServer.server.Handler)
	t.Cleanup(server.Close)

	return &apiFixture{
		server: server,
		gm:     gm,
		asset:  asset,
		house:  house,
	}
}

func (f *apiFixture) url(format string, args ...interface{}) string {
	return f.server.URL + fmt.Sprintf(format, args...)
}

func TestAPIServer_ListHouses(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.url("/houses"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []handlers.HouseSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, f.house.ID(), summaries[0].ID)
	assert.True(t, summaries[0].Running)
}

func TestAPIServer_PlaceAndGetBet(t *testing.T) {
	f := newAPIFixture(t)

	body, _ := json.Marshal(handlers.PlaceBetRequest{
		Player: "player-1",
		Amount: 100,
		Side:   engine.SideHeads,
		Seed:   7,
	})
	resp, err := http.Post(f.url("/houses/%s/bets", f.house.ID()), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var bet engine.Bet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bet))
	assert.Equal(t, uint64(1), bet.ID)
	assert.Equal(t, engine.BetStatePending, bet.State)

	getResp, err := http.Get(f.url("/houses/%s/bets/%d", f.house.ID(), bet.ID))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestAPIServer_PlaceBetRejections(t *testing.T) {
	f := newAPIFixture(t)

	body, _ := json.Marshal(handlers.PlaceBetRequest{
		Player: "player-1",
		Amount: 100,
		Side:   engine.Side(5),
	})
	resp, err := http.Post(f.url("/houses/%s/bets", f.house.ID()), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.url("/houses/00000000-0000-0000-0000-000000000000/bets"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIServer_CancelInsideWindow(t *testing.T) {
	f := newAPIFixture(t)

	bet, err := f.house.PlaceBet("player-1", 100, engine.SideHeads, 1)
	require.NoError(t, err)

	body, _ := json.Marshal(handlers.CancelBetRequest{Player: "player-1"})
	resp, err := http.Post(f.url("/houses/%s/bets/%d/cancel", f.house.ID(), bet.ID), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIServer_AdminEndpointsRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	req, _ := http.NewRequest(http.MethodDelete, f.url("/registry/houses/%s", f.house.ID()), nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.house.IsRegistered())
}

func TestAPIServer_RegisterHouseViaAPI(t *testing.T) {
	f := newAPIFixture(t)
	f.asset.Mint("owner-2", 20000)
	require.NoError(t, f.asset.Approve("owner-2", "registry", 20000))

	body, _ := json.Marshal(handlers.RegisterHouseRequest{
		Factory:  "standard",
		Provider: "commit-reveal",
		Owner:    "owner-2",
		Address:  "house-2",
		Config: engine.Config{
			MinBet: 1,
			MaxBet: 500,
		},
		InitialDeposit: 5000,
	})
	req, _ := http.NewRequest(http.MethodPost, f.url("/registry/houses"), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var snapshot engine.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, "house-2", snapshot.Address)
	assert.True(t, snapshot.Registered)
	assert.Len(t, f.gm.Houses(), 2)
}

func TestAPIServer_GetHouseStats(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.url("/houses/%s/stats", f.house.ID()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got handlers.HouseStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(1), got.MinBet)
	assert.Equal(t, int64(1000), got.MaxBet)
}
