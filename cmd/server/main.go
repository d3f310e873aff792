package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/namisoft/coinflip/pkg/api"
	"github.com/namisoft/coinflip/pkg/chain"
	"github.com/namisoft/coinflip/pkg/config"
	"github.com/namisoft/coinflip/pkg/events"
	"github.com/namisoft/coinflip/pkg/fees"
	"github.com/namisoft/coinflip/pkg/log"
	"github.com/namisoft/coinflip/pkg/queue"
	"github.com/namisoft/coinflip/pkg/random"
	"github.com/namisoft/coinflip/pkg/registry"
	"github.com/namisoft/coinflip/pkg/repositories"
	"github.com/namisoft/coinflip/pkg/stats"
	"github.com/namisoft/coinflip/pkg/token"
	"github.com/namisoft/coinflip/pkg/version"
	"github.com/namisoft/coinflip/pkg/workers"
)

func main() {
	apiPort := flag.Int("api-port", 0, "API port to listen on (overrides API_PORT)")
	logLevel := flag.String("log-level", "", "Log level (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.GetConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	if *apiPort != 0 {
		cfg.APIPort = *apiPort
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asset := token.NewInMemoryAsset(cfg.AssetSymbol)

	source := chain.NewSimulatedChain(chain.NewSimulatedChainOptions{
		BlockInterval: cfg.BlockInterval,
	})
	go source.Start(ctx)

	secrets := workers.NewSecretStore()
	provider := random.NewCommitRevealProvider(random.NewCommitRevealProviderOptions{
		Source: source,
	})
	provider.AddRevealer(cfg.RevealerName)
	if err := commitFreshSecrets(provider, secrets, cfg.CommitmentBatch); err != nil {
		panic(fmt.Sprintf("Failed to commit initial secrets: %v", err))
	}

	var repository repositories.Repository
	switch cfg.RepositoryType {
	case "postgres":
		repository = repositories.NewPostgresRepository(ctx, cfg.PostgresConnStr)
	case "sqlite":
		repository, err = repositories.NewSQLiteRepository(ctx, cfg.SQLitePath, cfg.SQLiteMigrations)
		if err != nil {
			panic(fmt.Sprintf("Failed to open sqlite repository: %v", err))
		}
	default:
		panic(fmt.Sprintf("Unknown repository type %q", cfg.RepositoryType))
	}
	defer repository.Close(ctx)

	eventQueue := queue.NewInMemoryQueue(10000)
	sink := events.NewQueueSink(eventQueue)
	collector := stats.NewInMemoryCollector()
	distributor := fees.NewDistributor(fees.NewDistributorOptions{
		Asset: asset,
	})

	gm, err := registry.NewGameMaster(registry.NewGameMasterOptions{
		Admin:       cfg.AdminAddr,
		Address:     cfg.RegistryAddr,
		Asset:       asset,
		Distributor: distributor,
		Collector:   collector,
		Sink:        sink,
		Source:      source,
		Allocations: []fees.Allocation{
			{Target: cfg.AdminAddr, ShareBP: fees.BasisPointDenominator},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create game master: %v", err))
	}
	if err := gm.AddTrustedFactory(cfg.AdminAddr, registry.StandardFactory{}); err != nil {
		panic(fmt.Sprintf("Failed to add house factory: %v", err))
	}
	if err := gm.AddTrustedProvider(cfg.AdminAddr, provider); err != nil {
		panic(fmt.Sprintf("Failed to add randomness provider: %v", err))
	}
	if cfg.MinInitialDeposit > 0 {
		if err := gm.SetMinInitialDeposit(cfg.AdminAddr, cfg.AssetSymbol, cfg.MinInitialDeposit); err != nil {
			panic(fmt.Sprintf("Failed to set minimum deposit: %v", err))
		}
	}

	revealWorker := workers.NewRevealWorker(workers.NewRevealWorkerOptions{
		Provider: provider,
		Source:   source,
		Secrets:  secrets,
		Revealer: cfg.RevealerName,
		Interval: cfg.RevealInterval,
	})
	go revealWorker.Start(ctx)

	go topUpCommitments(ctx, provider, secrets, cfg.CommitmentBatch)

	saveHouseStateChan := make(chan workers.SaveHouseStateRequest, 100)
	saveStateWorker := workers.NewSaveStateWorker(workers.NewSaveStateWorkerOptions{
		Repository:         repository,
		SaveHouseStateChan: saveHouseStateChan,
		Houses:             gm,
		Interval:           cfg.SaveInterval,
	})
	go saveStateWorker.Start(ctx)

	stream := api.NewEventStream()
	broadcastWorker := workers.NewEventBroadcastWorker(workers.NewEventBroadcastWorkerOptions{
		EventQueue:  eventQueue,
		Repository:  repository,
		Broadcaster: stream,
		Interval:    cfg.BroadcastInterval,
	})
	go broadcastWorker.Start(ctx)

	var tlsConfig *api.TLSConfig
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsConfig = &api.TLSConfig{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
		}
	}
	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:       cfg.APIPort,
		TLS:        tlsConfig,
		AdminToken: cfg.AdminToken,
		AdminAddr:  cfg.AdminAddr,
		Registry:   gm,
		Providers: map[string]registry.Provider{
			"commit-reveal": provider,
		},
		Repository: repository,
		Stream:     stream,
	})
	go apiServer.Start()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server: %v", err)
	}
}

func commitFreshSecrets(provider *random.CommitRevealProvider, secrets *workers.SecretStore, count int) error {
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		var secret [32]byte
		if _, err := rand.Read(secret[:]); err != nil {
			return fmt.Errorf("failed to generate secret: %v", err)
		}
		hashes = append(hashes, secrets.Put(secret))
	}
	return provider.AddCommitments(hashes...)
}

// topUpCommitments keeps the provider's unused commitment pool from
// draining while bets keep coming in.
func topUpCommitments(ctx context.Context, provider *random.CommitRevealProvider, secrets *workers.SecretStore, batch int) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if provider.UnusedCommitments() > batch/4 {
				continue
			}
			if err := commitFreshSecrets(provider, secrets, batch); err != nil {
				log.Error("Failed to top up commitments: %v", err)
			}
		}
	}
}
