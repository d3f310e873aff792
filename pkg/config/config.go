package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig is the environment-driven server configuration. Flags in
// cmd/server override the listener settings.
type ServerConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	APIPort     int    `env:"API_PORT" envDefault:"8080"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	AdminToken string `env:"ADMIN_TOKEN,required"`
	// AdminAddr is the fund address registry administration acts as.
	AdminAddr    string `env:"ADMIN_ADDR" envDefault:"admin"`
	RegistryAddr string `env:"REGISTRY_ADDR" envDefault:"registry"`
	// RevealerName identifies the operator in the commit-reveal
	// provider's revealer set.
	RevealerName string `env:"REVEALER_NAME" envDefault:"operator"`

	AssetSymbol       string `env:"ASSET_SYMBOL" envDefault:"FLIP"`
	MinInitialDeposit int64  `env:"MIN_INITIAL_DEPOSIT" envDefault:"0"`

	BlockInterval     time.Duration `env:"BLOCK_INTERVAL" envDefault:"1s"`
	RevealInterval    time.Duration `env:"REVEAL_INTERVAL" envDefault:"500ms"`
	SaveInterval      time.Duration `env:"SAVE_INTERVAL" envDefault:"10s"`
	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL" envDefault:"100ms"`
	// CommitmentBatch is how many fresh secrets the operator commits
	// when the unused pool drains.
	CommitmentBatch int `env:"COMMITMENT_BATCH" envDefault:"64"`

	RepositoryType   string `env:"REPOSITORY_TYPE" envDefault:"sqlite"`
	PostgresConnStr  string `env:"POSTGRES_CONN_STR"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"coinflip.db"`
	SQLiteMigrations string `env:"SQLITE_MIGRATIONS" envDefault:"migrations/sqlite"`
}

func GetConfig() (ServerConfig, error) {
	cfg := ServerConfig{}
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to parse environment: %v", err)
	}
	return cfg, nil
}
