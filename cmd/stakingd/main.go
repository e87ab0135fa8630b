package main

import (
	"context"
	"database/sql"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Xi-Labs-ETH/staking-contract/internal/api"
	"github.com/Xi-Labs-ETH/staking-contract/internal/auth"
	"github.com/Xi-Labs-ETH/staking-contract/internal/metrics"
	"github.com/Xi-Labs-ETH/staking-contract/internal/staking"
	"github.com/Xi-Labs-ETH/staking-contract/internal/vault"
	"github.com/Xi-Labs-ETH/staking-contract/pkg/circuit"
	"github.com/Xi-Labs-ETH/staking-contract/pkg/messaging"
)

type config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	NATSURL     string `env:"NATS_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	InfluxURL    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG" envDefault:"xilabs"`
	InfluxBucket string `env:"INFLUX_BUCKET" envDefault:"staking"`

	JWTSecret string `env:"JWT_SECRET,required"`

	StakingAsset   string `env:"STAKING_ASSET" envDefault:"XLS"`
	RewardAsset    string `env:"REWARD_ASSET" envDefault:"XLR"`
	AssetDecimals  int32  `env:"ASSET_DECIMALS" envDefault:"18"`
	CustodyAddress string `env:"CUSTODY_ADDRESS" envDefault:"0x0000000000000000000000000000000000000C57"`
	EmissionRate   string `env:"EMISSION_RATE" envDefault:"0"` // reward base units per day

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerTimeout     time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Fatalf("Failed to parse config: %v", err)
	}

	custody := common.HexToAddress(cfg.CustodyAddress)

	rate, ok := new(big.Int).SetString(cfg.EmissionRate, 10)
	if !ok || rate.Sign() < 0 {
		log.Fatalf("Invalid EMISSION_RATE %q", cfg.EmissionRate)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store vault.Vault
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		pg := vault.NewPostgres(db, custody)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare vault schema: %v", err)
		}
		store = pg
	} else {
		log.Println("No DATABASE_URL set, using in-memory vault")
		store = vault.NewMemory(custody)
	}

	store = vault.WithBreaker(store, circuit.NewBreaker(circuit.Config{
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
		OnStateChange: func(from, to circuit.State) {
			log.Printf("Vault circuit breaker: %s -> %s", from, to)
		},
	}))

	var msgClient *messaging.Client
	if cfg.NATSURL != "" {
		msgClient, err = messaging.NewClient(messaging.Config{
			URL:           cfg.NATSURL,
			Name:          "staking-ledger",
			ReconnectWait: time.Second,
			MaxReconnects: 5,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cache.Close()
	}

	var recorder *metrics.Recorder
	if cfg.InfluxURL != "" {
		recorder = metrics.NewRecorder(metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		defer recorder.Close()
	}

	ledger := staking.New(store, msgClient, recorder, staking.Config{
		StakingAsset: cfg.StakingAsset,
		RewardAsset:  cfg.RewardAsset,
		Custody:      custody,
		EmissionRate: rate,
		Source:       "staking-ledger",
	})

	server := api.NewServer(ledger, auth.NewService(cfg.JWTSecret), cache, msgClient, api.Config{
		Decimals: cfg.AssetDecimals,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Staking ledger listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
