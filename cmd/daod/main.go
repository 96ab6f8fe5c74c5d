// daod is the DAO engine server: proposal ledger, voting, deadline-gated
// execution, and treasury control behind an authenticated HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryptodevs/daoengine/pkg/api"
	"github.com/cryptodevs/daoengine/pkg/audit"
	"github.com/cryptodevs/daoengine/pkg/config"
	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/dao"
	"github.com/cryptodevs/daoengine/pkg/finance"
	"github.com/cryptodevs/daoengine/pkg/ledger"
	"github.com/cryptodevs/daoengine/pkg/market"
	"github.com/cryptodevs/daoengine/pkg/observability"
	"github.com/cryptodevs/daoengine/pkg/oracle"
	"github.com/cryptodevs/daoengine/pkg/treasury"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "daod %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServer(stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: daod <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server   Run the DAO engine server (default)")
	fmt.Fprintln(w, "  health   Check server health (HTTP)")
	fmt.Fprintln(w, "  version  Print the version")
	fmt.Fprintln(w, "  help     Show this help")
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get(fmt.Sprintf("http://localhost:%s/health", cfg.Port))
	if err != nil {
		fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "daod")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genesis, err := loadGenesis(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "genesis: %v\n", err)
		return 1
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "daoengine",
		ServiceVersion: version,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ExportInterval: 15 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability shutdown failed", "error", err)
		}
	}()
	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		fmt.Fprintf(stderr, "metrics: %v\n", err)
		return 1
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without cache and shared limits", "error", err)
			redisClient = nil
		}
		defer func() {
			if redisClient != nil {
				_ = redisClient.Close()
			}
		}()
	}

	store, balances, closeDB, err := openStores(ctx, cfg, genesis)
	if err != nil {
		fmt.Fprintf(stderr, "store: %v\n", err)
		return 1
	}
	defer closeDB()

	registry := oracle.NewStaticRegistry()
	for _, m := range genesis.Members {
		for _, tok := range m.Tokens {
			if err := registry.Mint(contracts.TokenID(tok), contracts.Address(m.Address)); err != nil {
				fmt.Fprintf(stderr, "genesis mint: %v\n", err)
				return 1
			}
		}
	}
	var membership oracle.MembershipOracle = registry
	if redisClient != nil {
		membership = oracle.NewRedisCache(registry, redisClient, 30*time.Second)
	}

	basePrice := genesis.BasePrice
	if basePrice <= 0 {
		basePrice = 100
	}
	marketplace := market.NewFakeMarketplace(finance.NewMoney(basePrice, genesis.Currency))
	for _, l := range genesis.Listings {
		marketplace.SetPrice(contracts.AssetID(l.AssetID), finance.NewMoney(l.Price, genesis.Currency))
	}

	tr := treasury.New(balances, contracts.Address(genesis.Owner), genesis.Currency)
	engine := dao.NewEngine(store, tr, membership, marketplace, cfg.VotingPeriod)
	engine.SetAuditLog(audit.NewLog())
	engine.SetMetrics(metrics)

	mux := http.NewServeMux()
	api.NewService(engine).Routes(mux)

	var handler http.Handler = mux
	handler = api.AuthMiddleware(api.NewJWTValidator(cfg.JWTSecret))(handler)
	if redisClient != nil {
		limiter := api.NewRedisLimiterStore(redisClient, cfg.RateLimitPerSecond, cfg.RateLimitBurst)
		handler = api.CallerRateLimitMiddleware(limiter)(handler)
	}
	ipLimiter := api.NewGlobalRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	defer ipLimiter.Stop()
	handler = ipLimiter.Middleware(handler)
	handler = api.RequestIDMiddleware(handler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"port", cfg.Port, "driver", cfg.DBDriver, "owner", genesis.Owner,
			"voting_period", cfg.VotingPeriod)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
		return 0
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
		return 0
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// loadGenesis merges the optional genesis profile over the env defaults so
// the rest of boot reads one seed document.
func loadGenesis(cfg *config.Config) (*config.Genesis, error) {
	g := &config.Genesis{
		Owner:          cfg.Owner,
		Currency:       cfg.Currency,
		InitialBalance: cfg.InitialBalance,
	}
	if cfg.GenesisPath == "" {
		return g, nil
	}

	loaded, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return nil, err
	}
	if loaded.Owner == "" {
		loaded.Owner = cfg.Owner
	}
	if loaded.Currency == "" {
		loaded.Currency = cfg.Currency
	}
	if loaded.InitialBalance == 0 {
		loaded.InitialBalance = cfg.InitialBalance
	}
	if loaded.VotingPeriod != "" {
		d, err := time.ParseDuration(loaded.VotingPeriod)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid genesis voting_period %q", loaded.VotingPeriod)
		}
		cfg.VotingPeriod = d
	}
	return loaded, nil
}

// openStores selects the proposal and balance stores by driver. SQLite and
// Postgres share the same SQL stores; memory is for throwaway runs.
func openStores(ctx context.Context, cfg *config.Config, genesis *config.Genesis) (ledger.Store, treasury.BalanceStore, func(), error) {
	switch cfg.DBDriver {
	case "memory":
		return ledger.NewMemoryStore(), treasury.NewMemoryBalanceStore(genesis.InitialBalance), func() {}, nil
	case "sqlite", "postgres":
		db, err := sql.Open(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
		}
		store, err := ledger.NewSQLStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		balances, err := treasury.NewSQLBalanceStore(ctx, db, genesis.InitialBalance)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return store, balances, func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown DB_DRIVER %q (want memory, sqlite, or postgres)", cfg.DBDriver)
	}
}
