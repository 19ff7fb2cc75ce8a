package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/elys-network/poolmigrator/internal/cache"
	"github.com/elys-network/poolmigrator/internal/config"
	"github.com/elys-network/poolmigrator/internal/datafetcher"
	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/metrics"
	"github.com/elys-network/poolmigrator/internal/migrator"
	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/elys-network/poolmigrator/internal/vault"
	"github.com/elys-network/poolmigrator/internal/web"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// main is the entry point for the pool migrator.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		file, err := logger.FileWriter(logFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", logFile).Msg("Failed to open log file")
		}
		console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
		logger.InitializeWithWriter(zerolog.MultiLevelWriter(console, file), os.Getenv("LOG_LEVEL"))
	} else {
		logger.Initialize(os.Getenv("LOG_LEVEL"))
	}
	log.Info().Str("mode", config.Mode).Msg("Pool Migrator Starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database is optional; without it plans and runs are only logged
	dbCfg, persist, err := state.DBConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database configuration")
	}
	params := config.Parameters
	var paramsID int64
	if persist {
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		stored, id, err := state.LoadActiveMigrationParameters(migrator.DEFAULT_PARAMS_CONFIG_NAME)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load active migration parameters, saving the configured ones.")
			id, err = state.SaveMigrationParameters(params, migrator.DEFAULT_PARAMS_CONFIG_NAME, migrator.DEFAULT_PARAMS_CONFIG_VERSION, true)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to save initial migration parameters.")
			}
		} else {
			params = *stored
		}
		paramsID = id
		log.Info().Int64("paramsID", paramsID).Msg("Migration parameters loaded successfully.")
	} else {
		log.Warn().Msg("DB_HOST not set, running without persistence.")
	}

	// --- 2. Collaborators ---
	m := metrics.NewMetrics("poolmigrator", prometheus.NewRegistry())

	var routeCache cache.Store
	if config.RedisAddr != "" {
		redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       config.RedisAddr,
			Password:   os.Getenv("REDIS_PASSWORD"),
			DB:         mustAtoi(os.Getenv("REDIS_DB"), 0),
			TLSEnabled: os.Getenv("REDIS_TLS") == "true",
		}, params.RouteCacheTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis route cache")
		}
		defer redisCache.Close()
		routeCache = redisCache
		log.Info().Str("addr", config.RedisAddr).Msg("Using shared Redis route cache")
	}

	reader, err := datafetcher.NewIndexerReader(config.IndexerAPI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create indexer reader")
	}

	// --- 3. Dispatcher Initialization (with Safety Switch) ---
	var dispatcher vault.Dispatcher
	if config.Mode == "live" {
		log.Warn().Msg("Initializing migrator in LIVE mode. Real transactions will be broadcast.")

		// Initialize gRPC Connection
		grpcEndpoint := config.NodeGRPC
		var creds grpc.DialOption
		if strings.Contains(grpcEndpoint, ":443") {
			creds = grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{}))
		} else {
			creds = grpc.WithTransportCredentials(insecure.NewCredentials())
		}
		grpcClient, err := grpc.Dial(grpcEndpoint, creds)
		if err != nil {
			log.Fatal().Err(err).Msg("gRPC connection error")
		}
		defer grpcClient.Close()
		log.Info().Str("endpoint", grpcEndpoint).Msg("gRPC connected")

		rpcClient, err := rpchttp.New(config.NodeRPC, "/websocket")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CometBFT RPC client")
		}

		chain, err := vault.NewChainDispatcher(vault.ChainConfig{
			Owner:           config.Owner,
			SignerURL:       config.SignerAPI,
			TxClient:        rpcClient,
			GRPCConn:        grpcClient,
			FeeToken:        config.FeeToken,
			FallbackCostUSD: params.GasCostPerOperationUSD,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize chain dispatcher")
		}
		dispatcher = chain
	} else {
		log.Warn().Msg("MIGRATOR_MODE is 'dryrun'. Operations are simulated and nothing is broadcast.")
		dispatcher = vault.NewSimulatedDispatcher(params.GasCostPerOperationUSD, 0)
	}

	// --- 4. Create Migrator Instance with Dependency Injection ---
	mig, err := migrator.NewMigrator(migrator.Config{
		Reader:     reader,
		Dispatcher: dispatcher,
		Params:     &params,
		Cache:      routeCache,
		Metrics:    m,
		Persist:    persist,
		ParamsID:   paramsID,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator instance")
	}

	// --- Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webOpts := web.Options{Cache: mig, Metrics: m.Handler(), Parameters: &params}
	if persist {
		webOpts.Store = web.DBStore{}
	}
	webServer := web.NewWebServer(webPort, webOpts)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting status API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Migrate ---
	opts := migrator.SweepOptions{
		Owner: config.Owner,
		Filters: types.RouteFilters{
			MinLiquidityUSD: config.MinTargetLiquidityUSD,
			ExcludedPools:   config.ExcludedPools,
		},
		Preferences:   config.Preferences,
		AllowHighRisk: config.AllowHighRisk,
	}

	if config.SweepInterval <= 0 {
		result := mig.RunSweep(ctx, opts)
		log.Info().Int("positions", result.Positions).Int("skipped", result.Skipped).Msg("Single sweep finished, exiting")
		return
	}

	log.Info().Str("interval", config.SweepInterval.String()).Msg("Starting migrator main loop")
	mig.RunLoop(ctx, config.SweepInterval, opts)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
