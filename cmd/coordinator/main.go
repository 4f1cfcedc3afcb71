package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fedlearn/coordinator-engine/internal/api"
	"github.com/fedlearn/coordinator-engine/internal/archive"
	"github.com/fedlearn/coordinator-engine/internal/auth"
	"github.com/fedlearn/coordinator-engine/internal/coordinator"
	"github.com/fedlearn/coordinator-engine/internal/ledger"
	"github.com/fedlearn/coordinator-engine/internal/privacy"
	"github.com/fedlearn/coordinator-engine/internal/ratelimit"
	"github.com/fedlearn/coordinator-engine/internal/store"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	log.Println("Starting FedLearn Coordinator Engine (Microservice: fl-round-coordinator)...")

	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	layerSizes := parseLayerSizes(getEnvOrDefault("MODEL_LAYER_SIZES", "3"))

	modelStore, err := store.Open(filepath.Join(dataDir, "models"), layerSizes)
	if err != nil {
		log.Fatalf("FATAL: Failed to open model store: %v", err)
	}

	// Optional write-only round-history archive. The coordinator keeps all
	// coordination state in memory; this only mirrors closed rounds out.
	var roundArchive coordinator.Archiver
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err := archive.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without round archive. Error: %v", err)
		} else {
			defer pg.Close()
			if err := pg.InitSchema(); err != nil {
				log.Printf("Warning: Archive schema init failed: %v", err)
			} else {
				roundArchive = pg
			}
		}
	}

	requestLimit := parseLimit("RATE_LIMIT_REQUESTS", "120/60s")
	updateLimit := parseLimit("RATE_LIMIT_UPDATES", "5/60s")

	incentiveCfg := ledger.DefaultIncentiveConfig()
	incentiveCfg.BaseReward = getEnvFloat("INCENTIVE_BASE_REWARD", incentiveCfg.BaseReward)
	incentiveCfg.SpeedBonus = getEnvFloat("INCENTIVE_SPEED_BONUS", incentiveCfg.SpeedBonus)
	incentiveCfg.SpeedThreshold = getEnvDuration("INCENTIVE_SPEED_THRESHOLD", incentiveCfg.SpeedThreshold)
	incentiveCfg.ConsistencyBonus = getEnvFloat("INCENTIVE_CONSISTENCY_BONUS", incentiveCfg.ConsistencyBonus)
	incentiveCfg.DropoutPenalty = getEnvFloat("INCENTIVE_DROPOUT_PENALTY", incentiveCfg.DropoutPenalty)

	cfg := coordinator.DefaultConfig()
	cfg.AsyncEnabled = getEnvBool("ENABLE_ASYNC_ROUNDS", false)
	cfg.AsyncMinUpdates = getEnvInt("ASYNC_MIN_UPDATES", cfg.AsyncMinUpdates)
	cfg.AsyncMaxDuration = getEnvDuration("ASYNC_MAX_DURATION", cfg.AsyncMaxDuration)
	cfg.AsyncCheckInterval = getEnvDuration("ASYNC_CHECK_INTERVAL", cfg.AsyncCheckInterval)
	cfg.AggregationTimeout = getEnvDuration("AGGREGATION_TIMEOUT", cfg.AggregationTimeout)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	coord, err := coordinator.New(cfg, coordinator.Deps{
		Registry:   auth.NewRegistry(),
		Limiter:    ratelimit.NewLimiter(requestLimit, updateLimit),
		Guard:      privacy.NewGuard(privacy.DefaultMaxMagnitude),
		Store:      modelStore,
		Reputation: ledger.NewReputationLedger(),
		Incentives: ledger.NewIncentiveLedger(incentiveCfg),
		Metrics:    ledger.NewMetricsLedger(filepath.Join(dataDir, "metrics"), filepath.Join(dataDir, "logs")),
		Events:     wsHub,
		Archive:    roundArchive,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.RunAsyncController(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(coord, wsHub)

	port := getEnvOrDefault("PORT", "8080")

	log.Printf("Coordinator running on :%s (async_rounds=%v, model_layers=%v)\n",
		port, cfg.AsyncEnabled, layerSizes)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// parseLayerSizes reads the seed-model layout, e.g. "3" or "4,8,2".
func parseLayerSizes(s string) []int {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			log.Fatalf("FATAL: Invalid MODEL_LAYER_SIZES %q: want comma-separated positive integers", s)
		}
		sizes = append(sizes, n)
	}
	return sizes
}

func parseLimit(key, fallback string) ratelimit.Limit {
	raw := getEnvOrDefault(key, fallback)
	limit, err := ratelimit.ParseLimit(raw)
	if err != nil {
		log.Fatalf("FATAL: Invalid %s: %v", key, err)
	}
	return limit
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Fatalf("FATAL: Invalid %s %q: want true/false", key, val)
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		log.Fatalf("FATAL: Invalid %s %q: want a positive integer", key, val)
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		log.Fatalf("FATAL: Invalid %s %q: want a non-negative number", key, val)
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	// Accept both "60s" and bare seconds "60".
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		log.Fatalf("FATAL: Invalid %s %q: want a duration like 60s", key, val)
	}
	return d
}
