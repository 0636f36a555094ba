package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Port string

	// Instruments
	Symbols  []string
	TickSize decimal.Decimal
	LotSize  decimal.Decimal

	// Market data
	UseMockFeed      bool
	FeedURL          string
	MockTickInterval time.Duration
	MockStartPrice   decimal.Decimal
	MockStep         decimal.Decimal
	MockTraders      []string

	// Risk limits
	MaxPositionPerInstrument decimal.Decimal
	MaxNotionalExposure      decimal.Decimal
	MaxOrderRate             float64 // orders per second
	OrderBurst               int

	// Position sizing
	MaxOrderQty      decimal.Decimal
	MaxOrderNotional decimal.Decimal

	// Order lifecycle
	AckTimeout     time.Duration
	DrainTimeout   time.Duration
	ArchiveGrace   time.Duration
	SweepInterval  time.Duration
	SnapshotEvery  time.Duration
	EnginePartitions int

	// Paper venue simulation
	PaperLatencyMinMs int
	PaperLatencyMaxMs int
	PaperSlippageBps  float64
	PaperFeeBps       float64
	PaperFillChunks   int

	// Persistence
	DBPath string

	// Strategies
	StrategiesPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),

		Symbols:  splitAndTrim(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT")),
		TickSize: getEnvDecimal("TICK_SIZE", "0.01"),
		LotSize:  getEnvDecimal("LOT_SIZE", "0.0001"),

		UseMockFeed:      getEnv("USE_MOCK_FEED", "true") == "true",
		FeedURL:          getEnv("FEED_URL", ""),
		MockTickInterval: getEnvDuration("MOCK_TICK_INTERVAL", 250*time.Millisecond),
		MockStartPrice:   getEnvDecimal("MOCK_START_PRICE", "100"),
		MockStep:         getEnvDecimal("MOCK_STEP", "0.5"),
		MockTraders:      splitAndTrim(getEnv("MOCK_TRADERS", "")),

		MaxPositionPerInstrument: getEnvDecimal("MAX_POSITION_PER_INSTRUMENT", "10"),
		MaxNotionalExposure:      getEnvDecimal("MAX_NOTIONAL_EXPOSURE", "100000"),
		MaxOrderRate:             getEnvFloat("MAX_ORDER_RATE", 10),
		OrderBurst:               getEnvInt("ORDER_BURST", 20),

		MaxOrderQty:      getEnvDecimal("MAX_ORDER_QTY", "0"),
		MaxOrderNotional: getEnvDecimal("MAX_ORDER_NOTIONAL", "0"),

		AckTimeout:     getEnvDuration("ACK_TIMEOUT", 5*time.Second),
		DrainTimeout:   getEnvDuration("DRAIN_TIMEOUT", 10*time.Second),
		ArchiveGrace:   getEnvDuration("ARCHIVE_GRACE", time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
		SnapshotEvery:  getEnvDuration("SNAPSHOT_EVERY", time.Minute),
		EnginePartitions: getEnvInt("ENGINE_PARTITIONS", 4),

		PaperLatencyMinMs: getEnvInt("PAPER_LATENCY_MIN_MS", 5),
		PaperLatencyMaxMs: getEnvInt("PAPER_LATENCY_MAX_MS", 50),
		PaperSlippageBps:  getEnvFloat("PAPER_SLIPPAGE_BPS", 2),
		PaperFeeBps:       getEnvFloat("PAPER_FEE_BPS", 10),
		PaperFillChunks:   getEnvInt("PAPER_FILL_CHUNKS", 2),

		DBPath: getEnv("DB_PATH", "./data/engine.db"),

		StrategiesPath: getEnv("STRATEGIES_PATH", "./config/strategies.yaml"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDecimal(key, def string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(def)
	return d
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
