// Package config loads the engine's runtime configuration from the
// environment. It is immutable after Load() returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the engine's components need, loaded from
// environment variables with documented defaults.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int

	EmbeddingServiceURL string
	EmbeddingModel      string

	RedisURL string

	HNSWM              int
	HNSWEfConstruction int
	HNSWEfSearch       int
	HNSWMaxLayers      int

	EmbeddingCacheSize     int
	SemanticCacheSize      int
	ResultCacheSize        int
	SemanticCacheThreshold float64
	ResultCacheTTL         time.Duration
	DurableCacheRequired   bool

	HybridSearchEnabled bool
	SemanticWeight      float64
	KeywordWeight       float64
	UseRRF              bool
	RRFK                int

	RerankingEnabled bool
	DiversityPenalty float64

	TemporalDecayEnabled bool
	TemporalHalfLife     float64
	TemporalMinWeight    float64

	MaxContextTokens        int
	MinContextRelevance     float64
	ContextImportanceWeight float64

	EmbeddingBatchSize    int
	BatchTimeout          time.Duration
	ConnectionPoolSize    int
	BackgroundConcurrency int

	RateLimitMaxRequests int
	RateLimitWindow      time.Duration
}

// Load reads configuration from environment variables. DATABASE_URL and
// EMBEDDING_SERVICE_URL are required; everything else has a documented
// default matching the retrieval pipeline's reference parameters.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	embeddingURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingURL == "" {
		return nil, fmt.Errorf("config.Load: EMBEDDING_SERVICE_URL is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),

		EmbeddingServiceURL: embeddingURL,
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-004"),

		RedisURL: envStr("REDIS_URL", ""),

		HNSWM:              envInt("HNSW_M", 16),
		HNSWEfConstruction: envInt("HNSW_EF_CONSTRUCTION", 200),
		HNSWEfSearch:       envInt("HNSW_EF_SEARCH", 100),
		HNSWMaxLayers:      envInt("HNSW_MAX_LAYERS", 5),

		EmbeddingCacheSize:     envInt("EMBEDDING_CACHE_SIZE", 10000),
		SemanticCacheSize:      envInt("SEMANTIC_CACHE_SIZE", 5000),
		ResultCacheSize:        envInt("RESULT_CACHE_SIZE", 1000),
		SemanticCacheThreshold: envFloat("SEMANTIC_CACHE_THRESHOLD", 0.95),
		ResultCacheTTL:         envDuration("RESULT_CACHE_TTL", 5*time.Minute),
		DurableCacheRequired:   envBool("DURABLE_CACHE_REQUIRED", false),

		HybridSearchEnabled: envBool("HYBRID_SEARCH_ENABLED", true),
		SemanticWeight:      envFloat("SEMANTIC_WEIGHT", 0.7),
		KeywordWeight:       envFloat("KEYWORD_WEIGHT", 0.3),
		UseRRF:              envBool("USE_RRF", true),
		RRFK:                envInt("RRF_K", 60),

		RerankingEnabled: envBool("RERANKING_ENABLED", true),
		DiversityPenalty: envFloat("DIVERSITY_PENALTY", 0.1),

		TemporalDecayEnabled: envBool("TEMPORAL_DECAY_ENABLED", true),
		TemporalHalfLife:     envFloat("TEMPORAL_HALF_LIFE_DAYS", 30),
		TemporalMinWeight:    envFloat("TEMPORAL_MIN_WEIGHT", 0.1),

		MaxContextTokens:        envInt("MAX_CONTEXT_TOKENS", 2000),
		MinContextRelevance:     envFloat("MIN_CONTEXT_RELEVANCE", 0.3),
		ContextImportanceWeight: envFloat("CONTEXT_IMPORTANCE_WEIGHT", 0.3),

		EmbeddingBatchSize:    envInt("EMBEDDING_BATCH_SIZE", 10),
		BatchTimeout:          envDuration("EMBEDDING_BATCH_TIMEOUT", 50*time.Millisecond),
		ConnectionPoolSize:    envInt("CONNECTION_POOL_SIZE", 5),
		BackgroundConcurrency: envInt("BACKGROUND_CONCURRENCY", 5),

		RateLimitMaxRequests: envInt("RATE_LIMIT_MAX_REQUESTS", 120),
		RateLimitWindow:      envDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
