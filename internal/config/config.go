// Package config provides configuration management for engram. It loads
// settings from environment variables with the ENGRAM_ prefix and provides
// sensible defaults for all configuration options. The core is configured
// once, at process startup, into an immutable Config value threaded into
// the Engine by reference (see Design Notes §9); there is no config file
// format and no database-backed settings layer for the core itself.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the engram core.
type Config struct {
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Evolution EvolutionConfig
	Ports     PortConfig
	Security  SecurityConfig
}

// StorageConfig selects and locates the backing store.
type StorageConfig struct {
	StorageEngine string // "sqlite" or "postgres" (default: sqlite)
	DSN           string // sqlite file path or postgres connection string
	EmbeddingDim  int    // vector dimension, fixed at first init (default: 384)
}

// RetrievalConfig holds the hybrid ranker's tunable weights and limits,
// overridable per spec.md §4.5 defaults.
type RetrievalConfig struct {
	WeightVector float64 // w_v, default 0.7
	WeightKeyword float64 // w_k, default 0.2
	WeightGraph   float64 // w_g, default 0.1

	SeedSize       int // S, top-S per channel unioned into the seed set, default 20
	GraphDepth     int // graph channel BFS depth, default 2
	GraphThreshold float64 // minimum link strength traversed, default 0.3
}

// EvolutionConfig holds the background maintainer's cadence and thresholds.
type EvolutionConfig struct {
	Cadence time.Duration // tick interval, default 1h

	ConsolidationCosineThreshold  float64 // default 0.92
	ConsolidationJaccardThreshold float64 // default 0.4

	DecayAfter        time.Duration // τ_decay, default 30 days
	DecayFactor       float64       // β, default 0.9
	DecayFloor        float64       // delete links below this strength, default 0.1

	ArchiveImportanceMax int           // default 3
	ArchiveIdleAfter     time.Duration // default 90 days

	BatchSize int // bounded batch size per cycle, default 200
}

// PortConfig bounds Enricher/Embedder port calls.
type PortConfig struct {
	Timeout              time.Duration // default 30s
	CircuitMaxFailures   uint32        // default 3
	CircuitOpenTimeout   time.Duration // default 30s
	RateLimitPerSecond   float64       // default 5
}

// SecurityConfig controls the optional agent policy layer.
type SecurityConfig struct {
	PolicyEnabled bool // from ENGRAM_POLICY_ENABLED (default false); the engine filters by role whenever one is supplied, whatever this says
}

// Load builds a Config from ENGRAM_-prefixed environment variables, falling
// back to spec.md's stated defaults for anything unset.
func Load() *Config {
	return &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("ENGRAM_STORAGE_ENGINE", "sqlite"),
			DSN:           getEnv("ENGRAM_DSN", "./engram.db"),
			EmbeddingDim:  getEnvInt("ENGRAM_EMBEDDING_DIM", 384),
		},
		Retrieval: RetrievalConfig{
			WeightVector:   getEnvFloat("ENGRAM_WEIGHT_VECTOR", 0.7),
			WeightKeyword:  getEnvFloat("ENGRAM_WEIGHT_KEYWORD", 0.2),
			WeightGraph:    getEnvFloat("ENGRAM_WEIGHT_GRAPH", 0.1),
			SeedSize:       getEnvInt("ENGRAM_SEED_SIZE", 20),
			GraphDepth:     getEnvInt("ENGRAM_GRAPH_DEPTH", 2),
			GraphThreshold: getEnvFloat("ENGRAM_GRAPH_THRESHOLD", 0.3),
		},
		Evolution: EvolutionConfig{
			Cadence:                       getEnvDuration("ENGRAM_EVOLUTION_CADENCE", time.Hour),
			ConsolidationCosineThreshold:  getEnvFloat("ENGRAM_CONSOLIDATION_COSINE", 0.92),
			ConsolidationJaccardThreshold: getEnvFloat("ENGRAM_CONSOLIDATION_JACCARD", 0.4),
			DecayAfter:                    getEnvDuration("ENGRAM_DECAY_AFTER", 30*24*time.Hour),
			DecayFactor:                   getEnvFloat("ENGRAM_DECAY_FACTOR", 0.9),
			DecayFloor:                    getEnvFloat("ENGRAM_DECAY_FLOOR", 0.1),
			ArchiveImportanceMax:          getEnvInt("ENGRAM_ARCHIVE_IMPORTANCE_MAX", 3),
			ArchiveIdleAfter:              getEnvDuration("ENGRAM_ARCHIVE_IDLE_AFTER", 90*24*time.Hour),
			BatchSize:                     getEnvInt("ENGRAM_EVOLUTION_BATCH_SIZE", 200),
		},
		Ports: PortConfig{
			Timeout:            getEnvDuration("ENGRAM_PORT_TIMEOUT", 30*time.Second),
			CircuitMaxFailures: uint32(getEnvInt("ENGRAM_CIRCUIT_MAX_FAILURES", 3)),
			CircuitOpenTimeout: getEnvDuration("ENGRAM_CIRCUIT_OPEN_TIMEOUT", 30*time.Second),
			RateLimitPerSecond: getEnvFloat("ENGRAM_PORT_RATE_LIMIT", 5),
		},
		Security: SecurityConfig{
			PolicyEnabled: getEnvBool("ENGRAM_POLICY_ENABLED", false),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
