// Package config loads environment configuration for the policy copilot.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Store backends selectable via POLICY_STORE.
const (
	StoreQdrant = "qdrant"
	StoreMemory = "memory"
)

// Config is the environment configuration shared by both binaries.
type Config struct {
	// Store selects the chunk store backend: "qdrant" or "memory".
	Store string

	QdrantHost string
	QdrantPort int

	// Port is the HTTP listen port of policyd.
	Port string

	// ObjectStoreDir is the root of the filesystem object store holding
	// uploaded documents.
	ObjectStoreDir string

	// Workers bounds the ingestion worker pool.
	Workers int

	ChunkMaxTokens     int
	ChunkOverlapTokens int
	EmbedBatchSize     int
}

// Load reads configuration from the environment, applying defaults.
// It fails fast on values that cannot possibly work, so misconfiguration is
// caught at startup rather than mid-request.
func Load() (*Config, error) {
	cfg := &Config{
		Store:              getEnv("POLICY_STORE", StoreQdrant),
		QdrantHost:         getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:         getEnvInt("QDRANT_PORT", 6334),
		Port:               getEnv("PORT", "8080"),
		ObjectStoreDir:     getEnv("OBJECT_STORE_DIR", "data/objects"),
		Workers:            getEnvInt("INGEST_WORKERS", 1),
		ChunkMaxTokens:     getEnvInt("CHUNK_MAX_TOKENS", 800),
		ChunkOverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 120),
		EmbedBatchSize:     getEnvInt("EMBED_BATCH_SIZE", 0),
	}

	if cfg.Store != StoreQdrant && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("POLICY_STORE must be %q or %q, got %q", StoreQdrant, StoreMemory, cfg.Store)
	}
	if cfg.ChunkMaxTokens <= 0 {
		return nil, fmt.Errorf("CHUNK_MAX_TOKENS must be positive, got %d", cfg.ChunkMaxTokens)
	}
	if cfg.ChunkOverlapTokens < 0 || cfg.ChunkOverlapTokens >= cfg.ChunkMaxTokens {
		return nil, fmt.Errorf("CHUNK_OVERLAP_TOKENS must be in [0, CHUNK_MAX_TOKENS), got %d", cfg.ChunkOverlapTokens)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
