package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POLICY_STORE", "QDRANT_HOST", "QDRANT_PORT", "PORT",
		"OBJECT_STORE_DIR", "INGEST_WORKERS",
		"CHUNK_MAX_TOKENS", "CHUNK_OVERLAP_TOKENS", "EMBED_BATCH_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreQdrant, cfg.Store)
	assert.Equal(t, "localhost", cfg.QdrantHost)
	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "data/objects", cfg.ObjectStoreDir)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 800, cfg.ChunkMaxTokens)
	assert.Equal(t, 120, cfg.ChunkOverlapTokens)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLICY_STORE", StoreMemory)
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_PORT", "7001")
	t.Setenv("PORT", "9090")
	t.Setenv("INGEST_WORKERS", "4")
	t.Setenv("CHUNK_MAX_TOKENS", "400")
	t.Setenv("CHUNK_OVERLAP_TOKENS", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "qdrant.internal", cfg.QdrantHost)
	assert.Equal(t, 7001, cfg.QdrantPort)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 400, cfg.ChunkMaxTokens)
	assert.Equal(t, 50, cfg.ChunkOverlapTokens)
}

func TestLoad_UnknownStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLICY_STORE", "dynamo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLICY_STORE")
}

func TestLoad_InvalidChunkBounds(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_MAX_TOKENS", "-1")
	_, err := Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("CHUNK_MAX_TOKENS", "100")
	t.Setenv("CHUNK_OVERLAP_TOKENS", "100")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_NonPositiveWorkersDefaultsToOne(t *testing.T) {
	clearEnv(t)
	t.Setenv("INGEST_WORKERS", "-3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers)
}

func TestLoad_MalformedIntFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("QDRANT_PORT", "not-a-port")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6334, cfg.QdrantPort)
}
