package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Ingestion.ChunkSize)
	assert.Equal(t, 200, cfg.Ingestion.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.3, cfg.Retrieval.RelevanceFloor, 1e-6)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, int64(500<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff())
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, MetadataBackendMySQL, cfg.Metadata.Backend)
	assert.Equal(t, 10*time.Minute, cfg.HistoryTTL())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9000

[retrieval]
top_k = 8

[queue]
backend = "rabbitmq"

[vector_index]
backend = "pgvector"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("RETRIEVAL_TOP_K", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr())
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, QueueBackendRabbitMQ, cfg.Queue.Backend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.App.CORSOrigins)
}

func TestValidateRejectsMemoryIndexWithRemoteWorkers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.Backend = QueueBackendRabbitMQ
	cfg.VectorIndex.Backend = IndexBackendMemory

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMemoryMetadataWithRemoteWorkers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Metadata.Backend = MetadataBackendMemory
	assert.NoError(t, cfg.Validate())

	cfg.Queue.Backend = QueueBackendRabbitMQ
	cfg.VectorIndex.Backend = IndexBackendPgvector
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresRedisForRemoteWorkers(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.Backend = QueueBackendRabbitMQ
	cfg.VectorIndex.Backend = IndexBackendPgvector
	require.NoError(t, cfg.Validate())

	cfg.Redis.Addr = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.Backend = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Metadata.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Retrieval.RelevanceFloor = 1.5
	assert.Error(t, cfg.Validate())
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.Password = "secret"
	assert.Equal(t, "root:secret@tcp(127.0.0.1:3306)/intellixdoc?parseTime=true&loc=Local&charset=utf8mb4&clientFoundRows=true", cfg.MySQLDSN())
}
