package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent-env", "")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 600, cfg.RAG.ChunkSize)
	require.Equal(t, 100, cfg.RAG.ChunkOverlap)
	require.Equal(t, 5, cfg.RAG.FinalTopK)
	require.Equal(t, 3, cfg.RAG.OverfetchFactor)
	require.Equal(t, 50, cfg.RAG.MaxUploadMB)
	require.Equal(t, "memory", cfg.RAG.VectorStore.Type)
	require.Equal(t, 1024, cfg.RAG.Embedding.Dimension)
	require.Equal(t, 3000, cfg.RAG.LLM.ContextTokenBudget)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
rag:
  chunk_size: 400
  chunk_overlap: 50
  vector_store:
    type: qdrant
    qdrant:
      endpoint: http://localhost:6333
      collection: docs
servicenow:
  instance: https://dev12345.service-now.com
  username: api-user
`)

	cfg, err := Load("test", path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 400, cfg.RAG.ChunkSize)
	require.Equal(t, 50, cfg.RAG.ChunkOverlap)
	require.Equal(t, "qdrant", cfg.RAG.VectorStore.Type)
	require.Equal(t, "docs", cfg.RAG.VectorStore.Qdrant.Collection)
	require.Equal(t, "https://dev12345.service-now.com", cfg.ServiceNow.Instance)

	// 文件未覆盖的字段保持默认值
	require.Equal(t, 5, cfg.RAG.FinalTopK)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_SERVER_PORT", "7070")
	t.Setenv("APP_RAG_CHUNK_SIZE", "300")

	cfg, err := Load("nonexistent-env", "")
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 300, cfg.RAG.ChunkSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{RAG: RagConfig{
			ChunkSize:       600,
			ChunkOverlap:    100,
			FinalTopK:       5,
			OverfetchFactor: 3,
			MaxUploadMB:     50,
			Embedding:       EmbeddingConfig{Dimension: 1024},
		}}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk_size 为零", func(c *Config) { c.RAG.ChunkSize = 0 }},
		{"overlap 不小于 chunk_size", func(c *Config) { c.RAG.ChunkOverlap = 600 }},
		{"overlap 为负", func(c *Config) { c.RAG.ChunkOverlap = -1 }},
		{"top_k 为零", func(c *Config) { c.RAG.FinalTopK = 0 }},
		{"overfetch 小于 1", func(c *Config) { c.RAG.OverfetchFactor = 0 }},
		{"上传上限为零", func(c *Config) { c.RAG.MaxUploadMB = 0 }},
		{"未知存储类型", func(c *Config) { c.RAG.VectorStore.Type = "faiss" }},
		{"向量维度为零", func(c *Config) { c.RAG.Embedding.Dimension = 0 }},
		{"向量维度为负", func(c *Config) { c.RAG.Embedding.Dimension = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base().Validate())
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432,
		User: "postgres", Password: "secret",
		DBName: "docqa", SSLMode: "disable",
	}
	require.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=docqa sslmode=disable",
		db.GetDSN())
}

func TestMaxUploadBytes(t *testing.T) {
	rag := RagConfig{MaxUploadMB: 50}
	require.Equal(t, int64(50<<20), rag.MaxUploadBytes())
}
