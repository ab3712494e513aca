package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.TopK != 5 || cfg.RAG.HistoryRounds != 5 || cfg.RAG.ChunkSize != 500 || cfg.RAG.ChunkOverlap != 100 {
		t.Fatalf("rag defaults = %+v", cfg.RAG)
	}
	if cfg.LLM.Generation.Temperature != 0.8 || cfg.LLM.Generation.MaxTokens != 1024 || cfg.LLM.Model != "qwen-max" {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Vector.Backend != "milvus" || cfg.Embedding.Dimensions != 256 {
		t.Fatalf("vector defaults = %+v / %d", cfg.Vector, cfg.Embedding.Dimensions)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "rag:\n  top_k: 8\nvector:\n  backend: qdrant\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KBQA_RAG_HISTORY_ROUNDS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.TopK != 8 || cfg.Vector.Backend != "qdrant" {
		t.Fatalf("file values not applied: %+v %+v", cfg.RAG, cfg.Vector)
	}
	if cfg.RAG.HistoryRounds != 2 {
		t.Fatalf("env override not applied: %d", cfg.RAG.HistoryRounds)
	}
}

func TestEnvOnlySecretsWithoutFile(t *testing.T) {
	t.Setenv("KBQA_LLM_API_KEY", "sk-env")
	t.Setenv("KBQA_DATABASE_MYSQL_DSN", "root:pw@tcp(db:3306)/kbqa")
	t.Setenv("KBQA_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("KBQA_MINIO_ACCESS_KEY_ID", "ak")
	t.Setenv("KBQA_MINIO_SECRET_ACCESS_KEY", "sk")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" || cfg.Database.MySQL.DSN != "root:pw@tcp(db:3306)/kbqa" {
		t.Fatalf("env secrets not applied: %q %q", cfg.LLM.APIKey, cfg.Database.MySQL.DSN)
	}
	if cfg.MinIO.Endpoint != "minio:9000" || cfg.MinIO.AccessKeyID != "ak" || cfg.MinIO.SecretAccessKey != "sk" {
		t.Fatalf("minio = %+v", cfg.MinIO)
	}
}

func TestTestingModeForcesInProcessBackends(t *testing.T) {
	t.Setenv("KBQA_TESTING", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Testing || cfg.Vector.Backend != "memory" || cfg.Database.Driver != "sqlite" {
		t.Fatalf("testing overrides = %+v %+v", cfg.Vector, cfg.Database)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_ = os.WriteFile(path, []byte("rag: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
