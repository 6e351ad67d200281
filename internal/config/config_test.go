package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

func TestLoad_Defaults(t *testing.T) {
	// 测试加载默认值（不提供配置文件）
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "flusso.db", cfg.Storage.Path)
	assert.Equal(t, 0.4, cfg.Workflow.Thresholds.Hallucination)
	assert.Equal(t, 0.6, cfg.Workflow.Thresholds.Confidence)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 10, cfg.Workflow.TextTopK)
	assert.Equal(t, 5, cfg.Workflow.ImageTopK)
	assert.Equal(t, workflow.MaxNodeExecutions, cfg.Workflow.MaxSteps)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Model)
	assert.True(t, cfg.Server.Async)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "flusso-workflow-logs", cfg.Shipper.Topic)
	assert.False(t, cfg.Shipper.Enabled())

	// 默认配置缺少凭据
	assert.Error(t, cfg.ValidateRuntime())
}

func TestLoad_ConfigFile(t *testing.T) {
	// 创建临时配置文件
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
log_level: "debug"
log_format: "json"
ark:
  api_key: "file-key"
  model_id: "file-model"
storage:
  path: "test.db"
  busy_timeout: "10s"
freshdesk:
  domain: "acme.freshdesk.com"
  api_key: "fd"
pinecone:
  api_key: "pc"
  doc_host: "docs.pinecone.io"
  ticket_host: "tickets.pinecone.io"
embedding:
  base_url: "https://embed.example.com/v1"
  model: "text-embedding-3-small"
workflow:
  thresholds:
    hallucination: 0.3
  past_top_k: 8
timeouts:
  model: "30s"
shipper:
  brokers: ["k1:9092", "k2:9092"]
policy:
  file: "rules.yaml"
`)
	require.NoError(t, os.WriteFile(configFile, content, 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test.db", cfg.Storage.Path)
	assert.Equal(t, 10*time.Second, cfg.Storage.BusyTimeout)
	assert.Equal(t, 0.3, cfg.Workflow.Thresholds.Hallucination)
	assert.Equal(t, 0.6, cfg.Workflow.Thresholds.Confidence)
	assert.Equal(t, 8, cfg.Workflow.PastTopK)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Shipper.Brokers)
	assert.True(t, cfg.Shipper.Enabled())
	assert.Equal(t, "rules.yaml", cfg.Policy.File)
	assert.NoError(t, cfg.ValidateRuntime())

	s := cfg.WorkflowSettings()
	assert.Equal(t, 30*time.Second, s.ModelTimeout)
	assert.Equal(t, 20*time.Second, s.RetrievalTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARK_API_KEY", "env-key")
	t.Setenv("ARK_MODEL_ID", "env-model")
	t.Setenv("FLUSSO_SERVER_ASYNC", "false")
	t.Setenv("FLUSSO_WORKFLOW_THRESHOLDS_CONFIDENCE", "0.7")
	t.Setenv("FRESHDESK_DOMAIN", "env.freshdesk.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Ark.APIKey)
	assert.Equal(t, "env-model", cfg.Ark.ModelID)
	assert.False(t, cfg.Server.Async)
	assert.Equal(t, 0.7, cfg.Workflow.Thresholds.Confidence)
	assert.Equal(t, "env.freshdesk.com", cfg.Freshdesk.Domain)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.LogLevel = "verbose"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Workflow.Thresholds.Hallucination = 1.2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Workflow.MaxVisits = 10
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.LogFormat = "xml"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Workflow.Thresholds.Confidence = -0.1
	assert.Error(t, bad.Validate())

	// 0 是最严格的阈值，合法
	strict := cfg
	strict.Workflow.Thresholds.Hallucination = 0
	assert.NoError(t, strict.Validate())
}

func TestValidateRuntime_EmbeddingProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ark.APIKey, cfg.Ark.ModelID = "k", "m"
	cfg.Freshdesk.Domain, cfg.Freshdesk.APIKey = "acme.freshdesk.com", "fd"
	cfg.Pinecone.APIKey, cfg.Pinecone.DocHost, cfg.Pinecone.TicketHost = "pc", "d", "t"
	cfg.Embedding.Model = "doubao-embedding"

	cfg.Embedding.Provider = "openai"
	assert.ErrorContains(t, cfg.ValidateRuntime(), "embedding.base_url")

	// ark 没有 base_url 时使用默认地址
	cfg.Embedding.Provider = "ark"
	assert.NoError(t, cfg.ValidateRuntime())
}

func TestLoad_BadFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("log_level: [oops"), 0o644))
	_, err := Load(configFile)
	assert.Error(t, err)
}
