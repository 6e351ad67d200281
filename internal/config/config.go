package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ProductLabsUS/Flusso-Automation/internal/dispatch"
	"github.com/ProductLabsUS/Flusso-Automation/internal/freshdesk"
	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
	"github.com/ProductLabsUS/Flusso-Automation/internal/policy"
	"github.com/ProductLabsUS/Flusso-Automation/internal/retrieval"
	"github.com/ProductLabsUS/Flusso-Automation/internal/server"
	"github.com/ProductLabsUS/Flusso-Automation/internal/shipper"
	"github.com/ProductLabsUS/Flusso-Automation/internal/storage"
	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// TimeoutConfig 每类外部调用的超时
type TimeoutConfig struct {
	Model     time.Duration `mapstructure:"model"`
	Retrieval time.Duration `mapstructure:"retrieval"`
	Ticketing time.Duration `mapstructure:"ticketing"`
	Ship      time.Duration `mapstructure:"ship"`
}

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Storage   storage.Config            `mapstructure:"storage"`
	Ark       llm.ArkConfig             `mapstructure:"ark"`
	Embedding retrieval.EmbeddingConfig `mapstructure:"embedding"`
	Pinecone  retrieval.PineconeConfig  `mapstructure:"pinecone"`
	Freshdesk freshdesk.Config          `mapstructure:"freshdesk"`
	Workflow  workflow.Settings         `mapstructure:"workflow"`
	Timeouts  TimeoutConfig             `mapstructure:"timeouts"`
	Server    server.Config             `mapstructure:"server"`
	Dispatch  dispatch.Config           `mapstructure:"dispatch"`
	Retention dispatch.RetentionConfig  `mapstructure:"retention"`
	Redis     dispatch.RedisConfig      `mapstructure:"redis"`
	Shipper   shipper.Config            `mapstructure:"shipper"`
	Policy    policy.Config             `mapstructure:"policy"`
}

func Load(cfgFile string) (*Config, error) {
	// 1. 初始化 Viper
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.flusso")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FLUSSO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只处理 viper 已知的 key，所以每个 key 都要有默认值
	setDefaults(v)

	// 2. 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 3. 反序列化 (文件/环境变量 覆盖 默认值)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 4. 验证关键配置
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 检查取值范围；凭据类配置由 ValidateRuntime 检查
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	th := c.Workflow.Thresholds
	if th.Hallucination < 0 || th.Hallucination > 1 {
		return fmt.Errorf("workflow.thresholds.hallucination must be in [0,1], got %v", th.Hallucination)
	}
	if th.Confidence < 0 || th.Confidence > 1 {
		return fmt.Errorf("workflow.thresholds.confidence must be in [0,1], got %v", th.Confidence)
	}
	if c.Workflow.MaxVisits > workflow.MaxNodeVisits {
		return fmt.Errorf("workflow.max_visits cannot exceed %d", workflow.MaxNodeVisits)
	}
	if c.Workflow.MaxSteps > workflow.MaxNodeExecutions {
		return fmt.Errorf("workflow.max_steps cannot exceed %d", workflow.MaxNodeExecutions)
	}
	return nil
}

// ValidateRuntime 运行工作流（serve / run）所需的外部依赖配置
func (c *Config) ValidateRuntime() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	if c.Freshdesk.Domain == "" || c.Freshdesk.APIKey == "" {
		return fmt.Errorf("freshdesk.domain and freshdesk.api_key are required")
	}
	if c.Pinecone.APIKey == "" {
		return fmt.Errorf("pinecone.api_key is required")
	}
	if c.Pinecone.DocHost == "" || c.Pinecone.TicketHost == "" {
		return fmt.Errorf("pinecone.doc_host and pinecone.ticket_host are required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if !strings.EqualFold(c.Embedding.Provider, retrieval.ProviderArk) && c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required for the openai provider")
	}
	return nil
}

// WorkflowSettings 将 timeouts 合并进工作流参数
func (c *Config) WorkflowSettings() workflow.Settings {
	s := c.Workflow
	s.ModelTimeout = c.Timeouts.Model
	s.RetrievalTimeout = c.Timeouts.Retrieval
	s.TicketingTimeout = c.Timeouts.Ticketing
	s.ShipTimeout = c.Timeouts.Ship
	return s
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	// -------------------------------------------------------------------------
	// Global Defaults (全局默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	// -------------------------------------------------------------------------
	// Storage Defaults (审计库默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", def.Storage.Path)
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.enable_wal", def.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", def.Storage.BusyTimeout)
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", time.Duration(0))

	// -------------------------------------------------------------------------
	// Ark AI Defaults (AI 模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", def.Ark.BaseURL)

	v.BindEnv("ark.api_key", "ARK_API_KEY")
	v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	v.BindEnv("ark.base_url", "ARK_BASE_URL")

	// -------------------------------------------------------------------------
	// Retrieval Defaults (向量检索默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("embedding.provider", retrieval.ProviderOpenAI)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.image_url", "")
	v.SetDefault("embedding.image_api_key", "")

	v.SetDefault("pinecone.api_key", "")
	v.SetDefault("pinecone.image_host", "")
	v.SetDefault("pinecone.doc_host", "")
	v.SetDefault("pinecone.ticket_host", "")
	v.SetDefault("pinecone.namespace", "")
	v.BindEnv("pinecone.api_key", "FLUSSO_PINECONE_API_KEY", "PINECONE_API_KEY")

	// -------------------------------------------------------------------------
	// Freshdesk Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("freshdesk.domain", "")
	v.SetDefault("freshdesk.api_key", "")
	v.BindEnv("freshdesk.domain", "FLUSSO_FRESHDESK_DOMAIN", "FRESHDESK_DOMAIN")
	v.BindEnv("freshdesk.api_key", "FLUSSO_FRESHDESK_API_KEY", "FRESHDESK_API_KEY")

	// -------------------------------------------------------------------------
	// Workflow Defaults (决策阈值与检索参数)
	// -------------------------------------------------------------------------
	v.SetDefault("workflow.thresholds.hallucination", def.Workflow.Thresholds.Hallucination)
	v.SetDefault("workflow.thresholds.confidence", def.Workflow.Thresholds.Confidence)
	v.SetDefault("workflow.text_top_k", def.Workflow.TextTopK)
	v.SetDefault("workflow.image_top_k", def.Workflow.ImageTopK)
	v.SetDefault("workflow.past_top_k", def.Workflow.PastTopK)
	v.SetDefault("workflow.max_merged_hits", def.Workflow.MaxMergedHits)
	v.SetDefault("workflow.max_visits", def.Workflow.MaxVisits)
	v.SetDefault("workflow.max_steps", def.Workflow.MaxSteps)

	v.SetDefault("timeouts.model", def.Timeouts.Model)
	v.SetDefault("timeouts.retrieval", def.Timeouts.Retrieval)
	v.SetDefault("timeouts.ticketing", def.Timeouts.Ticketing)
	v.SetDefault("timeouts.ship", def.Timeouts.Ship)

	// -------------------------------------------------------------------------
	// Server / Dispatch Defaults (HTTP 入口与异步处理)
	// -------------------------------------------------------------------------
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.async", def.Server.Async)
	v.SetDefault("server.webhook_token", "")
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)

	v.SetDefault("dispatch.workers", def.Dispatch.Workers)
	v.SetDefault("dispatch.queue_size", def.Dispatch.QueueSize)
	v.SetDefault("dispatch.in_flight_ttl", def.Dispatch.InFlightTTL)
	v.SetDefault("dispatch.run_timeout", def.Dispatch.RunTimeout)

	v.SetDefault("retention.enabled", def.Retention.Enabled)
	v.SetDefault("retention.keep_for", def.Retention.KeepFor)
	v.SetDefault("retention.interval", def.Retention.Interval)
	v.SetDefault("retention.batch_rows", def.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", def.Retention.IdleSleep)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "flusso:inflight:")

	// -------------------------------------------------------------------------
	// Shipper Defaults (远端审计镜像)
	// -------------------------------------------------------------------------
	v.SetDefault("shipper.brokers", []string{})
	v.SetDefault("shipper.topic", def.Shipper.Topic)
	v.SetDefault("shipper.client_id", def.Shipper.ClientID)
	v.SetDefault("shipper.environment", def.Shipper.Environment)
	v.SetDefault("shipper.workflow_version", def.Shipper.WorkflowVersion)
	v.SetDefault("shipper.hash_key", "")
	v.SetDefault("shipper.timeout", def.Shipper.Timeout)

	v.SetDefault("policy.file", "")
}

func DefaultConfig() Config {
	wf := workflow.DefaultSettings()
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Storage: storage.Config{
			Path:        "flusso.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		Ark: llm.ArkConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		},
		Workflow: wf,
		Timeouts: TimeoutConfig{
			Model:     wf.ModelTimeout,
			Retrieval: wf.RetrievalTimeout,
			Ticketing: wf.TicketingTimeout,
			Ship:      wf.ShipTimeout,
		},
		Server: server.Config{
			Addr:            ":8000",
			Async:           true,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Dispatch: dispatch.DefaultConfig(),
		Retention: dispatch.RetentionConfig{
			Enabled:   true,
			KeepFor:   90 * 24 * time.Hour,
			Interval:  time.Hour,
			BatchRows: 500,
			IdleSleep: 50 * time.Millisecond,
		},
		Shipper: shipper.Config{
			Topic:           "flusso-workflow-logs",
			ClientID:        "flusso",
			Environment:     "production",
			WorkflowVersion: "1.0.0",
			Timeout:         2 * time.Second,
		},
	}
}
