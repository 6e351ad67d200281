package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
)

// TicketSource 拉取工单
type TicketSource interface {
	FetchTicket(ctx context.Context, id string) (Ticket, error)
}

// TicketSink 写回工单：备注与标签
type TicketSink interface {
	PostNote(ctx context.Context, id, text string, private bool) error
	UpdateTags(ctx context.Context, id string, tags []string) error
}

// ImageEmbedder 将图片引用（URL）转换为向量
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, ref string) ([]float64, error)
}

// VectorIndex 单个向量索引上的相似度检索
type VectorIndex interface {
	Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]Hit, error)
}

// ModelCaller 大模型调用；返回模型的原始文本输出，由各节点自行解析
type ModelCaller interface {
	Call(ctx context.Context, req llm.Request) (string, error)
}

// CustomerProfile 客户识别结果
type CustomerProfile struct {
	Type     CustomerType
	Metadata map[string]string
	Reason   string
}

// CustomerResolver 根据邮箱与标签识别客户类型
type CustomerResolver interface {
	Resolve(ctx context.Context, email string, tags []string) (CustomerProfile, error)
}

// RuleBook 返回某类客户适用的策略规则，没有规则时返回空 map
type RuleBook interface {
	RulesFor(ct CustomerType) map[string]any
}

// Deps 聚合 Graph 运行所需的全部协作方，所有实现都必须可并发使用
type Deps struct {
	Tickets TicketSource
	Sink    TicketSink
	Model   ModelCaller

	TextEmbedder  embedding.Embedder
	ImageEmbedder ImageEmbedder
	ImageIndex    VectorIndex
	DocIndex      VectorIndex
	TicketIndex   VectorIndex

	Customers CustomerResolver
	Rules     RuleBook

	Audit   AuditSink
	Shipper Shipper

	Logger *slog.Logger
	Now    func() time.Time
}

// Settings 运行参数
type Settings struct {
	Thresholds Thresholds `mapstructure:"thresholds"`

	TextTopK      int `mapstructure:"text_top_k"`
	ImageTopK     int `mapstructure:"image_top_k"`
	PastTopK      int `mapstructure:"past_top_k"`
	MaxMergedHits int `mapstructure:"max_merged_hits"`

	MaxVisits int `mapstructure:"max_visits"`
	MaxSteps  int `mapstructure:"max_steps"`

	ModelTimeout     time.Duration `mapstructure:"-"`
	RetrievalTimeout time.Duration `mapstructure:"-"`
	TicketingTimeout time.Duration `mapstructure:"-"`
	ShipTimeout      time.Duration `mapstructure:"-"`
}

// DefaultSettings 返回默认运行参数
func DefaultSettings() Settings {
	return Settings{
		Thresholds:       DefaultThresholds(),
		TextTopK:         10,
		ImageTopK:        5,
		PastTopK:         5,
		MaxMergedHits:    25,
		MaxVisits:        MaxNodeVisits,
		MaxSteps:         MaxNodeExecutions,
		ModelTimeout:     60 * time.Second,
		RetrievalTimeout: 20 * time.Second,
		TicketingTimeout: 15 * time.Second,
		ShipTimeout:      2 * time.Second,
	}
}

// normalized 将非法值替换为默认值
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	// 阈值 0 是合法的最严格设置，只替换越界值
	if s.Thresholds.Hallucination < 0 || s.Thresholds.Hallucination > 1 {
		s.Thresholds.Hallucination = def.Thresholds.Hallucination
	}
	if s.Thresholds.Confidence < 0 || s.Thresholds.Confidence > 1 {
		s.Thresholds.Confidence = def.Thresholds.Confidence
	}
	if s.TextTopK <= 0 {
		s.TextTopK = def.TextTopK
	}
	if s.ImageTopK <= 0 {
		s.ImageTopK = def.ImageTopK
	}
	if s.PastTopK <= 0 {
		s.PastTopK = def.PastTopK
	}
	if s.MaxMergedHits <= 0 {
		s.MaxMergedHits = def.MaxMergedHits
	}
	if s.MaxVisits <= 0 || s.MaxVisits > MaxNodeVisits {
		s.MaxVisits = def.MaxVisits
	}
	if s.MaxSteps <= 0 || s.MaxSteps > MaxNodeExecutions {
		s.MaxSteps = def.MaxSteps
	}
	if s.ModelTimeout <= 0 {
		s.ModelTimeout = def.ModelTimeout
	}
	if s.RetrievalTimeout <= 0 {
		s.RetrievalTimeout = def.RetrievalTimeout
	}
	if s.TicketingTimeout <= 0 {
		s.TicketingTimeout = def.TicketingTimeout
	}
	if s.ShipTimeout <= 0 {
		s.ShipTimeout = def.ShipTimeout
	}
	return s
}
