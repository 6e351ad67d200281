package workflow

import (
	"strings"
	"time"
)

// CustomerType 客户分级
type CustomerType string

const (
	CustomerNormal      CustomerType = "normal"
	CustomerVIP         CustomerType = "vip"
	CustomerDistributor CustomerType = "distributor"
	CustomerInternal    CustomerType = "internal"
)

// ParseCustomerType 不区分大小写解析，未知值按 normal 处理
func ParseCustomerType(s string) CustomerType {
	switch CustomerType(strings.ToLower(strings.TrimSpace(s))) {
	case CustomerVIP:
		return CustomerVIP
	case CustomerDistributor:
		return CustomerDistributor
	case CustomerInternal:
		return CustomerInternal
	default:
		return CustomerNormal
	}
}

// Status 工单最终的处理结论
type Status string

const (
	StatusResolved           Status = "resolved"
	StatusAIUnresolved       Status = "ai_unresolved"
	StatusLowConfidenceMatch Status = "low_confidence_match"
	StatusVIPRuleFailure     Status = "vip_rule_failure"
)

// Wire 对外（webhook 响应、远端日志）使用的大写形式，例如 RESOLVED
func (s Status) Wire() string {
	return strings.ToUpper(string(s))
}

// NeedsReview 除 resolved 以外的状态都需要人工复核
func (s Status) NeedsReview() bool {
	return s != StatusResolved
}

// Hit 单条检索结果，产生后不再修改。
type Hit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Content  string         `json:"content"`
}

// MetaString 读取字符串类型的 metadata，缺失时返回 fallback
func (h Hit) MetaString(key, fallback string) string {
	v, ok := h.Metadata[key]
	if !ok || v == nil {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	if s == "" {
		return fallback
	}
	return s
}

// Ticket 是工单系统返回的原始数据
type Ticket struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Images         []string  `json:"images"`
	RequesterEmail string    `json:"requester_email"`
	RequesterName  string    `json:"requester_name"`
	Tags           []string  `json:"tags"`
	Type           string    `json:"type"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// State 定义了在 Graph 中流转的工单处理状态。
//
// 一次运行独占一个 State，节点只通过 Update 修改它（见 Merge）。
// RanVision / RanTextRetrieval / RanPastTickets 为粘性标记：一旦置为 true，本次运行内不会再被重置。
type State struct {
	// 原始工单内容
	TicketID       string    `json:"ticket_id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Images         []string  `json:"images"`
	RequesterEmail string    `json:"requester_email"`
	RequesterName  string    `json:"requester_name"`
	Tags           []string  `json:"tags"`
	Type           string    `json:"type"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// 检索执行标记
	RanVision        bool `json:"ran_vision"`
	RanTextRetrieval bool `json:"ran_text_retrieval"`
	RanPastTickets   bool `json:"ran_past_tickets"`

	// 分类阶段得出的路由输入
	HasImage bool   `json:"has_image"`
	HasText  bool   `json:"has_text"`
	Category string `json:"category"`

	// 客户信息与策略
	CustomerType     CustomerType      `json:"customer_type"`
	CustomerMetadata map[string]string `json:"customer_metadata"`
	PolicyRules      map[string]any    `json:"policy_rules"`

	// 检索结果
	ImageHits      []Hit  `json:"image_hits"`
	TextHits       []Hit  `json:"text_hits"`
	PastTicketHits []Hit  `json:"past_ticket_hits"`
	Context        string `json:"context"`

	// 决策指标，每个指标只由一个节点写入
	ProductMatchConfidence float64 `json:"product_match_confidence"`
	HallucinationRisk      float64 `json:"hallucination_risk"`
	EnoughInformation      bool    `json:"enough_information"`
	VIPCompliant           bool    `json:"vip_compliant"`
	DetectedProductID      string  `json:"detected_product_id,omitempty"`

	// 输出
	Draft          string   `json:"draft"`
	PublicReply    string   `json:"public_reply"`
	Status         Status   `json:"status"`
	ExtraTags      []string `json:"extra_tags"`
	FinalTags      []string `json:"final_tags"`
	NoteType       string   `json:"note_type,omitempty"`
	DeliveryFailed bool     `json:"delivery_failed"`

	// 执行记录：每个节点的访问次数与总步数
	Visits    map[string]int `json:"visits"`
	Steps     int            `json:"steps"`
	StartedAt time.Time      `json:"started_at"`

	Events []Event `json:"events"`
}

// NewState 为一次运行构造初始状态，默认值与保守策略保持一致
func NewState(ticketID string, now time.Time) State {
	return State{
		TicketID:         ticketID,
		CustomerType:     CustomerNormal,
		CustomerMetadata: map[string]string{},
		PolicyRules:      map[string]any{},
		VIPCompliant:     true,
		Visits:           map[string]int{},
		StartedAt:        now,
		Events: []Event{
			{Event: "webhook_received", Type: EventInfo, Details: map[string]any{"ticket_id": ticketID}, At: now},
		},
	}
}

// Empty 工单既没有文本也没有图片
func (s State) Empty() bool {
	return strings.TrimSpace(s.Subject) == "" && strings.TrimSpace(s.Body) == "" && len(s.Images) == 0
}

// QueryText 用于文本检索与历史工单检索的查询串
func (s State) QueryText() string {
	subject := strings.TrimSpace(s.Subject)
	body := strings.TrimSpace(s.Body)
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + "\n\n" + body
	}
}

// Metrics 取出决策指标
func (s State) Metrics() Metrics {
	return Metrics{
		EnoughInformation:      s.EnoughInformation,
		HallucinationRisk:      s.HallucinationRisk,
		ProductMatchConfidence: s.ProductMatchConfidence,
		VIPCompliant:           s.VIPCompliant,
	}
}

// Metrics 汇总四个决策指标，供 Resolution Policy 使用
type Metrics struct {
	EnoughInformation      bool    `json:"enough_information"`
	HallucinationRisk      float64 `json:"hallucination_risk"`
	ProductMatchConfidence float64 `json:"product_confidence"`
	VIPCompliant           bool    `json:"vip_compliant"`
}
