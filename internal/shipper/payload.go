package shipper

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// 外部日志状态
const (
	StatusSuccess = "SUCCESS"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
)

// Payload 一张工单一条日志，Freshdesk 之外只出现哈希后的个人信息
type Payload struct {
	ClientID        string `json:"client_id"`
	Environment     string `json:"environment"`
	WorkflowVersion string `json:"workflow_version"`

	RunID                string  `json:"run_id"`
	TicketID             string  `json:"ticket_id"`
	TicketSubjectHash    string  `json:"ticket_subject_hash"`
	RequesterEmailHash   string  `json:"requester_email_hash"`
	ExecutedAt           string  `json:"executed_at"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`

	Status           string `json:"status"`
	Category         string `json:"category,omitempty"`
	ResolutionStatus string `json:"resolution_status,omitempty"`
	CustomerType     string `json:"customer_type,omitempty"`

	Metrics   workflow.Metrics         `json:"metrics"`
	Retrieval workflow.RetrievalCounts `json:"retrieval_counts"`
	Tags      []string                 `json:"tags"`

	WorkflowError     string `json:"workflow_error,omitempty"`
	WorkflowErrorNode string `json:"workflow_error_node,omitempty"`

	Trace         []workflow.Event `json:"trace"`
	FinalResponse string           `json:"final_response,omitempty"`
}

// Hasher 对个人信息做 blake3 哈希；配置了 key 时使用 keyed 模式，避免字典反查
type Hasher struct {
	key []byte
}

func NewHasher(secret string) Hasher {
	if secret == "" {
		return Hasher{}
	}
	k := blake3.Sum256([]byte(secret))
	return Hasher{key: k[:]}
}

// Hash 返回 16 位十六进制摘要，空值返回 "unknown"
func (h Hasher) Hash(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var sum []byte
	if len(h.key) == 32 {
		hasher, err := blake3.NewKeyed(h.key)
		if err != nil {
			panic("shipper: blake3 keyed hash initialization failed: " + err.Error())
		}
		_, _ = hasher.Write([]byte(strings.ToLower(value)))
		sum = hasher.Sum(nil)
	} else {
		s := blake3.Sum256([]byte(strings.ToLower(value)))
		sum = s[:]
	}
	return hex.EncodeToString(sum)[:16]
}

// OutcomeStatus 写回失败为 FAILED；出现过 ERROR 事件（走了兜底）为 PARTIAL
func OutcomeStatus(rec workflow.Record) string {
	if rec.DeliveryFailed {
		return StatusFailed
	}
	for _, ev := range rec.Events {
		if ev.Type == workflow.EventError {
			return StatusPartial
		}
	}
	return StatusSuccess
}

// BuildPayload 组装外部日志
func BuildPayload(cfg Config, h Hasher, rec workflow.Record) Payload {
	p := Payload{
		ClientID:             cfg.ClientID,
		Environment:          cfg.Environment,
		WorkflowVersion:      cfg.WorkflowVersion,
		RunID:                rec.RunID,
		TicketID:             rec.TicketID,
		TicketSubjectHash:    h.Hash(rec.Subject),
		RequesterEmailHash:   h.Hash(rec.RequesterEmail),
		ExecutedAt:           rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ExecutionTimeSeconds: rec.Duration.Seconds(),
		Status:               OutcomeStatus(rec),
		Category:             rec.Category,
		ResolutionStatus:     rec.Status.Wire(),
		CustomerType:         string(rec.CustomerType),
		Metrics:              rec.Metrics,
		Retrieval:            rec.Retrieval,
		Tags:                 rec.Tags,
		Trace:                rec.Events,
		FinalResponse:        rec.FinalResponse,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Trace == nil {
		p.Trace = []workflow.Event{}
	}
	for _, ev := range rec.Events {
		if ev.Type != workflow.EventError {
			continue
		}
		p.WorkflowErrorNode = ev.Event
		if msg, ok := ev.Details["error"].(string); ok {
			p.WorkflowError = msg
		}
		break
	}
	return p
}
