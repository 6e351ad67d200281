package workflow

import (
	"context"
	"time"
)

// EventType 审计事件类型
type EventType string

const (
	EventInfo           EventType = "INFO"
	EventSuccess        EventType = "SUCCESS"
	EventError          EventType = "ERROR"
	EventDecision       EventType = "DECISION"
	EventClassification EventType = "CLASSIFICATION"
	EventUpdate         EventType = "UPDATE"
	EventRules          EventType = "RULES"
)

// Event 一条结构化审计事件，只追加、不修改。
type Event struct {
	Event   string         `json:"event"`
	Type    EventType      `json:"type"`
	Details map[string]any `json:"details,omitempty"`
	At      time.Time      `json:"at"`
}

// IsZero 没有事件名的 Event 不会被记录
func (e Event) IsZero() bool {
	return e.Event == ""
}

func newEvent(name string, typ EventType, details map[string]any) Event {
	if details == nil {
		details = map[string]any{}
	}
	return Event{Event: name, Type: typ, Details: details}
}

func errorEvent(name string, err error, details map[string]any) Event {
	ev := newEvent(name, EventError, details)
	ev.Details["error"] = err.Error()
	return ev
}

// RetrievalCounts 三类检索的命中数
type RetrievalCounts struct {
	TextHits       int `json:"text_hits"`
	ImageHits      int `json:"image_hits"`
	PastTicketHits int `json:"past_ticket_hits"`
}

// Record 一次运行结束时落库的审计记录
type Record struct {
	RunID          string          `json:"run_id"`
	TicketID       string          `json:"ticket_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         Status          `json:"resolution_status"`
	Category       string          `json:"category"`
	CustomerType   CustomerType    `json:"customer_type"`
	Metrics        Metrics         `json:"metrics"`
	Retrieval      RetrievalCounts `json:"retrieval_counts"`
	Tags           []string        `json:"tags"`
	NoteType       string          `json:"note_type,omitempty"`
	DeliveryFailed bool            `json:"delivery_failed"`
	Duration       time.Duration   `json:"duration"`
	Steps          int             `json:"steps"`
	Events         []Event         `json:"events"`

	// 以下字段只用于对外投递，含个人信息，落库前由 shipper 做哈希
	RequesterEmail string `json:"-"`
	Subject        string `json:"-"`
	FinalResponse  string `json:"-"`
}

// BuildRecord 根据最终状态组装审计记录
func BuildRecord(runID string, st State, now time.Time) Record {
	events := make([]Event, len(st.Events))
	copy(events, st.Events)
	return Record{
		RunID:        runID,
		TicketID:     st.TicketID,
		Timestamp:    now,
		Status:       st.Status,
		Category:     st.Category,
		CustomerType: st.CustomerType,
		Metrics:      st.Metrics(),
		Retrieval: RetrievalCounts{
			TextHits:       len(st.TextHits),
			ImageHits:      len(st.ImageHits),
			PastTicketHits: len(st.PastTicketHits),
		},
		Tags:           append([]string(nil), st.FinalTags...),
		NoteType:       st.NoteType,
		DeliveryFailed: st.DeliveryFailed,
		Duration:       now.Sub(st.StartedAt),
		Steps:          st.Steps,
		Events:         events,
		RequesterEmail: st.RequesterEmail,
		Subject:        st.Subject,
		FinalResponse:  st.PublicReply,
	}
}

// AuditSink 持久化审计记录（只追加）
type AuditSink interface {
	Append(ctx context.Context, rec Record) error
}

// Shipper 将审计记录镜像到远端收集器，失败不得影响运行
type Shipper interface {
	Ship(ctx context.Context, rec Record) error
}
