package storage

import "time"

// RunRecord 表示一次工单处理运行的审计记录。
//
// 一条记录对应一次完整的 Graph 运行（webhook 或 CLI 触发），写入后不再修改。
// 事件列表与标签以 JSON 字符串存放，便于随流程演进增加字段。
type RunRecord struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// RunID 即本次运行的 trace id，同一运行只会写入一次。
	RunID string `gorm:"size:64;not null;uniqueIndex"`
	// TicketID 为 Freshdesk 工单号；与 RecordedAt 组成联合索引，用于查询某张工单的历史运行。
	TicketID string `gorm:"size:64;not null;index:idx_run_records_ticket_time,priority:1"`
	// Status 为最终决策（resolved / ai_unresolved / low_confidence_match / vip_rule_failure）。
	Status       string `gorm:"size:32;not null;index"`
	Category     string `gorm:"size:64"`
	CustomerType string `gorm:"size:32;index"`
	// 决策指标
	EnoughInformation      bool
	HallucinationRisk      float64
	ProductMatchConfidence float64
	VIPCompliant           bool
	// 三类检索命中数
	TextHits       int
	ImageHits      int
	PastTicketHits int
	// TagsJSON 为写回工单的最终标签（JSON 数组）。
	TagsJSON string `gorm:"type:text"`
	// NoteType 为 public / private，投递失败前未决定时为空。
	NoteType       string `gorm:"size:16"`
	DeliveryFailed bool   `gorm:"not null;index"`
	DurationMS     int64
	Steps          int
	// EventsJSON 为按时间顺序排列的审计事件（JSON 数组）。
	EventsJSON string `gorm:"type:text"`
	// RecordedAt 为运行结束时间（UTC）。
	RecordedAt time.Time `gorm:"not null;index:idx_run_records_ticket_time,priority:2"`
	// CreatedAt 为写入数据库时间，默认自动填充。
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"`
}
