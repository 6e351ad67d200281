package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

var errNotInitialized = errors.New("storage not initialized")

// RunQuery 用于查询运行记录的过滤条件，零值字段不参与过滤。
type RunQuery struct {
	// TicketID/RunID/Status 均为精确匹配。
	TicketID string
	RunID    string
	Status   string
	// OnlyFailedDelivery 只返回写回工单失败的运行。
	OnlyFailedDelivery bool
	// From/To 过滤 RecordedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 RecordedAt 倒序返回（优先返回最新记录）。
	Desc bool
}

// Append 实现 workflow.AuditSink
func (s *Storage) Append(ctx context.Context, rec workflow.Record) error {
	row, err := FromRecord(rec)
	if err != nil {
		return err
	}
	return s.InsertRunRecord(ctx, &row)
}

func (s *Storage) InsertRunRecord(ctx context.Context, rec *RunRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return errors.New("run record is nil")
	}
	if rec.RunID == "" {
		return errors.New("run record has no run id")
	}
	now := time.Now().UTC()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

func (s *Storage) QueryRunRecords(ctx context.Context, q RunQuery) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&RunRecord{})
	if q.TicketID != "" {
		db = db.Where("ticket_id = ?", q.TicketID)
	}
	if q.RunID != "" {
		db = db.Where("run_id = ?", q.RunID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.OnlyFailedDelivery {
		db = db.Where("delivery_failed = ?", true)
	}
	if q.From != nil {
		db = db.Where("recorded_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("recorded_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("recorded_at DESC").Order("id DESC")
	} else {
		db = db.Order("recorded_at ASC").Order("id ASC")
	}
	db = db.Limit(limit)

	var out []RunRecord
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query run records: %w", err)
	}
	return out, nil
}

// DeleteRunRecordsBefore 按批删除 RecordedAt 早于 before 的记录，返回删除总数
func (s *Storage) DeleteRunRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		n, err := s.DeleteRunRecordsBeforeLimited(ctx, before, maxDeleteLimit)
		total += n
		if err != nil {
			return total, err
		}
		if n < maxDeleteLimit {
			return total, nil
		}
	}
}

func (s *Storage) DeleteRunRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errNotInitialized
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&RunRecord{}).
		Select("id").
		Where("recorded_at < ?", before).
		Order("id ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select run record ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&RunRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete run records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FromRecord 将审计记录转换为表结构；个人信息字段不落库
func FromRecord(rec workflow.Record) (RunRecord, error) {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode tags: %w", err)
	}
	events := rec.Events
	if events == nil {
		events = []workflow.Event{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode events: %w", err)
	}

	return RunRecord{
		RunID:                  rec.RunID,
		TicketID:               rec.TicketID,
		Status:                 string(rec.Status),
		Category:               rec.Category,
		CustomerType:           string(rec.CustomerType),
		EnoughInformation:      rec.Metrics.EnoughInformation,
		HallucinationRisk:      rec.Metrics.HallucinationRisk,
		ProductMatchConfidence: rec.Metrics.ProductMatchConfidence,
		VIPCompliant:           rec.Metrics.VIPCompliant,
		TextHits:               rec.Retrieval.TextHits,
		ImageHits:              rec.Retrieval.ImageHits,
		PastTicketHits:         rec.Retrieval.PastTicketHits,
		TagsJSON:               string(tagsJSON),
		NoteType:               rec.NoteType,
		DeliveryFailed:         rec.DeliveryFailed,
		DurationMS:             rec.Duration.Milliseconds(),
		Steps:                  rec.Steps,
		EventsJSON:             string(eventsJSON),
		RecordedAt:             rec.Timestamp.UTC(),
	}, nil
}

// ToRecord 还原审计记录（不含个人信息字段）
func (r RunRecord) ToRecord() (workflow.Record, error) {
	rec := workflow.Record{
		RunID:        r.RunID,
		TicketID:     r.TicketID,
		Timestamp:    r.RecordedAt,
		Status:       workflow.Status(r.Status),
		Category:     r.Category,
		CustomerType: workflow.CustomerType(r.CustomerType),
		Metrics: workflow.Metrics{
			EnoughInformation:      r.EnoughInformation,
			HallucinationRisk:      r.HallucinationRisk,
			ProductMatchConfidence: r.ProductMatchConfidence,
			VIPCompliant:           r.VIPCompliant,
		},
		Retrieval: workflow.RetrievalCounts{
			TextHits:       r.TextHits,
			ImageHits:      r.ImageHits,
			PastTicketHits: r.PastTicketHits,
		},
		NoteType:       r.NoteType,
		DeliveryFailed: r.DeliveryFailed,
		Duration:       time.Duration(r.DurationMS) * time.Millisecond,
		Steps:          r.Steps,
	}
	if r.TagsJSON != "" {
		if err := json.Unmarshal([]byte(r.TagsJSON), &rec.Tags); err != nil {
			return workflow.Record{}, fmt.Errorf("decode tags of run %s: %w", r.RunID, err)
		}
	}
	if r.EventsJSON != "" {
		if err := json.Unmarshal([]byte(r.EventsJSON), &rec.Events); err != nil {
			return workflow.Record{}, fmt.Errorf("decode events of run %s: %w", r.RunID, err)
		}
	}
	return rec, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}
