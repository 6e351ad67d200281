package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
)

// CategoryGeneral 无法分类时使用的默认类别
const CategoryGeneral = "general"

// fetch 拉取工单原始数据，失败时整次运行失败
func (n *nodes) fetch(ctx context.Context, st State) (Update, Event, error) {
	if n.deps.Tickets == nil {
		return Update{}, Event{}, fmt.Errorf("ticket source: %w", errNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.TicketingTimeout)
	defer cancel()

	t, err := n.deps.Tickets.FetchTicket(ctx, st.TicketID)
	if err != nil {
		return Update{}, Event{}, fmt.Errorf("fetch ticket %s: %w", st.TicketID, err)
	}

	up := Update{
		Subject:        ptr(t.Subject),
		Body:           ptr(t.Body),
		Images:         nonNil(t.Images),
		RequesterEmail: ptr(t.RequesterEmail),
		RequesterName:  ptr(t.RequesterName),
		Tags:           nonNil(t.Tags),
		Type:           ptr(t.Type),
		Priority:       ptr(t.Priority),
		CreatedAt:      ptr(t.CreatedAt),
		UpdatedAt:      ptr(t.UpdatedAt),
	}
	ev := newEvent("fetch_ticket", EventSuccess, map[string]any{
		"ticket_id":   st.TicketID,
		"subject_len": len(t.Subject),
		"body_len":    len(t.Body),
		"image_count": len(t.Images),
		"tags":        nonNil(t.Tags),
		"priority":    t.Priority,
	})
	return up, ev, nil
}

// classify 计算路由输入并给工单分类；模型失败时使用基于标签与关键词的规则分类
func (n *nodes) classify(ctx context.Context, st State) (Update, Event, error) {
	hasImage := len(st.Images) > 0
	hasText := strings.TrimSpace(st.Subject) != "" || strings.TrimSpace(st.Body) != ""
	up := Update{HasImage: ptr(hasImage), HasText: ptr(hasText)}

	if !hasText {
		up.Category = ptr(CategoryGeneral)
		return up, newEvent("classify_ticket_category", EventClassification, map[string]any{
			"category": CategoryGeneral,
			"reason":   "empty_ticket",
		}), nil
	}

	raw, err := n.callModel(ctx, NodeClassify, n.tpl.Classify, map[string]any{
		"subject": st.Subject,
		"body":    st.Body,
		"tags":    strings.Join(st.Tags, ", "),
		"type":    st.Type,
	}, true, 0.1)
	var res llm.CategoryResult
	if err == nil {
		res, err = llm.ParseCategory(raw)
	}
	if err != nil {
		category := FallbackCategory(st.Subject, st.Body, st.Tags)
		n.log(ctx, NodeClassify, st).Warn("classification failed, using rules", "error", err, "category", category)
		up.Category = ptr(category)
		return up, errorEvent("classify_ticket_category", err, map[string]any{
			"category":      category,
			"fallback_used": true,
		}), nil
	}

	up.Category = ptr(res.Category)
	return up, newEvent("classify_ticket_category", EventClassification, map[string]any{
		"category":         res.Category,
		"confidence":       res.Confidence,
		"reasoning":        res.Reasoning,
		"tags_used":        len(st.Tags) > 0,
		"ticket_type_used": st.Type != "",
	}), nil
}

type keywordRule struct {
	category string
	keywords []string
}

// 标签规则优先于正文关键词，按顺序匹配
var (
	tagRules = []keywordRule{
		{"warranty", []string{"warranty"}},
		{"installation_help", []string{"install", "installation"}},
		{"return_request", []string{"return", "refund"}},
		{"product_issue", []string{"defect", "broken", "damaged"}},
		{"complaint", []string{"complaint"}},
	}
	keywordRules = []keywordRule{
		{"warranty", []string{"warranty", "guarantee"}},
		{"product_issue", []string{"broken", "defective", "faulty", "damaged"}},
		{"installation_help", []string{"install", "installation", "setup", "mount"}},
		{"return_request", []string{"return", "refund", "exchange"}},
		{"complaint", []string{"unhappy", "angry", "bad service"}},
		{"general_inquiry", []string{"inquiry", "question", "information"}},
	}
)

// FallbackCategory 规则分类：先看标签再看正文关键词，都不命中返回 general
func FallbackCategory(subject, body string, tags []string) string {
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		for _, rule := range tagRules {
			for _, kw := range rule.keywords {
				if strings.Contains(tag, kw) {
					return rule.category
				}
			}
		}
	}

	content := strings.ToLower(subject + " " + body)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(content, kw) {
				return rule.category
			}
		}
	}
	return CategoryGeneral
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
