package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 草稿模式
const (
	draftAnswer   = "answer"
	draftClarify  = "clarification"
	draftFallback = "fallback"
)

// 模型不可用时使用的固定回复
const (
	clarificationReply = `Thank you for contacting us. To help you as quickly as possible, could you please share a few more details:

- the product model number (usually printed on the product or packaging)
- a photo of the product and of the issue
- the purchase date and where it was purchased

Once we have this information we will follow up right away.`

	holdingReply = `Thank you for reaching out. Our support team is reviewing your request and will get back to you shortly with more information. [VERIFY]`
)

// draft 根据路由结果生成回复草稿：信息不足时请求补充信息，风险高时给出保守回答
func (n *nodes) draft(ctx context.Context, st State) (Update, Event, error) {
	mode := draftAnswer
	switch {
	case !st.EnoughInformation:
		mode = draftClarify
	case st.HallucinationRisk > n.cfg.Thresholds.Hallucination:
		mode = draftFallback
	}

	if st.Empty() {
		return Update{Draft: ptr(clarificationReply)}, newEvent("draft_final_response", EventInfo, map[string]any{
			"mode":   draftClarify,
			"reason": "empty_ticket",
			"length": len(clarificationReply),
		}), nil
	}

	name := st.RequesterName
	if name == "" {
		name = "Customer"
	}
	text, err := n.callModel(ctx, NodeDraft, n.tpl.Draft, map[string]any{
		"clarify":       mode == draftClarify,
		"fallback":      mode == draftFallback,
		"name":          name,
		"customer_type": string(st.CustomerType),
		"subject":       st.Subject,
		"body":          st.Body,
		"context":       st.Context,
	}, false, 0.3)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errors.New("empty draft")
	}
	if err != nil {
		reply := holdingReply
		if mode == draftClarify {
			reply = clarificationReply
		}
		n.log(ctx, NodeDraft, st).Warn("draft generation failed, using canned reply", "error", err, "mode", mode)
		return Update{Draft: ptr(reply)}, errorEvent("draft_final_response", err, map[string]any{
			"mode":          mode,
			"fallback_used": true,
		}), nil
	}

	return Update{Draft: ptr(text)}, newEvent("draft_final_response", EventSuccess, map[string]any{
		"mode":   mode,
		"length": len(text),
	}), nil
}

// resolve 根据决策指标得出最终状态与标签
func (n *nodes) resolve(ctx context.Context, st State) (Update, Event, error) {
	res := Resolve(st.Metrics(), n.cfg.Thresholds, st.Tags)
	m := st.Metrics()
	return Update{
			Status:      ptr(res.Status),
			ExtraTags:   res.NewTags,
			FinalTags:   res.FinalTags,
			PublicReply: ptr(st.Draft),
		}, newEvent("decide_tags_and_resolution", EventDecision, map[string]any{
			"resolution_status":  string(res.Status),
			"decision_reason":    res.Reason,
			"tags":               res.FinalTags,
			"enough_info":        m.EnoughInformation,
			"hallucination_risk": m.HallucinationRisk,
			"product_confidence": m.ProductMatchConfidence,
			"vip_compliant":      m.VIPCompliant,
		}), nil
}

// 备注类型
const (
	NotePublic  = "public"
	NotePrivate = "private"
)

// deliver 需要复核时写私有备注并附上决策指标，否则公开回复；两种情况都会写回标签
func (n *nodes) deliver(ctx context.Context, st State) (Update, Event, error) {
	noteType := NotePublic
	text := st.PublicReply
	if st.Status.NeedsReview() {
		noteType = NotePrivate
		text = ReviewNote(st)
	}
	up := Update{NoteType: ptr(noteType)}

	if n.deps.Sink == nil {
		up.DeliveryFailed = true
		return up, errorEvent("update_ticket", fmt.Errorf("ticket sink: %w", errNotConfigured), map[string]any{"note_type": noteType}), nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.TicketingTimeout)
	defer cancel()

	var errs []error
	if err := n.deps.Sink.PostNote(ctx, st.TicketID, text, noteType == NotePrivate); err != nil {
		errs = append(errs, fmt.Errorf("post note: %w", err))
	}
	if err := n.deps.Sink.UpdateTags(ctx, st.TicketID, st.FinalTags); err != nil {
		errs = append(errs, fmt.Errorf("update tags: %w", err))
	}

	details := map[string]any{
		"ticket_id":         st.TicketID,
		"resolution_status": string(st.Status),
		"note_type":         noteType,
		"tags":              nonNil(st.FinalTags),
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		n.log(ctx, NodeDelivery, st).Error("delivery failed", "error", err)
		up.DeliveryFailed = true
		return up, errorEvent("update_ticket", err, details), nil
	}
	return up, newEvent("update_ticket", EventUpdate, details), nil
}

// ReviewNote 人工复核用的私有备注
func ReviewNote(st State) string {
	var b strings.Builder
	b.WriteString("AI Review Needed\n\n")
	fmt.Fprintf(&b, "Status: %s\n\n", st.Status)
	b.WriteString("Suggested Reply:\n")
	b.WriteString(st.PublicReply)
	b.WriteString("\n\nDecision Metrics\n")
	fmt.Fprintf(&b, "- Product Confidence: %.2f\n", st.ProductMatchConfidence)
	fmt.Fprintf(&b, "- Hallucination Risk: %.2f\n", st.HallucinationRisk)
	fmt.Fprintf(&b, "- Enough Info: %t\n", st.EnoughInformation)
	fmt.Fprintf(&b, "- VIP Compliant: %t\n", st.VIPCompliant)
	return b.String()
}

// flushAudit 写入审计记录并异步镜像到远端，不再产生状态
func (n *nodes) flushAudit(ctx context.Context, st State) (Update, Event, error) {
	rec := BuildRecord(TraceID(ctx), st, n.now())
	logger := n.log(ctx, NodeAuditFlush, st)

	if n.deps.Audit != nil {
		if err := n.deps.Audit.Append(ctx, rec); err != nil {
			logger.Error("append audit record failed", "error", err)
		}
	}

	if n.deps.Shipper != nil {
		n.shipping.Add(1)
		go func() {
			defer n.shipping.Done()
			shipCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.ShipTimeout)
			defer cancel()
			if err := n.deps.Shipper.Ship(shipCtx, rec); err != nil {
				logger.Debug("ship audit record failed", "error", err)
			}
		}()
	}

	return Update{}, Event{}, nil
}
