package workflow

import (
	"context"

	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
)

// 判断节点失败时的保守取值，偏向人工复核
const (
	FallbackHallucinationRisk = 0.8
	FallbackProductConfidence = 0.3
	FallbackVIPCompliant      = true
	FallbackEnoughInformation = false
)

// orchestrate 判断当前检索结果是否足以回答工单
func (n *nodes) orchestrate(ctx context.Context, st State) (Update, Event, error) {
	if st.Empty() {
		return Update{EnoughInformation: ptr(false)}, newEvent("orchestration_agent", EventDecision, map[string]any{
			"enough_information": false,
			"reason":             "empty_ticket",
		}), nil
	}

	raw, err := n.callModel(ctx, NodeOrchestration, n.tpl.Orchestration, map[string]any{
		"subject": st.Subject,
		"body":    st.Body,
		"context": st.Context,
	}, true, 0.2)
	var res llm.Assessment
	if err == nil {
		res, err = llm.ParseAssessment(raw)
	}
	if err != nil {
		n.log(ctx, NodeOrchestration, st).Warn("orchestration failed", "error", err)
		return Update{EnoughInformation: ptr(FallbackEnoughInformation)},
			errorEvent("orchestration_agent", err, map[string]any{"enough_information": FallbackEnoughInformation}), nil
	}

	up := Update{EnoughInformation: ptr(res.EnoughInformation)}
	if res.ProductID != "" {
		up.DetectedProductID = ptr(res.ProductID)
	}
	return up, newEvent("orchestration_agent", EventDecision, map[string]any{
		"enough_information": res.EnoughInformation,
		"product_id":         res.ProductID,
		"summary":            res.Summary,
		"reasoning":          res.Reasoning,
	}), nil
}

// sufficiency 只确认并记录编排阶段的结论，不修改 enough_information
func (n *nodes) sufficiency(ctx context.Context, st State) (Update, Event, error) {
	return Update{}, newEvent("check_enough_information", EventDecision, map[string]any{
		"enough_information": st.EnoughInformation,
		"text_hits":          len(st.TextHits),
		"image_hits":         len(st.ImageHits),
		"past_hits":          len(st.PastTicketHits),
	}), nil
}

// hallucination 评估回答需要编造事实的风险，失败时取 0.8
func (n *nodes) hallucination(ctx context.Context, st State) (Update, Event, error) {
	raw, err := n.callModel(ctx, NodeHallucination, n.tpl.Hallucination, map[string]any{
		"ticket":  st.QueryText(),
		"context": st.Context,
	}, true, 0)
	var res llm.RiskResult
	if err == nil {
		res, err = llm.ParseRisk(raw)
	}
	if err != nil {
		n.log(ctx, NodeHallucination, st).Warn("hallucination assessment failed", "error", err)
		return Update{HallucinationRisk: ptr(FallbackHallucinationRisk)},
			errorEvent("assess_hallucination_risk", err, map[string]any{"risk": FallbackHallucinationRisk}), nil
	}

	return Update{HallucinationRisk: ptr(res.Risk)}, newEvent("assess_hallucination_risk", EventDecision, map[string]any{
		"risk":      res.Risk,
		"reasoning": res.Reasoning,
		"threshold": n.cfg.Thresholds.Hallucination,
	}), nil
}

// confidence 评估产品匹配置信度，失败时取 0.3
func (n *nodes) confidence(ctx context.Context, st State) (Update, Event, error) {
	raw, err := n.callModel(ctx, NodeConfidence, n.tpl.Confidence, map[string]any{
		"ticket":  st.QueryText(),
		"context": st.Context,
	}, true, 0)
	var res llm.ConfidenceResult
	if err == nil {
		res, err = llm.ParseConfidence(raw)
	}
	if err != nil {
		n.log(ctx, NodeConfidence, st).Warn("confidence evaluation failed", "error", err)
		return Update{ProductMatchConfidence: ptr(FallbackProductConfidence)},
			errorEvent("evaluate_product_confidence", err, map[string]any{"confidence": FallbackProductConfidence}), nil
	}

	return Update{ProductMatchConfidence: ptr(res.Confidence)}, newEvent("evaluate_product_confidence", EventDecision, map[string]any{
		"confidence": res.Confidence,
		"reasoning":  res.Reasoning,
		"threshold":  n.cfg.Thresholds.Confidence,
	}), nil
}

// vipCompliance 没有适用规则时直接视为合规；检查失败时也视为合规，不因检查本身阻塞投递
func (n *nodes) vipCompliance(ctx context.Context, st State) (Update, Event, error) {
	if len(st.PolicyRules) == 0 {
		return Update{VIPCompliant: ptr(true)}, newEvent("verify_vip_compliance", EventDecision, map[string]any{
			"vip_compliant": true,
			"reason":        "no rules applicable",
		}), nil
	}

	raw, err := n.callModel(ctx, NodeVIPCompliance, n.tpl.VIP, map[string]any{
		"ticket":  st.QueryText(),
		"context": st.Context,
		"draft":   st.Draft,
		"rules":   st.PolicyRules,
	}, true, 0)
	var res llm.ComplianceResult
	if err == nil {
		res, err = llm.ParseCompliance(raw)
	}
	if err != nil {
		n.log(ctx, NodeVIPCompliance, st).Warn("vip compliance check failed", "error", err)
		return Update{VIPCompliant: ptr(FallbackVIPCompliant)},
			errorEvent("verify_vip_compliance", err, map[string]any{"vip_compliant": FallbackVIPCompliant}), nil
	}

	return Update{VIPCompliant: ptr(res.Compliant)}, newEvent("verify_vip_compliance", EventDecision, map[string]any{
		"vip_compliant": res.Compliant,
		"reason":        res.Reason,
		"customer_type": string(st.CustomerType),
	}), nil
}
