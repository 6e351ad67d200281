package workflow

// 节点名称
const (
	NodeFetch          = "fetch_ticket"
	NodeClassify       = "classify"
	NodeVision         = "vision"
	NodeTextRetrieval  = "text_retrieval"
	NodePastTickets    = "past_tickets"
	NodeCustomerLookup = "customer_lookup"
	NodePolicyLookup   = "policy_lookup"
	NodeContext        = "context_assembly"
	NodeOrchestration  = "orchestration"
	NodeSufficiency    = "sufficiency_check"
	NodeHallucination  = "hallucination_risk"
	NodeConfidence     = "confidence_check"
	NodeVIPCompliance  = "vip_compliance"
	NodeDraft          = "draft"
	NodeResolution     = "resolution"
	NodeDelivery       = "delivery"
	NodeAuditFlush     = "audit_flush"
)

// nextRetrieval 按 vision -> text -> past 的优先级返回第一个尚未执行的检索节点
func nextRetrieval(st State) (string, bool) {
	if st.HasImage && !st.RanVision {
		return NodeVision, true
	}
	if st.HasText && !st.RanTextRetrieval {
		return NodeTextRetrieval, true
	}
	if !st.RanPastTickets {
		return NodePastTickets, true
	}
	return "", false
}

// RouteAfterClassification 分类之后以及每个检索节点之后调用。
// 所有适用的检索都执行完才会进入 customer_lookup。
func RouteAfterClassification(st State) string {
	if next, ok := nextRetrieval(st); ok {
		return next
	}
	return NodeCustomerLookup
}

// RouteAfterOrchestration 信息不足时补跑尚未执行的检索，全部执行过则继续进入 sufficiency_check。
//
// ran* 标记是粘性的，所以这里不会以改写后的查询重跑已经执行过的检索。
func RouteAfterOrchestration(st State) string {
	if st.EnoughInformation {
		return NodeSufficiency
	}
	if next, ok := nextRetrieval(st); ok {
		return next
	}
	return NodeSufficiency
}

// RouteAfterSufficiency 信息不足时直接生成澄清回复，跳过后续所有判断
func RouteAfterSufficiency(st State) string {
	if st.EnoughInformation {
		return NodeHallucination
	}
	return NodeDraft
}

// RouteAfterHallucination 风险不高于阈值才继续做产品置信度检查
func RouteAfterHallucination(threshold float64) func(State) string {
	return func(st State) string {
		if st.HallucinationRisk <= threshold {
			return NodeConfidence
		}
		return NodeDraft
	}
}
