package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// customerLookup 识别客户类型，失败时按普通客户处理
func (n *nodes) customerLookup(ctx context.Context, st State) (Update, Event, error) {
	profile := CustomerProfile{
		Type:     CustomerNormal,
		Metadata: map[string]string{"email": st.RequesterEmail},
		Reason:   "default",
	}

	if n.deps.Customers != nil {
		p, err := n.deps.Customers.Resolve(ctx, st.RequesterEmail, st.Tags)
		if err != nil {
			n.log(ctx, NodeCustomerLookup, st).Warn("customer lookup failed", "error", err)
			return Update{CustomerType: ptr(CustomerNormal), CustomerMetadata: profile.Metadata},
				errorEvent("identify_customer_type", err, map[string]any{"customer_type": string(CustomerNormal)}), nil
		}
		profile = p
		if profile.Metadata == nil {
			profile.Metadata = map[string]string{"email": st.RequesterEmail}
		}
	}

	return Update{CustomerType: ptr(profile.Type), CustomerMetadata: profile.Metadata},
		newEvent("identify_customer_type", EventClassification, map[string]any{
			"customer_type":    string(profile.Type),
			"detection_reason": profile.Reason,
			"tags_used":        nonNil(st.Tags),
		}), nil
}

// policyLookup 加载该客户类型适用的规则，普通客户没有规则
func (n *nodes) policyLookup(ctx context.Context, st State) (Update, Event, error) {
	rules := map[string]any{}
	if n.deps.Rules != nil {
		if r := n.deps.Rules.RulesFor(st.CustomerType); r != nil {
			rules = r
		}
	}

	keys := sortedKeys(rules)
	return Update{PolicyRules: rules}, newEvent("load_vip_rules", EventRules, map[string]any{
		"customer_type": string(st.CustomerType),
		"rules_present": len(rules) > 0,
		"rule_keys":     keys,
	}), nil
}

// assembleContext 将检索结果与客户规则拼成统一的上下文
func (n *nodes) assembleContext(ctx context.Context, st State) (Update, Event, error) {
	text := BuildContext(st)
	return Update{Context: ptr(text)}, newEvent("assemble_multimodal_context", EventInfo, map[string]any{
		"text_hits":      len(st.TextHits),
		"image_hits":     len(st.ImageHits),
		"past_hits":      len(st.PastTicketHits),
		"has_vip_rules":  len(st.PolicyRules) > 0,
		"context_length": len(text),
	}), nil
}

const noContext = "No relevant context found."

// BuildContext 输出只依赖状态内容，相同输入得到相同文本
func BuildContext(st State) string {
	var sections []string

	if len(st.TextHits) > 0 {
		sections = append(sections, "### PRODUCT DOCUMENTATION\n")
		for i, h := range firstN(st.TextHits, 5) {
			title := h.MetaString("title", fmt.Sprintf("Document %d", i+1))
			sections = append(sections, fmt.Sprintf("%d. **%s** (score: %.2f)\n%s\n", i+1, title, h.Score, truncate(h.Content, 500)))
		}
	}

	if len(st.ImageHits) > 0 {
		sections = append(sections, "\n### PRODUCT MATCHES (VISUAL)\n")
		for i, h := range firstN(st.ImageHits, 5) {
			sections = append(sections, fmt.Sprintf("%d. **%s** (Model: %s, Finish: %s) - Similarity: %.2f\n",
				i+1,
				h.MetaString("product_title", "Unknown Product"),
				h.MetaString("model_no", "N/A"),
				h.MetaString("finish", "N/A"),
				h.Score))
		}
	}

	if len(st.PastTicketHits) > 0 {
		sections = append(sections, "\n### SIMILAR PAST TICKETS\n")
		for i, h := range firstN(st.PastTicketHits, 3) {
			sections = append(sections, fmt.Sprintf("%d. Ticket #%s (%s) - Similarity: %.2f\n%s\n",
				i+1,
				metaText(h, "ticket_id", "Unknown"),
				h.MetaString("resolution_type", "N/A"),
				h.Score,
				truncate(h.Content, 300)))
		}
	}

	if len(st.PolicyRules) > 0 {
		sections = append(sections, "\n### VIP CUSTOMER RULES\n")
		for _, k := range sortedKeys(st.PolicyRules) {
			sections = append(sections, fmt.Sprintf("- %s: %v\n", titleLabel(k), st.PolicyRules[k]))
		}
	}

	if len(sections) == 0 {
		return noContext
	}
	return strings.Join(sections, "\n")
}

// metaText 与 MetaString 相同，但也接受数字类型（工单号常以数字存储）
func metaText(h Hit, key, fallback string) string {
	v, ok := h.Metadata[key]
	if !ok || v == nil {
		return fallback
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return fallback
		}
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

// titleLabel "response_time_sla_hours" -> "Response Time Sla Hours"
func titleLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[:1])) + strings.ToLower(string(r[1:]))
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstN(hits []Hit, n int) []Hit {
	if len(hits) > n {
		return hits[:n]
	}
	return hits
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
