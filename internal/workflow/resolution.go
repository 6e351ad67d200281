package workflow

import (
	"fmt"
	"sort"
)

// 系统写回工单的标签
const (
	TagAIUnresolved       = "AI_UNRESOLVED"
	TagNeedsHumanReview   = "NEEDS_HUMAN_REVIEW"
	TagLowConfidenceMatch = "LOW_CONFIDENCE_MATCH"
	TagVIPRuleFailure     = "VIP_RULE_FAILURE"
	TagAIProcessed        = "AI_PROCESSED"
)

const (
	DefaultHallucinationThreshold = 0.4
	DefaultConfidenceThreshold    = 0.6
)

// Thresholds 决策阈值
type Thresholds struct {
	Hallucination float64 `mapstructure:"hallucination"`
	Confidence    float64 `mapstructure:"confidence"`
}

// DefaultThresholds 返回默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		Hallucination: DefaultHallucinationThreshold,
		Confidence:    DefaultConfidenceThreshold,
	}
}

// Resolution 决策结果
type Resolution struct {
	Status Status
	// NewTags 本次决策新增的标签
	NewTags []string
	// FinalTags 工单原有标签与新增标签的并集，已去重排序
	FinalTags []string
	Reason    string
}

// Resolve 按优先级依次匹配规则，第一条命中的规则生效。
//
//  1. 信息不足或幻觉风险高于阈值 -> ai_unresolved
//  2. 产品置信度低于阈值 -> low_confidence_match
//  3. 不满足 VIP 规则 -> vip_rule_failure
//  4. 其余 -> resolved
func Resolve(m Metrics, th Thresholds, existing []string) Resolution {
	var res Resolution
	switch {
	case !m.EnoughInformation || m.HallucinationRisk > th.Hallucination:
		res.Status = StatusAIUnresolved
		res.NewTags = []string{TagAIUnresolved, TagNeedsHumanReview}
		res.Reason = fmt.Sprintf("insufficient info (%t) or high hallucination risk (%.2f > %.2f)",
			m.EnoughInformation, m.HallucinationRisk, th.Hallucination)
	case m.ProductMatchConfidence < th.Confidence:
		res.Status = StatusLowConfidenceMatch
		res.NewTags = []string{TagLowConfidenceMatch, TagNeedsHumanReview}
		res.Reason = fmt.Sprintf("low product confidence (%.2f < %.2f)", m.ProductMatchConfidence, th.Confidence)
	case !m.VIPCompliant:
		res.Status = StatusVIPRuleFailure
		res.NewTags = []string{TagVIPRuleFailure, TagNeedsHumanReview}
		res.Reason = "vip compliance check failed"
	default:
		res.Status = StatusResolved
		res.NewTags = []string{TagAIProcessed}
		res.Reason = "all checks passed"
	}
	res.FinalTags = UnionTags(existing, res.NewTags)
	return res
}

// UnionTags 合并标签，去重并排序，空标签会被忽略
func UnionTags(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, set := range sets {
		for _, tag := range set {
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}
