package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_PriorityOrder(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name    string
		m       Metrics
		status  Status
		newTags []string
	}{
		{"not enough info", Metrics{EnoughInformation: false, HallucinationRisk: 0.1, ProductMatchConfidence: 0.9, VIPCompliant: true}, StatusAIUnresolved, []string{TagAIUnresolved, TagNeedsHumanReview}},
		{"high risk", Metrics{EnoughInformation: true, HallucinationRisk: 0.5, ProductMatchConfidence: 0.9, VIPCompliant: true}, StatusAIUnresolved, []string{TagAIUnresolved, TagNeedsHumanReview}},
		{"low confidence", Metrics{EnoughInformation: true, HallucinationRisk: 0.4, ProductMatchConfidence: 0.59, VIPCompliant: false}, StatusLowConfidenceMatch, []string{TagLowConfidenceMatch, TagNeedsHumanReview}},
		{"vip failure", Metrics{EnoughInformation: true, HallucinationRisk: 0.1, ProductMatchConfidence: 0.6, VIPCompliant: false}, StatusVIPRuleFailure, []string{TagVIPRuleFailure, TagNeedsHumanReview}},
		{"resolved", Metrics{EnoughInformation: true, HallucinationRisk: 0.1, ProductMatchConfidence: 0.95, VIPCompliant: true}, StatusResolved, []string{TagAIProcessed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.m, th, nil)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.newTags, res.NewTags)
		})
	}
}

// 信息不足时，其它三个指标取任何值结果都是 ai_unresolved
func TestResolve_NotEnoughInformationAlwaysWins(t *testing.T) {
	for _, risk := range []float64{0, 0.4, 0.8, 1} {
		for _, conf := range []float64{0, 0.3, 0.6, 1} {
			for _, vip := range []bool{true, false} {
				res := Resolve(Metrics{HallucinationRisk: risk, ProductMatchConfidence: conf, VIPCompliant: vip}, DefaultThresholds(), nil)
				assert.Equal(t, StatusAIUnresolved, res.Status)
			}
		}
	}
}

func TestResolve_TagsIdempotent(t *testing.T) {
	m := Metrics{EnoughInformation: true, HallucinationRisk: 0.1, ProductMatchConfidence: 0.2, VIPCompliant: true}
	existing := []string{"warranty", "NEEDS_HUMAN_REVIEW", "warranty"}

	first := Resolve(m, DefaultThresholds(), existing)
	second := Resolve(m, DefaultThresholds(), first.FinalTags)

	assert.Equal(t, []string{TagLowConfidenceMatch, TagNeedsHumanReview, "warranty"}, first.FinalTags)
	assert.Equal(t, first.FinalTags, second.FinalTags)
}

func TestUnionTags(t *testing.T) {
	assert.Equal(t, []string{}, UnionTags())
	assert.Equal(t, []string{"a", "b", "c"}, UnionTags([]string{"c", "a", ""}, []string{"b", "a"}))
}
