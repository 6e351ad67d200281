package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed 模型输出不是期望的 JSON 结构
var ErrMalformed = errors.New("malformed model output")

// CategoryResult 工单分类结果
type CategoryResult struct {
	Category   string
	Confidence float64
	Reasoning  string
}

// Assessment 编排阶段对检索结果的判断
type Assessment struct {
	Summary           string
	ProductID         string
	Reasoning         string
	EnoughInformation bool
}

// RiskResult 幻觉风险评估
type RiskResult struct {
	Risk      float64
	Reasoning string
}

// ConfidenceResult 产品匹配置信度
type ConfidenceResult struct {
	Confidence float64
	Reasoning  string
}

// ComplianceResult VIP 规则合规检查
type ComplianceResult struct {
	Compliant bool
	Reason    string
}

// ParseCategory 解析 {"category": "..."}；category 统一转为小写下划线形式
func ParseCategory(raw string) (CategoryResult, error) {
	var out struct {
		Category   *string  `json:"category"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := decode(raw, &out); err != nil {
		return CategoryResult{}, err
	}
	if out.Category == nil || strings.TrimSpace(*out.Category) == "" {
		return CategoryResult{}, fmt.Errorf("%w: missing category", ErrMalformed)
	}
	res := CategoryResult{
		Category:  NormalizeCategory(*out.Category),
		Reasoning: out.Reasoning,
	}
	if out.Confidence != nil {
		res.Confidence = clamp(*out.Confidence)
	}
	return res, nil
}

// NormalizeCategory "Install Help" -> "install_help"
func NormalizeCategory(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// ParseAssessment 解析编排结果，enough_information 必须存在且为布尔值
func ParseAssessment(raw string) (Assessment, error) {
	var out struct {
		Summary           string  `json:"summary"`
		ProductID         *string `json:"product_id"`
		Reasoning         string  `json:"reasoning"`
		EnoughInformation *bool   `json:"enough_information"`
	}
	if err := decode(raw, &out); err != nil {
		return Assessment{}, err
	}
	if out.EnoughInformation == nil {
		return Assessment{}, fmt.Errorf("%w: missing enough_information", ErrMalformed)
	}
	res := Assessment{
		Summary:           out.Summary,
		Reasoning:         out.Reasoning,
		EnoughInformation: *out.EnoughInformation,
	}
	if out.ProductID != nil && !strings.EqualFold(strings.TrimSpace(*out.ProductID), "null") {
		res.ProductID = strings.TrimSpace(*out.ProductID)
	}
	return res, nil
}

// ParseRisk 解析 {"risk": 0.2}，结果截断到 [0,1]
func ParseRisk(raw string) (RiskResult, error) {
	var out struct {
		Risk      *float64 `json:"risk"`
		Reasoning string   `json:"reasoning"`
	}
	if err := decode(raw, &out); err != nil {
		return RiskResult{}, err
	}
	if out.Risk == nil {
		return RiskResult{}, fmt.Errorf("%w: missing risk", ErrMalformed)
	}
	return RiskResult{Risk: clamp(*out.Risk), Reasoning: out.Reasoning}, nil
}

// ParseConfidence 解析 {"confidence": 0.7}，结果截断到 [0,1]
func ParseConfidence(raw string) (ConfidenceResult, error) {
	var out struct {
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := decode(raw, &out); err != nil {
		return ConfidenceResult{}, err
	}
	if out.Confidence == nil {
		return ConfidenceResult{}, fmt.Errorf("%w: missing confidence", ErrMalformed)
	}
	return ConfidenceResult{Confidence: clamp(*out.Confidence), Reasoning: out.Reasoning}, nil
}

// ParseCompliance 解析 {"vip_compliant": true, "reason": "..."}
func ParseCompliance(raw string) (ComplianceResult, error) {
	var out struct {
		Compliant *bool  `json:"vip_compliant"`
		Reason    string `json:"reason"`
	}
	if err := decode(raw, &out); err != nil {
		return ComplianceResult{}, err
	}
	if out.Compliant == nil {
		return ComplianceResult{}, fmt.Errorf("%w: missing vip_compliant", ErrMalformed)
	}
	return ComplianceResult{Compliant: *out.Compliant, Reason: out.Reason}, nil
}

// ExtractJSON 去掉 ```json 代码块包裹以及前后的说明文字，只保留最外层的 JSON 对象
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no json object found", ErrMalformed)
	}
	return s[start : end+1], nil
}

func decode(raw string, v any) error {
	body, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
