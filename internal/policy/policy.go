package policy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// Config 规则文件位置；为空时使用内置默认规则
type Config struct {
	File string `mapstructure:"file"`
}

// Matchers 客户识别规则：邮箱域名或工单标签
type Matchers struct {
	VIPDomains         []string `yaml:"vip_domains"`
	DistributorDomains []string `yaml:"distributor_domains"`
	InternalDomains    []string `yaml:"internal_domains"`
	VIPTags            []string `yaml:"vip_tags"`
	DistributorTags    []string `yaml:"distributor_tags"`
	InternalTags       []string `yaml:"internal_tags"`
}

// Book 客户识别规则与各类客户的策略
type Book struct {
	Customers Matchers                  `yaml:"customers"`
	Rules     map[string]map[string]any `yaml:"rules"`
}

// Default 内置规则
func Default() *Book {
	return &Book{
		Customers: Matchers{
			VIPDomains:      []string{"@company.com", "@distributor.com"},
			VIPTags:         []string{"vip"},
			DistributorTags: []string{"distributor"},
			InternalTags:    []string{"internal"},
		},
		Rules: map[string]map[string]any{
			string(workflow.CustomerVIP): {
				"warranty_extension_months": 6,
				"allow_free_replacement":    true,
				"priority_shipping":         true,
				"response_time_sla_hours":   4,
				"dedicated_support":         true,
				"max_discount_percent":      20,
			},
			string(workflow.CustomerDistributor): {
				"bulk_discount_eligible":      true,
				"extended_return_window_days": 60,
				"priority_shipping":           true,
				"response_time_sla_hours":     8,
				"max_discount_percent":        15,
			},
			string(workflow.CustomerInternal): {
				"bypass_warranty_validation": true,
				"allow_internal_replacement": true,
				"debug_mode_enabled":         true,
			},
		},
	}
}

// Load 读取 YAML 规则文件；文件中没有出现的部分保留内置默认值
func Load(path string) (*Book, error) {
	book := Default()
	if path == "" {
		return book, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}

	var file struct {
		Customers *Matchers                 `yaml:"customers"`
		Rules     map[string]map[string]any `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy file failed: %w", err)
	}

	if file.Customers != nil {
		book.Customers = *file.Customers
	}
	for ct, rules := range file.Rules {
		key := string(workflow.ParseCustomerType(ct))
		if key == string(workflow.CustomerNormal) && !strings.EqualFold(strings.TrimSpace(ct), key) {
			return nil, fmt.Errorf("unknown customer type %q in policy file", ct)
		}
		book.Rules[key] = rules
	}
	return book, nil
}

// Resolve 先看邮箱域名，再看标签；标签优先级高于域名
func (b *Book) Resolve(ctx context.Context, email string, tags []string) (workflow.CustomerProfile, error) {
	profile := workflow.CustomerProfile{
		Type:     workflow.CustomerNormal,
		Metadata: map[string]string{"email": email},
		Reason:   "default",
	}
	if b == nil {
		return profile, nil
	}

	lowerEmail := strings.ToLower(strings.TrimSpace(email))
	domainRules := []struct {
		ct      workflow.CustomerType
		domains []string
	}{
		{workflow.CustomerInternal, b.Customers.InternalDomains},
		{workflow.CustomerDistributor, b.Customers.DistributorDomains},
		{workflow.CustomerVIP, b.Customers.VIPDomains},
	}
	if lowerEmail != "" {
		for _, r := range domainRules {
			for _, d := range r.domains {
				if d != "" && strings.Contains(lowerEmail, strings.ToLower(d)) {
					profile.Type = r.ct
					profile.Reason = fmt.Sprintf("domain match: %s", d)
				}
			}
		}
	}

	tagRules := []struct {
		ct   workflow.CustomerType
		tags []string
	}{
		{workflow.CustomerInternal, b.Customers.InternalTags},
		{workflow.CustomerDistributor, b.Customers.DistributorTags},
		{workflow.CustomerVIP, b.Customers.VIPTags},
	}
	for _, r := range tagRules {
		if hasAnyTag(tags, r.tags) {
			profile.Type = r.ct
			profile.Reason = fmt.Sprintf("%s tag present", r.ct)
		}
	}

	if profile.Type != workflow.CustomerNormal {
		profile.Metadata["account_tier"] = strings.ToUpper(string(profile.Type))
	}
	return profile, nil
}

// RulesFor 返回规则副本；没有规则的客户类型返回空 map
func (b *Book) RulesFor(ct workflow.CustomerType) map[string]any {
	out := map[string]any{}
	if b == nil {
		return out
	}
	for k, v := range b.Rules[string(ct)] {
		out[k] = v
	}
	return out
}

func hasAnyTag(tags, want []string) bool {
	for _, t := range tags {
		for _, w := range want {
			if w != "" && strings.EqualFold(strings.TrimSpace(t), w) {
				return true
			}
		}
	}
	return false
}
