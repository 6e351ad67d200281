package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

func TestResolve_DefaultBook(t *testing.T) {
	book := Default()
	ctx := context.Background()

	tests := []struct {
		name  string
		email string
		tags  []string
		want  workflow.CustomerType
	}{
		{"plain customer", "jane@example.com", nil, workflow.CustomerNormal},
		{"vip domain", "Boss@Company.com", nil, workflow.CustomerVIP},
		{"vip tag", "jane@example.com", []string{"VIP"}, workflow.CustomerVIP},
		{"distributor tag beats domain", "x@company.com", []string{"distributor"}, workflow.CustomerDistributor},
		{"internal tag", "", []string{"internal"}, workflow.CustomerInternal},
		{"empty email", "", nil, workflow.CustomerNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := book.Resolve(ctx, tt.email, tt.tags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Type)
			assert.NotEmpty(t, p.Reason)
		})
	}
}

func TestRulesFor_ReturnsCopy(t *testing.T) {
	book := Default()

	rules := book.RulesFor(workflow.CustomerVIP)
	assert.Equal(t, 4, rules["response_time_sla_hours"])
	rules["response_time_sla_hours"] = 99
	assert.Equal(t, 4, book.RulesFor(workflow.CustomerVIP)["response_time_sla_hours"])

	assert.Empty(t, book.RulesFor(workflow.CustomerNormal))
	assert.NotNil(t, book.RulesFor(workflow.CustomerNormal))
}

func TestLoad_MergesFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `
customers:
  vip_domains: ["@bigclient.io"]
  vip_tags: ["vip"]
rules:
  VIP:
    max_discount_percent: 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	book, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, book.RulesFor(workflow.CustomerVIP)["max_discount_percent"])
	assert.Equal(t, true, book.RulesFor(workflow.CustomerInternal)["debug_mode_enabled"])

	p, err := book.Resolve(context.Background(), "a@bigclient.io", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.CustomerVIP, p.Type)

	p, err = book.Resolve(context.Background(), "a@company.com", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.CustomerNormal, p.Type)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  gold:\n    a: 1\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "unknown customer type")

	book, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), book)
}
