package cli

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()

	l := newLogger("debug", "text")
	assert.True(t, l.Enabled(ctx, slog.LevelDebug))

	l = newLogger("WARN", "json")
	assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	assert.True(t, l.Enabled(ctx, slog.LevelWarn))

	l = newLogger("", "")
	assert.True(t, l.Enabled(ctx, slog.LevelInfo))
	assert.False(t, l.Enabled(ctx, slog.LevelDebug))
}

func TestRenderSummary(t *testing.T) {
	res := workflow.Result{
		RunID:        "run-1",
		TicketID:     "101",
		Status:       workflow.StatusLowConfidenceMatch,
		Category:     "warranty",
		CustomerType: workflow.CustomerVIP,
		Tags:         []string{"LOW_CONFIDENCE_MATCH", "warranty"},
		State: workflow.State{
			HallucinationRisk:      0.12,
			ProductMatchConfidence: 0.35,
			DeliveryFailed:         true,
			TextHits:               []workflow.Hit{{ID: "a"}, {ID: "b"}},
		},
	}

	out := renderSummary(res)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "low_confidence_match")
	assert.Contains(t, out, "0.35")
	assert.Contains(t, out, "0/2/0")
	assert.Contains(t, out, "LOW_CONFIDENCE_MATCH, warranty")
	assert.Contains(t, out, "delivery to Freshdesk failed")
}

func TestRenderMarkdown_KeepsText(t *testing.T) {
	assert.Contains(t, renderMarkdown("Hello **Jane**"), "Jane")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["run"])
	assert.True(t, names["audit"])
}
