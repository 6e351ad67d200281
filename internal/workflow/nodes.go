package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/prompt"

	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
)

var errNotConfigured = errors.New("collaborator not configured")

// nodes 持有所有节点共享的只读依赖
type nodes struct {
	deps   Deps
	cfg    Settings
	tpl    Templates
	logger *slog.Logger
	now    func() time.Time

	// 异步投递审计记录的 goroutine
	shipping sync.WaitGroup
}

func newNodes(deps Deps, cfg Settings) *nodes {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &nodes{
		deps:   deps,
		cfg:    cfg.normalized(),
		tpl:    NewTemplates(),
		logger: logger,
		now:    now,
	}
}

// all 按执行顺序返回全部节点
func (n *nodes) all() []Node {
	return []Node{
		NodeFunc{NodeFetch, n.fetch},
		NodeFunc{NodeClassify, n.classify},
		NodeFunc{NodeVision, n.vision},
		NodeFunc{NodeTextRetrieval, n.textRetrieval},
		NodeFunc{NodePastTickets, n.pastTickets},
		NodeFunc{NodeCustomerLookup, n.customerLookup},
		NodeFunc{NodePolicyLookup, n.policyLookup},
		NodeFunc{NodeContext, n.assembleContext},
		NodeFunc{NodeOrchestration, n.orchestrate},
		NodeFunc{NodeSufficiency, n.sufficiency},
		NodeFunc{NodeHallucination, n.hallucination},
		NodeFunc{NodeConfidence, n.confidence},
		NodeFunc{NodeVIPCompliance, n.vipCompliance},
		NodeFunc{NodeDraft, n.draft},
		NodeFunc{NodeResolution, n.resolve},
		NodeFunc{NodeDelivery, n.deliver},
		NodeFunc{NodeAuditFlush, n.flushAudit},
	}
}

// callModel 渲染模板并调用模型，调用带超时
func (n *nodes) callModel(ctx context.Context, gate string, tpl prompt.ChatTemplate, vars map[string]any, expectJSON bool, temperature float32) (string, error) {
	if n.deps.Model == nil {
		return "", fmt.Errorf("model: %w", errNotConfigured)
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("format %s prompt failed: %w", gate, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.ModelTimeout)
	defer cancel()

	return n.deps.Model.Call(ctx, llm.Request{
		Gate:        gate,
		Messages:    msgs,
		JSON:        expectJSON,
		Temperature: ptr(temperature),
	})
}

func (n *nodes) log(ctx context.Context, node string, st State) *slog.Logger {
	logger := n.logger.With("node", node, "ticket_id", st.TicketID)
	if traceID := TraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}
	return logger
}
