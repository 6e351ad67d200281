package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
)

const graphName = "flusso_ticket_workflow"

var (
	ErrInvalidTicketID = errors.New("invalid ticket id")
	ErrDeliveryFailed  = errors.New("delivery failed")
)

// BuildGraph 构建工单处理流程图
//
// 每个 Lambda 节点都通过 Executor 执行，访问次数与总步数保存在 State 中。
func BuildGraph(ctx context.Context, exec *Executor, all []Node, hallucinationThreshold float64) (compose.Runnable[State, State], error) {
	g := compose.NewGraph[State, State]()

	// 1. 添加节点
	for _, node := range all {
		err := g.AddLambdaNode(node.Name(), compose.InvokableLambda(func(ctx context.Context, st State) (State, error) {
			return exec.Step(ctx, node, st)
		}))
		if err != nil {
			return nil, fmt.Errorf("add node %s: %w", node.Name(), err)
		}
	}

	// 2. 添加边与分支
	edges := [][2]string{
		{compose.START, NodeFetch},
		{NodeFetch, NodeClassify},
		{NodeCustomerLookup, NodePolicyLookup},
		{NodePolicyLookup, NodeContext},
		{NodeContext, NodeOrchestration},
		{NodeConfidence, NodeVIPCompliance},
		{NodeVIPCompliance, NodeDraft},
		{NodeDraft, NodeResolution},
		{NodeResolution, NodeDelivery},
		{NodeDelivery, NodeAuditFlush},
		{NodeAuditFlush, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	// 分类之后以及每个检索节点之后都回到同一个路由：
	// 依次执行尚未执行的检索，全部完成后进入 customer_lookup
	// 检索节点执行后其 ran* 标记已为 true，路由不会再回到自身，因此分支目标里去掉自身
	for _, from := range []string{NodeClassify, NodeVision, NodeTextRetrieval, NodePastTickets} {
		targets := map[string]bool{NodeCustomerLookup: true}
		for _, to := range []string{NodeVision, NodeTextRetrieval, NodePastTickets} {
			if to != from {
				targets[to] = true
			}
		}
		if err := g.AddBranch(from, newBranch(RouteAfterClassification, targets)); err != nil {
			return nil, fmt.Errorf("add branch after %s: %w", from, err)
		}
	}

	branches := []struct {
		from    string
		route   func(State) string
		targets map[string]bool
	}{
		{NodeOrchestration, RouteAfterOrchestration, map[string]bool{
			NodeSufficiency:   true,
			NodeVision:        true,
			NodeTextRetrieval: true,
			NodePastTickets:   true,
		}},
		{NodeSufficiency, RouteAfterSufficiency, map[string]bool{NodeHallucination: true, NodeDraft: true}},
		{NodeHallucination, RouteAfterHallucination(hallucinationThreshold), map[string]bool{NodeConfidence: true, NodeDraft: true}},
	}
	for _, b := range branches {
		if err := g.AddBranch(b.from, newBranch(b.route, b.targets)); err != nil {
			return nil, fmt.Errorf("add branch after %s: %w", b.from, err)
		}
	}

	// 3. 编译 Graph；eino 的步数上限只作为兜底，真正的上限由 Executor 检查
	return g.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(MaxNodeExecutions+5),
	)
}

func newBranch(route func(State) string, targets map[string]bool) *compose.GraphBranch {
	return compose.NewGraphBranch(func(ctx context.Context, st State) (string, error) {
		next := route(st)
		if !targets[next] {
			return "", fmt.Errorf("route to unknown node %q", next)
		}
		return next, nil
	}, targets)
}

// Result 一次运行的结果摘要
type Result struct {
	RunID        string
	TicketID     string
	Status       Status
	Category     string
	CustomerType CustomerType
	Tags         []string
	Completed    bool
	State        State
}

// Runner 持有编译好的 Graph，可被多个 goroutine 同时使用；每次 Process 使用独立的 State
type Runner struct {
	graph  compose.Runnable[State, State]
	nodes  *nodes
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner 构建并编译 Graph
func NewRunner(ctx context.Context, deps Deps, cfg Settings) (*Runner, error) {
	n := newNodes(deps, cfg)

	exec := NewExecutor(n.logger)
	exec.MaxVisits = n.cfg.MaxVisits
	exec.MaxSteps = n.cfg.MaxSteps
	exec.Now = n.now

	g, err := BuildGraph(ctx, exec, n.all(), n.cfg.Thresholds.Hallucination)
	if err != nil {
		return nil, fmt.Errorf("build graph failed: %w", err)
	}
	return &Runner{graph: g, nodes: n, logger: n.logger, now: n.now}, nil
}

// Process 处理一张工单直到终止节点
func (r *Runner) Process(ctx context.Context, ticketID string) (Result, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return Result{}, ErrInvalidTicketID
	}

	ctx, runID := ensureRunID(ctx)
	logger := r.logger.With("ticket_id", ticketID, "trace_id", runID)
	logger.InfoContext(ctx, "workflow started")

	out, err := r.graph.Invoke(ctx, NewState(ticketID, r.now()), compose.WithCallbacks(r.callbackHandler(logger)))
	if err != nil {
		logger.ErrorContext(ctx, "workflow failed", "error", err)
		return Result{RunID: runID, TicketID: ticketID}, fmt.Errorf("process ticket %s: %w", ticketID, err)
	}

	res := Result{
		RunID:        runID,
		TicketID:     ticketID,
		Status:       out.Status,
		Category:     out.Category,
		CustomerType: out.CustomerType,
		Tags:         out.FinalTags,
		Completed:    !out.DeliveryFailed,
		State:        out,
	}
	if out.DeliveryFailed {
		logger.ErrorContext(ctx, "workflow finished with delivery failure", "status", string(out.Status))
		return res, fmt.Errorf("process ticket %s: %w", ticketID, ErrDeliveryFailed)
	}

	logger.InfoContext(ctx, "workflow finished",
		"status", string(out.Status),
		"category", out.Category,
		"steps", out.Steps,
		"duration", r.now().Sub(out.StartedAt))
	return res, nil
}

// Wait 等待所有异步投递结束
func (r *Runner) Wait() {
	r.nodes.shipping.Wait()
}

func (r *Runner) callbackHandler(logger *slog.Logger) callbacks.Handler {
	name := func(info *callbacks.RunInfo) string {
		if info == nil {
			return ""
		}
		return info.Name
	}
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			logger.DebugContext(ctx, "graph component start", "name", name(info))
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			logger.DebugContext(ctx, "graph component end", "name", name(info))
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.DebugContext(ctx, "graph component error", "name", name(info), "error", err)
			return ctx
		}).
		Build()
}
