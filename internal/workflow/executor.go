package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// MaxNodeVisits 单个节点在一次运行中最多执行的次数
	MaxNodeVisits = 4
	// MaxNodeExecutions 一次运行中所有节点执行次数之和的上限
	MaxNodeExecutions = 20
)

var (
	ErrVisitLimit = errors.New("node visit limit exceeded")
	ErrStepLimit  = errors.New("run step limit exceeded")
)

// Node 是 Graph 中的一个处理步骤。
//
// Run 读取状态快照并返回部分更新与一条审计事件；协作方失败必须在节点内部降级处理，
// 只有无法继续运行的错误（例如拉取工单失败）才通过 error 返回。
type Node interface {
	Name() string
	Run(ctx context.Context, st State) (Update, Event, error)
}

// NodeFunc 将普通函数适配为 Node
type NodeFunc struct {
	NodeName string
	Fn       func(ctx context.Context, st State) (Update, Event, error)
}

func (f NodeFunc) Name() string { return f.NodeName }

func (f NodeFunc) Run(ctx context.Context, st State) (Update, Event, error) {
	return f.Fn(ctx, st)
}

// Executor 负责执行单个节点并把结果合并回状态
type Executor struct {
	Logger    *slog.Logger
	MaxVisits int
	MaxSteps  int
	Now       func() time.Time
}

// NewExecutor 使用默认上限创建 Executor
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Logger:    logger,
		MaxVisits: MaxNodeVisits,
		MaxSteps:  MaxNodeExecutions,
		Now:       time.Now,
	}
}

// Step 执行一个节点：检查访问上限 -> 在快照上运行 -> 合并更新 -> 追加事件 -> 计数
func (e *Executor) Step(ctx context.Context, node Node, st State) (State, error) {
	name := node.Name()
	maxVisits, maxSteps := e.limits()

	if st.Visits[name] >= maxVisits {
		return st, fmt.Errorf("%s: %w (%d)", name, ErrVisitLimit, maxVisits)
	}
	if st.Steps >= maxSteps {
		return st, fmt.Errorf("%s: %w (%d)", name, ErrStepLimit, maxSteps)
	}

	logger := e.logger().With("node", name, "ticket_id", st.TicketID)
	if traceID := TraceID(ctx); traceID != "" {
		logger = logger.With("trace_id", traceID)
	}

	start := e.now()
	logger.DebugContext(ctx, "node started", "visit", st.Visits[name]+1, "step", st.Steps+1)

	up, ev, err := node.Run(ctx, st.clone())
	if err != nil {
		logger.ErrorContext(ctx, "node failed", "error", err)
		return st, fmt.Errorf("node %s: %w", name, err)
	}

	next := Merge(st, up)
	if !ev.IsZero() {
		if ev.At.IsZero() {
			ev.At = e.now()
		}
		next.Events = append(next.Events, ev)
		if ev.Type == EventError {
			logger.WarnContext(ctx, "node degraded", "error", ev.Details["error"])
		}
	}
	if next.Visits == nil {
		next.Visits = map[string]int{}
	}
	next.Visits[name]++
	next.Steps++

	logger.InfoContext(ctx, "node finished", "event", ev.Event, "type", string(ev.Type), "duration", e.now().Sub(start))
	return next, nil
}

func (e *Executor) limits() (int, int) {
	maxVisits, maxSteps := e.MaxVisits, e.MaxSteps
	if maxVisits <= 0 {
		maxVisits = MaxNodeVisits
	}
	if maxSteps <= 0 {
		maxSteps = MaxNodeExecutions
	}
	return maxVisits, maxSteps
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
