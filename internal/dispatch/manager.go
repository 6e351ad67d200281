package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

var (
	ErrQueueFull  = errors.New("dispatch queue is full")
	ErrInFlight   = errors.New("ticket is already being processed")
	ErrNotStarted = errors.New("dispatch manager not started")
	ErrStopped    = errors.New("dispatch manager stopped")
)

type ErrorHandler func(ticketID string, err error)

type Config struct {
	// Workers 为并发处理工单的 worker 数量。
	Workers int `mapstructure:"workers"`
	// QueueSize 为待处理队列的缓冲大小；队列满时 Submit 直接返回 ErrQueueFull。
	QueueSize int `mapstructure:"queue_size"`
	// InFlightTTL 为 in-flight 锁的最长持有时间，应大于一次运行的最长耗时。
	InFlightTTL time.Duration `mapstructure:"in_flight_ttl"`
	// RunTimeout 为单次运行的超时。
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// OnError 为异步运行失败回调；默认只记日志。
	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Workers:     max(2, runtime.NumCPU()),
		QueueSize:   256,
		InFlightTTL: 10 * time.Minute,
		RunTimeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.InFlightTTL <= 0 {
		c.InFlightTTL = def.InFlightTTL
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = def.RunTimeout
	}
	if c.OnError == nil {
		c.OnError = func(string, error) {}
	}
	return c
}

// Processor 执行一次工单运行，*workflow.Runner 实现了它
type Processor interface {
	Process(ctx context.Context, ticketID string) (workflow.Result, error)
}

// Manager 将 webhook 确认与运行完成解耦：有界队列 + 固定 worker + in-flight 保护
type Manager struct {
	cfg    Config
	proc   Processor
	guard  InFlightGuard
	logger *slog.Logger

	started atomic.Bool

	mu     sync.RWMutex
	closed bool
	queue  chan string

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, proc Processor, guard InFlightGuard, logger *slog.Logger) (*Manager, error) {
	if proc == nil {
		return nil, errors.New("processor is required")
	}
	cfg = cfg.withDefaults()
	if guard == nil {
		guard = NewMemoryGuard(cfg.InFlightTTL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		proc:   proc,
		guard:  guard,
		logger: logger,
		queue:  make(chan string, cfg.QueueSize),
	}, nil
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	// 运行不继承 ctx 的取消：收到退出信号后队列里已确认的工单仍要跑完，只有 Shutdown 到期才取消
	m.runCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for id := range m.queue {
				m.handle(id)
			}
		}()
	}
	return nil
}

// Submit 非阻塞入队；同一工单正在处理或已在队列中时返回 ErrInFlight
func (m *Manager) Submit(ctx context.Context, ticketID string) error {
	if m == nil || !m.started.Load() {
		return ErrNotStarted
	}

	ok, err := m.guard.Acquire(ctx, ticketID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInFlight
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.release(ticketID)
		return ErrStopped
	}
	select {
	case m.queue <- ticketID:
		return nil
	default:
		m.release(ticketID)
		return ErrQueueFull
	}
}

// Run 同步执行一次运行，同样受 in-flight 保护
func (m *Manager) Run(ctx context.Context, ticketID string) (workflow.Result, error) {
	if m == nil {
		return workflow.Result{}, ErrNotStarted
	}
	ok, err := m.guard.Acquire(ctx, ticketID)
	if err != nil {
		return workflow.Result{}, err
	}
	if !ok {
		return workflow.Result{}, ErrInFlight
	}
	defer m.release(ticketID)

	runCtx, cancel := context.WithTimeout(ctx, m.cfg.RunTimeout)
	defer cancel()
	return m.proc.Process(runCtx, ticketID)
}

func (m *Manager) handle(ticketID string) {
	defer m.release(ticketID)

	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.RunTimeout)
	defer cancel()

	res, err := m.proc.Process(ctx, ticketID)
	if err != nil {
		m.logger.Error("ticket run failed", "ticket_id", ticketID, "error", err)
		m.cfg.OnError(ticketID, err)
		return
	}
	m.logger.Info("ticket run finished",
		"ticket_id", ticketID,
		"run_id", res.RunID,
		"status", string(res.Status),
	)
}

func (m *Manager) release(ticketID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.guard.Release(ctx, ticketID); err != nil {
		m.logger.Warn("release in-flight guard failed", "ticket_id", ticketID, "error", err)
	}
}

// Shutdown 停止接收新任务并等待队列处理完；ctx 到期时取消正在进行的运行
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || !m.started.Load() {
		return nil
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return fmt.Errorf("dispatch shutdown: %w", ctx.Err())
	}
}

// Pending 队列中尚未开始的任务数
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.queue)
}

