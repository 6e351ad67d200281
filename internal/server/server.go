package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ProductLabsUS/Flusso-Automation/internal/storage"
	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

const serviceName = "Flusso Workflow Automation"

// Config HTTP 入口配置
type Config struct {
	Addr string `mapstructure:"addr"`
	// Async 为 true 时 webhook 入队后立即返回 202；?wait=true 可强制同步
	Async bool `mapstructure:"async"`
	// WebhookToken 非空时要求请求头 X-Webhook-Token 与之相等
	WebhookToken    string        `mapstructure:"webhook_token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Dispatcher 异步入队或同步执行，*dispatch.Manager 实现了它
type Dispatcher interface {
	Submit(ctx context.Context, ticketID string) error
	Run(ctx context.Context, ticketID string) (workflow.Result, error)
}

// RunStore 查询历史运行记录，*storage.Storage 实现了它
type RunStore interface {
	QueryRunRecords(ctx context.Context, q storage.RunQuery) ([]storage.RunRecord, error)
}

type Server struct {
	cfg    Config
	disp   Dispatcher
	runs   RunStore
	logger *slog.Logger
	engine *gin.Engine
}

func New(cfg Config, disp Dispatcher, runs RunStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{cfg: cfg, disp: disp, runs: runs, logger: logger, engine: r}
	s.register(r)
	return s
}

func (s *Server) register(r *gin.Engine) {
	// 健康检查
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":           serviceName,
			"status":            "running",
			"graph_initialized": s.disp != nil,
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"graph_ready": s.disp != nil,
			"service":     serviceName,
		})
	})

	r.POST("/freshdesk/webhook", s.authorize(), s.webhook)
	r.GET("/runs/:ticket_id", s.listRuns)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.WebhookToken != "" && c.GetHeader("X-Webhook-Token") != s.cfg.WebhookToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
