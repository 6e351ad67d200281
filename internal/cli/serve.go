package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/dispatch"
	"github.com/ProductLabsUS/Flusso-Automation/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 webhook 服务",
	Long: `启动 HTTP 服务接收 Freshdesk webhook。
工单进入有界队列由固定数量的 worker 处理；配置了 redis.addr 时使用 Redis 做跨实例的 in-flight 保护。`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，覆盖 server.addr")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errors.New("config not loaded")
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app failed", "error", err)
		}
	}()

	var guard dispatch.InFlightGuard
	if cfg.Redis.Addr != "" {
		rg := dispatch.NewRedisGuard(cfg.Redis, cfg.Dispatch.InFlightTTL)
		defer rg.Close()
		if err := rg.Ping(ctx); err != nil {
			return fmt.Errorf("连接 redis 失败: %w", err)
		}
		guard = rg
		logger.Info("using redis in-flight guard", "addr", cfg.Redis.Addr)
	}

	dispCfg := cfg.Dispatch
	dispCfg.OnError = func(ticketID string, err error) {
		logger.Error("ticket run failed", "ticket_id", ticketID, "error", err)
	}
	mgr, err := dispatch.NewManager(dispCfg, a.runner, guard, logger)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		ret, err := dispatch.NewRetention(cfg.Retention, a.store, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := ret.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("retention stopped", "error", err)
			}
		}()
	}

	srv := server.New(cfg.Server, mgr, a.store, logger)
	runErr := srv.Run(ctx)

	logger.Info("shutting down", "pending", mgr.Pending())
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch shutdown incomplete", "error", err)
	}
	return runErr
}
