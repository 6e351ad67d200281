package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RecordPruner 按时间分批删除审计记录，*storage.Storage 实现了它
type RecordPruner interface {
	DeleteRunRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

type RetentionConfig struct {
	// Enabled 控制是否在 serve 期间定期清理审计记录。
	Enabled bool `mapstructure:"enabled"`
	// KeepFor 为审计记录保留时长。
	KeepFor time.Duration `mapstructure:"keep_for"`
	// Interval 为清理周期。
	Interval time.Duration `mapstructure:"interval"`
	// BatchRows 为单批删除的最大行数。
	BatchRows int `mapstructure:"batch_rows"`
	// IdleSleep 为两批删除之间的休眠，避免长时间占用写锁。
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.KeepFor <= 0 {
		c.KeepFor = 90 * 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.BatchRows <= 0 {
		c.BatchRows = 500
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	return c
}

type Retention struct {
	cfg    RetentionConfig
	store  RecordPruner
	logger *slog.Logger
	now    func() time.Time
}

func NewRetention(cfg RetentionConfig, store RecordPruner, logger *slog.Logger) (*Retention, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retention{cfg: cfg.withDefaults(), store: store, logger: logger, now: time.Now}, nil
}

// Run 启动时清理一次，之后按周期清理，直到 ctx 结束
func (r *Retention) Run(ctx context.Context) error {
	if r == nil || r.store == nil {
		return errors.New("retention not initialized")
	}
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 删除保留期之前的记录，返回删除行数
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	before := r.now().UTC().Add(-r.cfg.KeepFor)
	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		affected, err := r.store.DeleteRunRecordsBeforeLimited(ctx, before, r.cfg.BatchRows)
		total += affected
		if err != nil {
			return total, err
		}
		if affected < int64(r.cfg.BatchRows) {
			if total > 0 {
				r.logger.Info("audit records pruned", "deleted", total, "before", before)
			}
			return total, nil
		}
		if err := r.sleepIdle(ctx); err != nil {
			return total, err
		}
	}
}

func (r *Retention) sleepIdle(ctx context.Context) error {
	if r.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(r.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
