package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// Config 远端审计镜像；Brokers 为空时不启用
type Config struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	ClientID        string        `mapstructure:"client_id"`
	Environment     string        `mapstructure:"environment"`
	WorkflowVersion string        `mapstructure:"workflow_version"`
	HashKey         string        `mapstructure:"hash_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Enabled 是否配置了 broker
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 将审计记录写入 Kafka topic，实现 workflow.Shipper
type Kafka struct {
	cfg    Config
	hasher Hasher
	writer messageWriter
	logger *slog.Logger
}

func NewKafka(cfg Config, logger *slog.Logger) (*Kafka, error) {
	if !cfg.Enabled() {
		return nil, errors.New("shipper: brokers and topic are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	// 以工单号为 key 做哈希分区，同一工单的记录保持顺序
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.Timeout,
	}
	return newKafka(cfg, w, logger), nil
}

func newKafka(cfg Config, w messageWriter, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{cfg: cfg, hasher: NewHasher(cfg.HashKey), writer: w, logger: logger}
}

// Ship 写入一条记录；调用方负责超时
func (k *Kafka) Ship(ctx context.Context, rec workflow.Record) error {
	data, err := json.Marshal(BuildPayload(k.cfg, k.hasher, rec))
	if err != nil {
		return fmt.Errorf("shipper: encode payload: %w", err)
	}
	msg := kafka.Message{Key: []byte(rec.TicketID), Value: data}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("shipper: write to %s: %w", k.cfg.Topic, err)
	}
	k.logger.Debug("audit record shipped", "ticket_id", rec.TicketID, "run_id", rec.RunID)
	return nil
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
