package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ProductLabsUS/Flusso-Automation/internal/config"
	"github.com/ProductLabsUS/Flusso-Automation/internal/freshdesk"
	"github.com/ProductLabsUS/Flusso-Automation/internal/llm"
	"github.com/ProductLabsUS/Flusso-Automation/internal/policy"
	"github.com/ProductLabsUS/Flusso-Automation/internal/retrieval"
	"github.com/ProductLabsUS/Flusso-Automation/internal/shipper"
	"github.com/ProductLabsUS/Flusso-Automation/internal/storage"
	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// app 持有一次进程生命周期内的全部协作方
type app struct {
	store   *storage.Storage
	shipper *shipper.Kafka
	runner  *workflow.Runner
}

func (a *app) Close() error {
	if a == nil {
		return nil
	}
	if a.runner != nil {
		a.runner.Wait()
	}
	var errs []error
	if a.shipper != nil {
		errs = append(errs, a.shipper.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, c *config.Config, log *slog.Logger) (*app, error) {
	if err := c.ValidateRuntime(); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	a := &app{store: store}

	deps, err := buildDeps(ctx, c, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	deps.Audit = store

	if c.Shipper.Enabled() {
		k, err := shipper.NewKafka(c.Shipper, log)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("创建 shipper 失败: %w", err)
		}
		a.shipper = k
		deps.Shipper = k
	}

	runner, err := workflow.NewRunner(ctx, deps, c.WorkflowSettings())
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}

func buildDeps(ctx context.Context, c *config.Config, log *slog.Logger) (workflow.Deps, error) {
	deps := workflow.Deps{Logger: log}

	fd, err := freshdesk.NewClient(c.Freshdesk, nil, log)
	if err != nil {
		return deps, err
	}
	deps.Tickets = fd
	deps.Sink = fd

	cm, err := llm.NewArkChatModel(ctx, c.Ark)
	if err != nil {
		return deps, err
	}
	deps.Model = llm.NewChatClient(cm, c.Timeouts.Model)

	textEmb, err := retrieval.NewTextEmbedder(ctx, c.Embedding, nil)
	if err != nil {
		return deps, err
	}
	deps.TextEmbedder = textEmb

	pc := c.Pinecone
	if deps.DocIndex, err = retrieval.NewIndex("docs", pc.DocHost, pc.APIKey, pc.Namespace, retrieval.DocSummary, nil); err != nil {
		return deps, err
	}
	if deps.TicketIndex, err = retrieval.NewIndex("tickets", pc.TicketHost, pc.APIKey, pc.Namespace, retrieval.TicketSummary, nil); err != nil {
		return deps, err
	}

	// 图片检索是可选的：未配置时 vision 节点记录错误事件并返回空结果
	if c.Embedding.ImageURL != "" && pc.ImageHost != "" {
		imgEmb, err := retrieval.NewImageEmbedder(c.Embedding, nil)
		if err != nil {
			return deps, err
		}
		imgIdx, err := retrieval.NewIndex("images", pc.ImageHost, pc.APIKey, pc.Namespace, retrieval.ProductSummary, nil)
		if err != nil {
			return deps, err
		}
		deps.ImageEmbedder = imgEmb
		deps.ImageIndex = imgIdx
	} else {
		log.Warn("image retrieval not configured, vision pipeline will return no hits")
	}

	book, err := policy.Load(c.Policy.File)
	if err != nil {
		return deps, err
	}
	deps.Customers = book
	deps.Rules = book
	return deps, nil
}
