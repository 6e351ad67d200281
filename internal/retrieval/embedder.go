package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	arkemb "github.com/cloudwego/eino-ext/components/embedding/ark"
	openaiemb "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
)

// EmbeddingConfig 文本与图片向量服务。Provider 为 openai（任意 OpenAI 兼容接口）或 ark
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ImageURL  string        `mapstructure:"image_url"`
	ImageAuth string        `mapstructure:"image_api_key"`
}

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// NewTextEmbedder 按 Provider 创建 eino-ext 的文本向量组件
func NewTextEmbedder(ctx context.Context, cfg EmbeddingConfig, httpClient *http.Client) (embedding.Embedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding: model is required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if base == "" {
			return nil, fmt.Errorf("embedding: base url is required for openai provider")
		}
		emb, err := openaiemb.NewEmbedder(ctx, &openaiemb.EmbeddingConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    base,
			Model:      cfg.Model,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: create openai embedder: %w", err)
		}
		return emb, nil
	case ProviderArk:
		// base 为空时使用 ark 默认地址
		emb, err := arkemb.NewEmbedder(ctx, &arkemb.EmbeddingConfig{
			APIKey:  cfg.APIKey,
			BaseURL: base,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding: create ark embedder: %w", err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// ImageEmbedder 调用自建的图片向量服务（CLIP），输入为图片 URL，实现 workflow.ImageEmbedder
type ImageEmbedder struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewImageEmbedder(cfg EmbeddingConfig, httpClient *http.Client) (*ImageEmbedder, error) {
	url := strings.TrimSpace(cfg.ImageURL)
	if url == "" {
		return nil, fmt.Errorf("image embedding: url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageEmbedder{url: url, apiKey: cfg.ImageAuth, httpClient: httpClient}, nil
}

func (e *ImageEmbedder) EmbedImage(ctx context.Context, ref string) ([]float64, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("image embedding: empty image reference")
	}
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := postJSON(ctx, e.httpClient, e.url, e.apiKey, map[string]any{"image_url": ref}, &out); err != nil {
		return nil, fmt.Errorf("image embedding: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("image embedding: empty vector for %s", ref)
	}
	return out.Embedding, nil
}

func postJSON(ctx context.Context, c *http.Client, url, apiKey string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
