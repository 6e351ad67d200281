package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

const pineconeAPIVersion = "2024-07"

// PineconeConfig 三个索引共享同一个 api key，各自使用独立的 host
type PineconeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	ImageHost  string `mapstructure:"image_host"`
	DocHost    string `mapstructure:"doc_host"`
	TicketHost string `mapstructure:"ticket_host"`
	Namespace  string `mapstructure:"namespace"`
}

// Summarizer 从命中的 metadata 生成可读摘要
type Summarizer func(metadata map[string]any) string

// Index Pinecone 数据面 REST 查询，实现 workflow.VectorIndex
type Index struct {
	name       string
	host       string
	apiKey     string
	namespace  string
	summarize  Summarizer
	httpClient *http.Client
}

// NewIndex host 不带协议时默认 https
func NewIndex(name, host, apiKey, namespace string, summarize Summarizer, httpClient *http.Client) (*Index, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return nil, fmt.Errorf("pinecone: host for index %s is required", name)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone: api key is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if summarize == nil {
		summarize = DocSummary
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Index{
		name:       name,
		host:       host,
		apiKey:     apiKey,
		namespace:  namespace,
		summarize:  summarize,
		httpClient: httpClient,
	}, nil
}

type queryRequest struct {
	Vector          []float64      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Query 按相似度降序返回最多 topK 条命中
func (i *Index) Query(ctx context.Context, vector []float64, topK int, filter map[string]any) ([]workflow.Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("pinecone %s: empty query vector", i.name)
	}
	if topK <= 0 {
		return []workflow.Hit{}, nil
	}

	data, err := json.Marshal(queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
		Namespace:       i.namespace,
		Filter:          filter,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone %s: encode query: %w", i.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.host+"/query", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pinecone %s: build request: %w", i.name, err)
	}
	req.Header.Set("Api-Key", i.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinecone %s: query: %w", i.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("pinecone %s: read response: %w", i.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pinecone %s: status %d: %s", i.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("pinecone %s: decode response: %w", i.name, err)
	}

	hits := make([]workflow.Hit, 0, len(out.Matches))
	for _, m := range out.Matches {
		meta := m.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		hits = append(hits, workflow.Hit{
			ID:       m.ID,
			Score:    m.Score,
			Metadata: meta,
			Content:  i.summarize(meta),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

var productFields = []struct{ key, label string }{
	{"product_title", "Product_title"},
	{"model_no", "Model_no"},
	{"finish", "Finish"},
	{"product_category", "Product_category"},
}

// ProductSummary 图片索引：拼接产品字段
func ProductSummary(meta map[string]any) string {
	parts := make([]string, 0, len(productFields))
	for _, f := range productFields {
		if v, ok := meta[f.key]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", f.label, v))
		}
	}
	if len(parts) == 0 {
		return "Product Match"
	}
	return strings.Join(parts, " | ")
}

// TicketSummary 历史工单索引
func TicketSummary(meta map[string]any) string {
	if s := firstString(meta, "text", "summary"); s != "" {
		return s
	}
	return "Past Ticket"
}

// DocSummary 文档索引
func DocSummary(meta map[string]any) string {
	return firstString(meta, "text", "content", "chunk", "summary")
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := meta[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
