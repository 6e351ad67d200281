package freshdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ProductLabsUS/Flusso-Automation/internal/workflow"
)

// Config Freshdesk 连接配置
type Config struct {
	Domain string `mapstructure:"domain"`
	APIKey string `mapstructure:"api_key"`
}

// APIError Freshdesk 返回非 2xx 时的错误
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("freshdesk: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client Freshdesk REST v2 客户端，实现 workflow.TicketSource 与 workflow.TicketSink
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient domain 可以带或不带协议前缀；带协议前缀时保留协议（便于测试指向 httptest）
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		return nil, fmt.Errorf("freshdesk: domain is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("freshdesk: api key is required")
	}

	scheme := "https://"
	switch {
	case strings.HasPrefix(domain, "https://"):
		domain = strings.TrimPrefix(domain, "https://")
	case strings.HasPrefix(domain, "http://"):
		scheme = "http://"
		domain = strings.TrimPrefix(domain, "http://")
	}
	domain = strings.SplitN(domain, "/", 2)[0]

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    scheme + domain + "/api/v2",
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type requester struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type attachment struct {
	ContentType   string `json:"content_type"`
	AttachmentURL string `json:"attachment_url"`
	Name          string `json:"name"`
}

type ticketPayload struct {
	ID              int64        `json:"id"`
	Subject         string       `json:"subject"`
	DescriptionText string       `json:"description_text"`
	Description     string       `json:"description"`
	Priority        int          `json:"priority"`
	Type            *string      `json:"type"`
	Tags            []string     `json:"tags"`
	Requester       *requester   `json:"requester"`
	Attachments     []attachment `json:"attachments"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// FetchTicket 拉取工单，附件中只保留图片
func (c *Client) FetchTicket(ctx context.Context, id string) (workflow.Ticket, error) {
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return workflow.Ticket{}, fmt.Errorf("freshdesk: invalid ticket id %q", id)
	}

	body, err := c.do(ctx, http.MethodGet, "/tickets/"+id+"?include=requester", nil)
	if err != nil {
		return workflow.Ticket{}, err
	}

	var p ticketPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return workflow.Ticket{}, fmt.Errorf("freshdesk: decode ticket %s: %w", id, err)
	}
	return p.toTicket(id), nil
}

func (p ticketPayload) toTicket(id string) workflow.Ticket {
	t := workflow.Ticket{
		ID:        id,
		Subject:   p.Subject,
		Body:      p.DescriptionText,
		Priority:  p.Priority,
		Tags:      append([]string{}, p.Tags...),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if t.Body == "" {
		t.Body = p.Description
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	t.RequesterName = "Unknown"
	if p.Requester != nil {
		if p.Requester.Name != "" {
			t.RequesterName = p.Requester.Name
		}
		t.RequesterEmail = p.Requester.Email
	}
	for _, a := range p.Attachments {
		if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") && a.AttachmentURL != "" {
			t.Images = append(t.Images, a.AttachmentURL)
		}
	}
	return t
}

// PostNote 添加备注，private=false 时客户可见
func (c *Client) PostNote(ctx context.Context, id, text string, private bool) error {
	payload := map[string]any{"body": text, "private": private}
	_, err := c.do(ctx, http.MethodPost, "/tickets/"+id+"/notes", payload)
	return err
}

// UpdateTags 覆盖写入标签
func (c *Client) UpdateTags(ctx context.Context, id string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	_, err := c.do(ctx, http.MethodPut, "/tickets/"+id, map[string]any{"tags": tags})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("freshdesk: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("freshdesk: build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, "X")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freshdesk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("freshdesk: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn("freshdesk rate limited", "path", path, "retry_after", resp.Header.Get("Retry-After"))
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}
