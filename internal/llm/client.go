package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrEmptyResponse 模型没有返回任何内容
var ErrEmptyResponse = errors.New("empty model response")

// Request 一次模型调用
type Request struct {
	// Gate 调用方（节点）名称，用于日志与测试替身
	Gate     string
	Messages []*schema.Message
	// JSON 期望模型只输出 JSON
	JSON        bool
	Temperature *float32
}

// ChatClient 基于 eino ChatModel 的同步调用封装，可并发使用
type ChatClient struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewChatClient timeout <= 0 表示不额外设置超时
func NewChatClient(cm model.BaseChatModel, timeout time.Duration) *ChatClient {
	return &ChatClient{model: cm, timeout: timeout}
}

// Call 调用模型并返回文本内容
func (c *ChatClient) Call(ctx context.Context, req Request) (string, error) {
	if c == nil || c.model == nil {
		return "", errors.New("chat model not initialized")
	}
	if len(req.Messages) == 0 {
		return "", errors.New("no messages")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}

	msg, err := c.model.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%s: chat model generate failed: %w", req.Gate, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%s: %w", req.Gate, ErrEmptyResponse)
	}
	return msg.Content, nil
}

// ArkConfig 火山方舟模型配置
type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// NewArkChatModel 初始化 Ark ChatModel
func NewArkChatModel(ctx context.Context, arkConfig ArkConfig) (*ark.ChatModel, error) {
	if arkConfig.APIKey == "" || arkConfig.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}

	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  arkConfig.APIKey,
		Model:   arkConfig.ModelID,
		BaseURL: arkConfig.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark chat model failed: %w", err)
	}
	return cm, nil
}
