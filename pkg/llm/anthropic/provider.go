// Package anthropic 提供 Anthropic Claude LLM 供应商实现。
// Anthropic 不提供 Embedding API，因此本包只实现 llm.ChatProvider。
//
// internal/gateway selects this variant from config.Config and builds it via
// NewProviderWithConfig — there is no string-keyed runtime lookup.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kart-io/memoryd/pkg/llm"
	"github.com/kart-io/memoryd/pkg/utils/httpclient"
	"github.com/kart-io/memoryd/pkg/utils/json"
)

// ProviderName 是 Anthropic 供应商的名称标识符。
const ProviderName = "anthropic"

// apiVersion is the Anthropic Messages API version header value.
const apiVersion = "2023-06-01"

// Config Anthropic 供应商配置。
type Config struct {
	// BaseURL API 基础地址，默认为 Anthropic 官方地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey API 密钥（通过 x-api-key 头发送）。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// ChatModel 用于对话的模型，如 claude-3-5-sonnet-latest。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// MaxTokens 单次响应的最大 token 数（Anthropic 要求必填）。
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	// Temperature 控制生成文本的随机性，范围 0.0-1.0。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// TopP 核采样参数。
	TopP float64 `json:"top_p" mapstructure:"top_p"`

	// Stop 停止序列列表。
	Stop []string `json:"stop" mapstructure:"stop"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.anthropic.com/v1",
		ChatModel:  "claude-3-5-sonnet-latest",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		MaxTokens:  1024,
	}
}

// Provider Anthropic 供应商实现。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProviderWithConfig constructs an Anthropic provider from a typed Config.
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout, cfg.MaxRetries),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

type messageRequest struct {
	Model         string           `json:"model"`
	Messages      []messageEntry   `json:"messages"`
	System        string           `json:"system,omitempty"`
	MaxTokens     int              `json:"max_tokens"`
	Temperature   float64          `json:"temperature,omitempty"`
	TopP          float64          `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
}

type messageEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat 进行多轮对话。The Anthropic wire format separates the system prompt
// from the turn list, so a leading RoleSystem message is lifted out.
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := p.send(ctx, messages)
	if err != nil {
		return "", err
	}
	return textOf(resp), nil
}

// Generate 根据提示生成文本（单轮）。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (*llm.GenerateResponse, error) {
	messages := []llm.Message{}
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	resp, err := p.send(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{
		Content: textOf(resp),
		TokenUsage: &llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) send(ctx context.Context, messages []llm.Message) (*messageResponse, error) {
	var system string
	turns := make([]messageEntry, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		turns = append(turns, messageEntry{Role: string(m.Role), Content: m.Content})
	}

	reqBody := messageRequest{
		Model:         p.config.ChatModel,
		Messages:      turns,
		System:        system,
		MaxTokens:     p.config.MaxTokens,
		Temperature:   p.config.Temperature,
		TopP:          p.config.TopP,
		StopSequences: p.config.Stop,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	p.setHeaders(req)

	var resp messageResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("未返回响应内容")
	}
	return &resp, nil
}

func textOf(resp *messageResponse) string {
	if len(resp.Content) == 0 {
		return ""
	}
	return resp.Content[0].Text
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}
