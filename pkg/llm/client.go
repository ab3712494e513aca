// Package llm 提供与大语言模型交互的客户端。
package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"kbqa-go/internal/config"
	"kbqa-go/pkg/errs"
	"kbqa-go/pkg/log"
)

// OfflineAnswer 是未配置 API Key 或 testing 模式下的固定回答。
const OfflineAnswer = "测试环境未配置通义千问API，将返回模拟回答。"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 发送一次非流式补全请求并返回完整回答。
	Complete(ctx context.Context, messages []Message, gen GenerationParams) (string, error)
}

// NewClient 根据配置创建客户端。offline 为 true 或未配置 API Key 时返回离线客户端。
func NewClient(cfg config.LLMConfig, offline bool) Client {
	if offline || cfg.APIKey == "" {
		log.Info("[LLM] 未配置大模型 API Key 或处于测试模式，使用离线应答")
		return offlineClient{}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// openAIClient 通过 OpenAI 兼容协议调用模型（默认 DashScope compatible-mode）。
type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message, gen GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: float32(c.cfg.Generation.Temperature),
		TopP:        float32(c.cfg.Generation.TopP),
		MaxTokens:   c.cfg.Generation.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	// 传参优先于配置
	if gen.Temperature != nil {
		req.Temperature = float32(*gen.Temperature)
	}
	if gen.TopP != nil {
		req.TopP = float32(*gen.TopP)
	}
	if gen.MaxTokens != nil {
		req.MaxTokens = *gen.MaxTokens
	}
	req.Temperature = explicitZero(req.Temperature)
	req.TopP = explicitZero(req.TopP)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %v: %w", err, errs.ErrBackendUnavailable)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// explicitZero 把 0 换成最小正数。go-openai 的 temperature、top_p 带 omitempty，
// 直接传 0 会被省略，服务端改用它自己的默认值。
func explicitZero(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

// offlineClient 不访问网络，始终返回固定回答。
type offlineClient struct{}

func (offlineClient) Complete(ctx context.Context, messages []Message, gen GenerationParams) (string, error) {
	return OfflineAnswer, nil
}
