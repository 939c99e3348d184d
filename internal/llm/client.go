package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"eduquest/internal/apperr"
	"eduquest/internal/config"
)

// ChatParams 文本生成请求：模型 + 单条user消息 + 采样参数
type ChatParams struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int64
}

// TextGenerator 文本生成调用
type TextGenerator interface {
	ChatText(ctx context.Context, p ChatParams) (string, error)
}

// ImageSynthesizer 图片合成调用，返回图片URL
type ImageSynthesizer interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient OpenAI兼容服务客户端
type OpenAIClient struct {
	client     openai.Client
	imageModel string
}

// NewOpenAIClient 按配置构造客户端，凭证和端点只从Config注入
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		imageModel: cfg.ImageModel,
	}
}

// ChatText 发起一次单轮对话，返回纯文本内容
func (c *OpenAIClient) ChatText(ctx context.Context, p ChatParams) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(p.Prompt),
		},
		Model:       openai.ChatModel(p.Model),
		Temperature: openai.Float(p.Temperature),
		MaxTokens:   openai.Int(p.MaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUpstreamService, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: 模型未返回choices", apperr.ErrUpstreamService)
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: 模型返回空内容", apperr.ErrUpstreamService)
	}
	return content, nil
}

// GenerateImage 生成一张1024x1024图片，返回URL
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:          openai.ImageModel(c.imageModel),
		Prompt:         prompt,
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		Quality:        openai.ImageGenerateParamsQualityStandard,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUpstreamService, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("%w: 未返回图片URL", apperr.ErrUpstreamService)
	}
	return resp.Data[0].URL, nil
}
