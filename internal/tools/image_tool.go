package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"eduquest/internal/generator"
	"eduquest/internal/model"
)

// ImageTool 实现eino框架的场景图片生成工具
type ImageTool struct {
	gen *generator.ImageGenerator
}

// ImageToolArgs 图片生成请求参数。image_prompt接受字符串或结构化对象。
type ImageToolArgs struct {
	ImagePrompt *model.VisualPrompt `json:"image_prompt"`
	NodeID      string              `json:"node_id,omitempty"`
}

// ImageToolResp 图片生成响应
type ImageToolResp struct {
	ImageURL string `json:"image_url"`
	NodeID   string `json:"node_id,omitempty"`
	Prompt   string `json:"prompt"`
}

func NewImageTool(gen *generator.ImageGenerator) *ImageTool {
	return &ImageTool{gen: gen}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"image_prompt": {Type: schema.Object, Required: true, Desc: "图片提示词，字符串或含视觉风格/场景描述/角色描述/构图要求/技术参数的对象"},
		"node_id":      {Type: schema.String, Required: false, Desc: "分镜节点ID，原样回传"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "按像素风RPG风格生成单张1024x1024场景图片",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}

	url, err := t.gen.Generate(ctx, args.ImagePrompt)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(ImageToolResp{
		ImageURL: url,
		NodeID:   args.NodeID,
		Prompt:   generator.FlattenPrompt(args.ImagePrompt),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
