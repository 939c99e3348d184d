package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"eduquest/internal/generator"
	"eduquest/internal/model"
)

// MusicTool 实现eino框架的背景音乐选择工具
type MusicTool struct {
	sel *generator.MusicSelector
}

// MusicToolArgs 背景音乐选择请求参数
type MusicToolArgs struct {
	ImagePrompt *model.VisualPrompt `json:"image_prompt"`
	SceneName   string              `json:"scene_name,omitempty"`
}

// MusicToolResp 背景音乐选择响应，音频内容以base64编码返回
type MusicToolResp struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Base64      string `json:"base64"`
}

func NewMusicTool(sel *generator.MusicSelector) *MusicTool {
	return &MusicTool{sel: sel}
}

func (t *MusicTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"image_prompt": {Type: schema.Object, Required: true, Desc: "场景图片提示词，用于推导音乐风格"},
		"scene_name":   {Type: schema.String, Required: false, Desc: "场景名称"},
	}
	return &schema.ToolInfo{
		Name:        "music_select",
		Desc:        "根据场景氛围从本地素材池中选出一段背景音乐",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *MusicTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args MusicToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}

	asset, err := t.sel.Select(ctx, args.ImagePrompt, args.SceneName)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(MusicToolResp{
		Filename:    asset.Filename,
		ContentType: asset.ContentType,
		Base64:      base64.StdEncoding.EncodeToString(asset.Content),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*MusicTool)(nil)
