package tools

import (
	"context"
	"encoding/json"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"eduquest/internal/generator"
	"eduquest/internal/model"
)

// DialogueTool 实现eino框架的场景对话生成工具
type DialogueTool struct {
	gen *generator.DialogueGenerator
}

// DialogueToolArgs 对话生成请求参数
type DialogueToolArgs struct {
	SceneName    string              `json:"scene_name"`              // 场景名称
	Characters   *model.CharacterSet `json:"characters"`              // 人物档案
	Dialogue     *model.DialogueSeed `json:"dialogue"`                // 既有对话框架
	Script       *model.Script       `json:"script,omitempty"`        // 剧本
	TeachingGoal string              `json:"teaching_goal,omitempty"` // 教学目标
	Subject      string              `json:"subject,omitempty"`       // 学科
	Grade        string              `json:"grade,omitempty"`         // 年级
	TierPolicy   string              `json:"tier_policy,omitempty"`   // two_tier或three_tier
}

// DialogueToolResp 对话生成响应
type DialogueToolResp struct {
	Dialogue string `json:"dialogue"` // 生成的完整对话文本
}

// NewDialogueTool 创建对话生成工具实例
func NewDialogueTool(gen *generator.DialogueGenerator) *DialogueTool {
	return &DialogueTool{gen: gen}
}

// Info 获取对话生成工具信息
func (t *DialogueTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"scene_name":    {Type: schema.String, Required: true, Desc: "场景名称"},
		"characters":    {Type: schema.Object, Required: true, Desc: "人物档案，包含主角和NPC"},
		"dialogue":      {Type: schema.Object, Required: true, Desc: "既有对话框架"},
		"script":        {Type: schema.Object, Required: false, Desc: "剧本"},
		"teaching_goal": {Type: schema.String, Required: false, Desc: "教学目标"},
		"subject":       {Type: schema.String, Required: false, Desc: "学科"},
		"grade":         {Type: schema.String, Required: false, Desc: "年级"},
		"tier_policy":   {Type: schema.String, Required: false, Desc: "反馈层级策略：two_tier或three_tier"},
	}
	return &schema.ToolInfo{
		Name:        "dialogue_generate",
		Desc:        "为教育RPG场景生成8-15轮对话和一个嵌入式考核环节",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行对话生成任务
func (t *DialogueTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args DialogueToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}

	tierPolicy := generator.TierPolicy(args.TierPolicy)
	if tierPolicy == "" {
		tierPolicy = generator.ThreeTier
	}

	text, err := t.gen.Generate(ctx, generator.DialogueInput{
		SceneName:  args.SceneName,
		Characters: args.Characters,
		Seed:       args.Dialogue,
		Script:     args.Script,
		Options: generator.DialogueOptions{
			TeachingGoal: args.TeachingGoal,
			Subject:      args.Subject,
			Grade:        args.Grade,
			TierPolicy:   tierPolicy,
		},
	})
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(DialogueToolResp{Dialogue: text})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保DialogueTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*DialogueTool)(nil)
