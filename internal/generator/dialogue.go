package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"eduquest/internal/apperr"
	"eduquest/internal/llm"
	"eduquest/internal/model"
)

// TierPolicy 考核反馈的层级策略
type TierPolicy string

const (
	// TwoTier 正确/错误两档反馈
	TwoTier TierPolicy = "two_tier"
	// ThreeTier 完全正确/部分正确/完全错误三档反馈，带叙事后果
	ThreeTier TierPolicy = "three_tier"
)

// DialogueOptions 生成配置：教学目标、学科、年级与反馈层级策略。
// 历史上的三个生成端点（基础版、分镜版、多档考核版）统一收敛到这里。
type DialogueOptions struct {
	TeachingGoal string
	Subject      string
	Grade        string
	TierPolicy   TierPolicy
}

// DialogueInput 单个场景的对话生成输入
type DialogueInput struct {
	SceneName  string
	Characters *model.CharacterSet
	Seed       *model.DialogueSeed
	Script     *model.Script
	Options    DialogueOptions
}

// DialogueGenerator 场景对话生成器。输出是整段文本，
// 不解析、不校验生成内容的结构，格式规则只约束提示词本身。
type DialogueGenerator struct {
	chat  llm.TextGenerator
	model string
}

func NewDialogueGenerator(chat llm.TextGenerator, model string) *DialogueGenerator {
	return &DialogueGenerator{chat: chat, model: model}
}

// Generate 生成8-15轮对话外加一个嵌入式考核环节
func (g *DialogueGenerator) Generate(ctx context.Context, in DialogueInput) (string, error) {
	if in.SceneName == "" {
		return "", fmt.Errorf("%w: 场景名称缺失", apperr.ErrInputValidation)
	}
	if in.Characters == nil {
		return "", fmt.Errorf("%w: 人物档案缺失", apperr.ErrInputValidation)
	}
	if in.Seed == nil {
		return "", fmt.Errorf("%w: 对话框架缺失", apperr.ErrInputValidation)
	}

	prompt := buildDialoguePrompt(in)

	text, err := g.chat.ChatText(ctx, llm.ChatParams{
		Model:       g.model,
		Prompt:      prompt,
		Temperature: 0.7,
		MaxTokens:   1500,
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func buildDialoguePrompt(in DialogueInput) string {
	protagonist := "主角"
	npc := "NPC"
	if in.Characters.Protagonist != nil && in.Characters.Protagonist.Name != "" {
		protagonist = in.Characters.Protagonist.Name
	}
	if in.Characters.NPC != nil && in.Characters.NPC.Name != "" {
		npc = in.Characters.NPC.Name
	}

	var b strings.Builder
	b.WriteString("基于以下信息，生成8-15轮完整对话：\n\n")
	fmt.Fprintf(&b, "场景：%s\n", in.SceneName)
	fmt.Fprintf(&b, "角色：%s 和 %s\n", protagonist, npc)
	if in.Options.Subject != "" {
		fmt.Fprintf(&b, "学科：%s", in.Options.Subject)
		if in.Options.Grade != "" {
			fmt.Fprintf(&b, "（%s年级）", in.Options.Grade)
		}
		b.WriteString("\n")
	}
	if in.Options.TeachingGoal != "" {
		fmt.Fprintf(&b, "教学目标：%s\n", in.Options.TeachingGoal)
	}

	b.WriteString("\n现有对话框架：\n")
	fmt.Fprintf(&b, "开场对话示例：%s\n", marshalSeed(in.Seed.Opening))
	fmt.Fprintf(&b, "学习对话示例：%s\n", marshalSeed(in.Seed.Learning))
	fmt.Fprintf(&b, "问答环节：%s\n", rawOrEmpty(in.Seed.QA))

	if in.Script != nil {
		b.WriteString("\n剧本背景：\n")
		fmt.Fprintf(&b, "旁白：%s\n", in.Script.Narration)
		fmt.Fprintf(&b, "情节描述：%s\n", in.Script.Plot)
		fmt.Fprintf(&b, "互动设计：%s\n", in.Script.Interaction)
	}

	b.WriteString(`
请按以下格式输出完整多轮对话：
NPC: [对话内容]
玩家: [对话内容]
NPC: [对话内容]
玩家: [对话内容]
...

对话末尾必须包含一个考核环节，先描述主角面临的困境或难关，
再从以下互动类型中选择最契合教学目标的一种：
选择题 / 填空题 / 操作模拟题 / 开放对话题

考核环节需要包含：
困境描述：[主角当前面临的难关]
考核类型：[所选互动类型]
题目：[题面，作答形式与互动类型匹配]
选项设置：[选择题给出选项；填空题给出填空句；操作题给出操作说明；开放题给出引导问题]
正确答案：[答案]
`)

	if in.Options.TierPolicy == ThreeTier {
		b.WriteString(`反馈机制按三档设计，每档要有不同的叙事后果：
完全正确：[即时结果 + NPC反应 + 剧情奖励 + 环境或关系的积极变化]
部分正确：[部分结果 + 补充提示 + 鼓励语]
完全错误：[安全的失败处理 + 学习线索 + 重试引导]
`)
	} else {
		b.WriteString(`正确反馈：[鼓励性回应]
错误反馈：[引导性回应]
`)
	}

	b.WriteString(`
要求：
- 8-15轮对话
- 符合教育场景
- 自然流畅
- 包含知识点
`)
	return b.String()
}

func marshalSeed(lines []model.SeedLine) string {
	if len(lines) == 0 {
		return "[]"
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
