package model

import (
	"bytes"
	"encoding/json"
)

// Requirement 需求记录：不透明ID + 任意结构化内容，创建后不可变
type Requirement struct {
	RequirementID string          `json:"requirement_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Story 故事结构：一次需求生成一个故事，创建后只读
type Story struct {
	StoryID          string          `json:"story_id"`
	StoryTitle       string          `json:"story_title"`
	Subject          string          `json:"subject,omitempty"` // 学科
	Grade            string          `json:"grade,omitempty"`   // 年级
	AnalysisReport   string          `json:"analysis_report,omitempty"`
	StoryFramework   string          `json:"story_framework,omitempty"`
	AssessmentReport json.RawMessage `json:"education_assessment_report,omitempty"`
	Storyboards      []*Storyboard   `json:"storyboards"`
}

// Storyboard 分镜节点：stage_id 在故事内唯一，stage_index 决定装配顺序
type Storyboard struct {
	StageIndex int            `json:"stage_index"`
	StageName  string         `json:"stage_name"`
	StageID    string         `json:"stage_id"`
	Board      StoryboardData `json:"storyboard"`

	TeachingGoal string `json:"teachingGoal,omitempty"` // 教学目标

	// 上游预生成内容，存在时装配阶段不再重复生成
	GeneratedImageURL string `json:"generated_image_url,omitempty"`
	GeneratedDialogue string `json:"generated_dialogue,omitempty"`
}

// StoryboardData 分镜内容，所有内容字段均可缺省，缺省只跳过对应生成步骤
type StoryboardData struct {
	SceneInfo   SceneInfo     `json:"分镜基础信息"`
	Characters  *CharacterSet `json:"人物档案,omitempty"`
	Dialogue    *DialogueSeed `json:"人物对话,omitempty"`
	Script      *Script       `json:"剧本,omitempty"`
	ImagePrompt *VisualPrompt `json:"图片提示词,omitempty"`
}

// SceneInfo 分镜基础信息
type SceneInfo struct {
	SceneNumber string `json:"分镜编号"`
	SceneType   string `json:"场景类型"`
	Duration    string `json:"时长估计"`
	KeyEvent    string `json:"关键事件"`
}

// CharacterProfile 角色档案
type CharacterProfile struct {
	Name         string `json:"角色名"`
	Appearance   string `json:"外貌"`
	Personality  string `json:"性格"`
	State        string `json:"当前状态,omitempty"`
	Role         string `json:"作用,omitempty"`
	Relationship string `json:"与主角关系,omitempty"`
}

// CharacterSet 主角 + NPC
type CharacterSet struct {
	Protagonist *CharacterProfile `json:"主角,omitempty"`
	NPC         *CharacterProfile `json:"NPC,omitempty"`
}

// Script 剧本三要素
type Script struct {
	Narration   string `json:"旁白"`
	Plot        string `json:"情节描述"`
	Interaction string `json:"互动设计"`
}

// DialogueTurn 编号对话轮次（数组形态的人物对话）
type DialogueTurn struct {
	Round       int    `json:"轮次,omitempty"`
	NPC         string `json:"NPC,omitempty"`
	Protagonist string `json:"主角,omitempty"`
}

// SeedLine 角色+内容形态的示例台词
type SeedLine struct {
	Role    string `json:"角色"`
	Content string `json:"内容"`
}

// DialogueSeed 既有示例对话。线上数据有两种形态：
// 编号轮次数组，或带开场/学习/问答分组的对象（场景转换也挂在这里）。
// 两种形态都要能解析，缺字段不算错误。
type DialogueSeed struct {
	Turns       []DialogueTurn    `json:"-"`
	Opening     []SeedLine        `json:"开场对话,omitempty"`
	Learning    []SeedLine        `json:"学习对话,omitempty"`
	QA          json.RawMessage   `json:"问答环节,omitempty"`
	Puzzle      json.RawMessage   `json:"互动解谜环节,omitempty"`
	Transitions map[string]string `json:"场景转换,omitempty"`
}

type dialogueSeedObject DialogueSeed

func (d *DialogueSeed) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &d.Turns)
	}
	var obj dialogueSeedObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*d = DialogueSeed(obj)
	return nil
}

func (d DialogueSeed) MarshalJSON() ([]byte, error) {
	if len(d.Turns) > 0 {
		return json.Marshal(d.Turns)
	}
	return json.Marshal(dialogueSeedObject(d))
}

// NumberedTurns 过滤出有轮次编号且至少有一方台词的对话
func (d *DialogueSeed) NumberedTurns() []DialogueTurn {
	var out []DialogueTurn
	for _, t := range d.Turns {
		if t.Round > 0 && (t.NPC != "" || t.Protagonist != "") {
			out = append(out, t)
		}
	}
	return out
}

// VisualPrompt 图片提示词。线上数据有两种形态：扁平字符串，或结构化对象。
type VisualPrompt struct {
	Raw         string `json:"-"`
	Style       string `json:"视觉风格,omitempty"`
	Scene       string `json:"场景描述,omitempty"`
	Characters  string `json:"角色描述,omitempty"`
	Composition string `json:"构图要求,omitempty"`
	Technical   string `json:"技术参数,omitempty"`
}

type visualPromptObject VisualPrompt

func (p *VisualPrompt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &p.Raw)
	}
	var obj visualPromptObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*p = VisualPrompt(obj)
	return nil
}

func (p VisualPrompt) MarshalJSON() ([]byte, error) {
	if p.Raw != "" {
		return json.Marshal(p.Raw)
	}
	return json.Marshal(visualPromptObject(p))
}

// IsEmpty 判断提示词是否完全为空
func (p *VisualPrompt) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Raw == "" && p.Style == "" && p.Scene == "" &&
		p.Characters == "" && p.Composition == "" && p.Technical == ""
}

// StepStatus 单步生成结果
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// GenerationStatus 每个分镜三个独立步骤的结果记录
type GenerationStatus struct {
	Dialogue StepStatus `json:"dialogue"`
	Image    StepStatus `json:"image"`
	Music    StepStatus `json:"music"`
}
