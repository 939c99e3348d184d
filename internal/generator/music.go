package generator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"eduquest/internal/apperr"
	"eduquest/internal/llm"
	"eduquest/internal/model"
)

// MusicAsset 选中的背景音乐素材
type MusicAsset struct {
	Filename    string
	Content     []byte
	ContentType string
}

// MusicSelector 背景音乐选择器。先把视觉提示词转成英文音乐风格描述
// （转换失败走固定模板降级，不算错误），再从本地素材池中选出一个文件：
// 优先让模型从候选文件名里挑，模型答案不在池内就回退到关键词打分。
type MusicSelector struct {
	chat    llm.TextGenerator
	model   string
	poolDir string
}

func NewMusicSelector(chat llm.TextGenerator, model string, poolDir string) *MusicSelector {
	return &MusicSelector{chat: chat, model: model, poolDir: poolDir}
}

// 语义类别 → 关键词表。打分时同时扫描描述词和文件名。
var moodKeywords = map[string][]string{
	"forest":    {"forest", "wood", "tree", "nature", "bird", "leaf"},
	"village":   {"village", "town", "folk", "tavern", "market", "home"},
	"mountain":  {"mountain", "peak", "cliff", "highland", "summit"},
	"battle":    {"battle", "fight", "combat", "war", "boss", "tension"},
	"magic":     {"magic", "mystic", "spell", "arcane", "crystal", "enchant"},
	"map":       {"map", "world", "overworld", "journey", "travel"},
	"peaceful":  {"peaceful", "calm", "gentle", "soft", "quiet", "ambient", "relax"},
	"adventure": {"adventure", "explore", "quest", "hero", "epic", "brave"},
	"mystery":   {"mystery", "dark", "shadow", "secret", "cave", "ruin"},
	"happy":     {"happy", "joy", "cheerful", "sunny", "bright", "play"},
	"sad":       {"sad", "melancholy", "sorrow", "rain", "farewell", "lonely"},
}

// Select 为一个场景选出背景音乐
func (s *MusicSelector) Select(ctx context.Context, prompt *model.VisualPrompt, sceneName string) (*MusicAsset, error) {
	pool, err := s.listPool()
	if err != nil {
		return nil, err
	}

	// 只有一个候选时直接返回，不做描述词合成和打分
	if len(pool) == 1 {
		return s.loadAsset(pool[0])
	}

	descriptor := s.describe(ctx, prompt, sceneName)

	chosen := s.pickWithAI(ctx, descriptor, pool)
	if chosen == "" {
		chosen = pickByKeywords(descriptor, pool)
	}
	return s.loadAsset(chosen)
}

// describe 把视觉提示词转成英文音乐风格描述。
// 服务不可用或返回空内容时走固定模板，这是设计好的降级路径。
func (s *MusicSelector) describe(ctx context.Context, prompt *model.VisualPrompt, sceneName string) string {
	flat := FlattenPrompt(prompt)
	if flat == "" || s.chat == nil {
		return fallbackDescriptor(sceneName)
	}

	var b strings.Builder
	b.WriteString("你是音乐制作专家，擅长把视觉场景描述转换为音乐风格描述。\n")
	fmt.Fprintf(&b, "场景名称：%s\n图片描述：%s\n\n", sceneName, flat)
	b.WriteString(`请将这个视觉场景转换为音乐描述，要求：
1. 适合教育RPG游戏背景音乐
2. 符合场景氛围
3. 适合儿童学习环境，氛围温和而富有吸引力
4. 用英文描述
5. 直接输出音乐描述，不要其他内容`)

	text, err := s.chat.ChatText(ctx, llm.ChatParams{
		Model:       s.model,
		Prompt:      b.String(),
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		logrus.WithField("scene", sceneName).Info("音乐描述词转换不可用，使用固定模板")
		return fallbackDescriptor(sceneName)
	}
	return strings.TrimSpace(text)
}

func fallbackDescriptor(sceneName string) string {
	if sceneName == "" {
		sceneName = "learning adventure"
	}
	return fmt.Sprintf("ambient background music for educational RPG game scene: %s, gentle and engaging atmosphere", sceneName)
}

// pickWithAI 让模型从候选文件名里挑一个。答案必须逐字命中池内文件名，
// 否则视为格式不符，返回空串交给关键词打分兜底。
func (s *MusicSelector) pickWithAI(ctx context.Context, descriptor string, pool []string) string {
	if s.chat == nil {
		return ""
	}

	prompt := fmt.Sprintf(`根据音乐风格描述，从候选文件列表中选出最匹配的一个。
音乐风格描述：%s
候选文件：
%s

只输出一个文件名，必须与候选列表中的某一项完全一致，不要输出其他内容。`,
		descriptor, "- "+strings.Join(pool, "\n- "))

	answer, err := s.chat.ChatText(ctx, llm.ChatParams{
		Model:       s.model,
		Prompt:      prompt,
		Temperature: 0.2,
		MaxTokens:   50,
	})
	if err != nil {
		return ""
	}

	answer = strings.Trim(strings.TrimSpace(answer), `"'`)
	for _, name := range pool {
		if answer == name {
			return name
		}
	}
	logrus.WithField("answer", answer).Warnf("模型选择结果不在素材池内：%v", apperr.ErrMalformedResponse)
	return ""
}

// pickByKeywords 确定性关键词打分。得分最高者胜出，
// 平分取池中靠前的；全零分返回第一个。池在调用前保证非空。
func pickByKeywords(descriptor string, pool []string) string {
	best := pool[0]
	bestScore := -1
	desc := strings.ToLower(descriptor)

	for _, name := range pool {
		score := scoreFilename(desc, strings.ToLower(name))
		if score > bestScore {
			best = name
			bestScore = score
		}
	}
	return best
}

// scoreFilename 对单个文件名累计各类别各关键词的分值：
// 描述词和文件名命中同一关键词 +3；
// 描述词命中关键词且文件名含类别名 +2；
// 仅文件名命中关键词 +1。
func scoreFilename(desc, name string) int {
	score := 0
	for category, keywords := range moodKeywords {
		for _, kw := range keywords {
			descHas := strings.Contains(desc, kw)
			nameHas := strings.Contains(name, kw)
			switch {
			case descHas && nameHas:
				score += 3
			case descHas && strings.Contains(name, category):
				score += 2
			case nameHas:
				score++
			}
		}
	}
	return score
}

// listPool 枚举素材池里的 .mp3/.wav 文件。目录不可读或池为空都算素材缺失。
func (s *MusicSelector) listPool() ([]string, error) {
	entries, err := os.ReadDir(s.poolDir)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取素材目录失败: %v", apperr.ErrAssetNotFound, err)
	}
	var pool []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mp3", ".wav":
			pool = append(pool, e.Name())
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: 素材池为空", apperr.ErrAssetNotFound)
	}
	return pool, nil
}

func (s *MusicSelector) loadAsset(name string) (*MusicAsset, error) {
	content, err := os.ReadFile(filepath.Join(s.poolDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: 读取素材失败: %v", apperr.ErrAssetNotFound, err)
	}
	contentType := "audio/mpeg"
	if strings.EqualFold(filepath.Ext(name), ".wav") {
		contentType = "audio/wav"
	}
	return &MusicAsset{Filename: name, Content: content, ContentType: contentType}, nil
}
