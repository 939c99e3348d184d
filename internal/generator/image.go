package generator

import (
	"context"
	"fmt"
	"strings"

	"eduquest/internal/apperr"
	"eduquest/internal/llm"
	"eduquest/internal/model"
)

// 固定风格指令：像素风RPG、干净构图、不出现多余人物
const (
	stylePrefix = "pixel art RPG style, high resolution game art"
	styleSuffix = "no extra people, no background characters, clean composition"
)

// ImageGenerator 场景图片生成器
type ImageGenerator struct {
	synth llm.ImageSynthesizer
}

func NewImageGenerator(synth llm.ImageSynthesizer) *ImageGenerator {
	return &ImageGenerator{synth: synth}
}

// FlattenPrompt 将结构化图片提示词按固定顺序拍平：
// 场景描述、视觉风格、角色描述、构图要求、技术参数。
// 缺省字段直接省略，不留空占位。
func FlattenPrompt(p *model.VisualPrompt) string {
	if p == nil {
		return ""
	}
	if p.Raw != "" {
		return p.Raw
	}
	var parts []string
	if p.Scene != "" {
		parts = append(parts, "Scene: "+p.Scene)
	}
	if p.Style != "" {
		parts = append(parts, "Style: "+p.Style)
	}
	if p.Characters != "" {
		parts = append(parts, "Characters: "+p.Characters)
	}
	if p.Composition != "" {
		parts = append(parts, "Composition: "+p.Composition)
	}
	if p.Technical != "" {
		parts = append(parts, "Technical: "+p.Technical)
	}
	return strings.Join(parts, ", ")
}

// Generate 拍平提示词、加上固定风格指令后请求生成图片，返回图片URL
func (g *ImageGenerator) Generate(ctx context.Context, prompt *model.VisualPrompt) (string, error) {
	full := FlattenPrompt(prompt)
	if full == "" {
		return "", fmt.Errorf("%w: 图片提示词不能为空", apperr.ErrInputValidation)
	}

	styled := fmt.Sprintf("%s, %s, %s", stylePrefix, full, styleSuffix)

	url, err := g.synth.GenerateImage(ctx, styled)
	if err != nil {
		return "", err
	}
	return url, nil
}
