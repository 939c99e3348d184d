package assembler

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"eduquest/internal/generator"
	"eduquest/internal/model"
)

// DialogueSource 对话生成步骤
type DialogueSource interface {
	Generate(ctx context.Context, in generator.DialogueInput) (string, error)
}

// ImageSource 图片生成步骤，返回图片URL
type ImageSource interface {
	Generate(ctx context.Context, prompt *model.VisualPrompt) (string, error)
}

// MusicSource 背景音乐选择步骤
type MusicSource interface {
	Select(ctx context.Context, prompt *model.VisualPrompt, sceneName string) (*generator.MusicAsset, error)
}

// BinaryFetcher 远程二进制拉取（图片URL转二进制）
type BinaryFetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Assembler 故事板打包装配器。按 stage_index 升序逐个处理分镜，
// 每个分镜内按 对话 → 剧本/角色序列化 → 图片 → 音乐 的固定顺序执行，
// 单步失败只记入该分镜的状态，不中断后续步骤和其他分镜。
type Assembler struct {
	dialogue DialogueSource
	image    ImageSource
	music    MusicSource
	fetcher  BinaryFetcher

	tierPolicy generator.TierPolicy
}

func New(dialogue DialogueSource, image ImageSource, music MusicSource, fetcher BinaryFetcher, tierPolicy generator.TierPolicy) *Assembler {
	if tierPolicy == "" {
		tierPolicy = generator.ThreeTier
	}
	return &Assembler{
		dialogue:   dialogue,
		image:      image,
		music:      music,
		fetcher:    fetcher,
		tierPolicy: tierPolicy,
	}
}

// sceneFile 分镜内缓冲的一个产物文件
type sceneFile struct {
	Name string
	Data []byte
}

// Assemble 装配整个故事板压缩包，写入w，返回每个分镜的状态表。
// 单步失败全部就地吸收；只有压缩包本身写入失败才返回错误。
// 取消只发生在分镜之间，已缓冲的分镜要么完整提交要么整体放弃。
func (a *Assembler) Assemble(ctx context.Context, story *model.Story, w io.Writer) (map[string]model.GenerationStatus, error) {
	zw := zip.NewWriter(w)
	statuses := make(map[string]model.GenerationStatus)

	if err := a.writeProjectDocs(zw, story); err != nil {
		return statuses, fmt.Errorf("写入项目文档失败: %w", err)
	}

	ordered := make([]*model.Storyboard, len(story.Storyboards))
	copy(ordered, story.Storyboards)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StageIndex < ordered[j].StageIndex
	})

	for _, sb := range ordered {
		select {
		case <-ctx.Done():
			zw.Close()
			return statuses, ctx.Err()
		default:
		}

		files, status := a.assembleScene(ctx, story, sb)

		// 分镜产物缓冲完成后一次性提交
		folder := fmt.Sprintf("scene_%s_%s", sb.StageID, sb.StageName)
		for _, f := range files {
			fw, err := zw.Create(folder + "/" + f.Name)
			if err != nil {
				return statuses, fmt.Errorf("创建压缩包条目失败: %w", err)
			}
			if _, err := fw.Write(f.Data); err != nil {
				return statuses, fmt.Errorf("写入压缩包条目失败: %w", err)
			}
		}
		statuses[sb.StageID] = status
	}

	if err := zw.Close(); err != nil {
		return statuses, fmt.Errorf("关闭压缩包失败: %w", err)
	}
	return statuses, nil
}

// assembleScene 处理单个分镜，产物全部缓冲在内存里
func (a *Assembler) assembleScene(ctx context.Context, story *model.Story, sb *model.Storyboard) ([]sceneFile, model.GenerationStatus) {
	log := logrus.WithFields(logrus.Fields{"stage_id": sb.StageID, "stage_name": sb.StageName})
	status := model.GenerationStatus{
		Dialogue: model.StatusSuccess,
		Image:    model.StatusSuccess,
		Music:    model.StatusSuccess,
	}
	var files []sceneFile

	// 1. 对话生成（已有预生成内容时不再调用）
	dialogueText := sb.GeneratedDialogue
	if dialogueText == "" {
		text, err := a.dialogue.Generate(ctx, generator.DialogueInput{
			SceneName:  sb.StageName,
			Characters: sb.Board.Characters,
			Seed:       sb.Board.Dialogue,
			Script:     sb.Board.Script,
			Options: generator.DialogueOptions{
				TeachingGoal: sb.TeachingGoal,
				Subject:      story.Subject,
				Grade:        story.Grade,
				TierPolicy:   a.tierPolicy,
			},
		})
		if err != nil {
			log.Warnf("对话生成失败: %v", err)
			status.Dialogue = model.StatusFailed
		} else {
			dialogueText = text
		}
	}
	if dialogueText != "" {
		files = append(files, sceneFile{
			Name: "AI生成对话.txt",
			Data: []byte(renderGeneratedDialogue(story, sb.StageName, dialogueText)),
		})
	}

	// 2. 剧本/角色序列化（纯格式化，数据存在就不会失败）
	if sb.Board.Dialogue != nil {
		if turns := sb.Board.Dialogue.NumberedTurns(); len(turns) > 0 {
			files = append(files, sceneFile{
				Name: "对话.txt",
				Data: []byte(renderSeedDialogue(story, sb.StageName, turns)),
			})
		}
	}
	if sb.Board.Script != nil {
		files = append(files, sceneFile{
			Name: "剧本.txt",
			Data: []byte(renderScript(sb)),
		})
	}
	if sb.Board.Characters != nil {
		files = append(files, sceneFile{
			Name: "角色介绍.txt",
			Data: []byte(renderCharacters(sb.StageName, sb.Board.Characters)),
		})
	}

	// 3. 图片（有提示词或预生成URL才执行）
	imageURL := sb.GeneratedImageURL
	if imageURL == "" && !sb.Board.ImagePrompt.IsEmpty() {
		url, err := a.image.Generate(ctx, sb.Board.ImagePrompt)
		if err != nil {
			log.Warnf("图片生成失败: %v", err)
			status.Image = model.StatusFailed
		} else {
			imageURL = url
		}
	}
	if imageURL != "" {
		data, contentType, err := a.fetcher.Download(ctx, imageURL)
		if err != nil {
			// 下载失败时留下原始URL作为诊断占位
			log.Warnf("图片下载失败: %v", err)
			status.Image = model.StatusFailed
			files = append(files, sceneFile{Name: "图片_URL.txt", Data: []byte(imageURL)})
		} else {
			name := "图片.png"
			if strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg") {
				name = "图片.jpg"
			}
			files = append(files, sceneFile{Name: name, Data: data})
		}
	}

	// 4. 背景音乐（有提示词才执行）
	if !sb.Board.ImagePrompt.IsEmpty() {
		asset, err := a.music.Select(ctx, sb.Board.ImagePrompt, sb.StageName)
		if err != nil {
			log.Warnf("背景音乐选择失败: %v", err)
			status.Music = model.StatusFailed
		} else {
			files = append(files, sceneFile{Name: "背景音乐.mp3", Data: asset.Content})
		}
	}

	return files, status
}

// writeProjectDocs 写入项目级文档（都是可选的）
func (a *Assembler) writeProjectDocs(zw *zip.Writer, story *model.Story) error {
	writeDoc := func(name, content string) error {
		fw, err := zw.Create("项目文档/" + name)
		if err != nil {
			return err
		}
		_, err = fw.Write([]byte(content))
		return err
	}

	if story.AnalysisReport != "" {
		content := fmt.Sprintf("RPG教育游戏需求分析报告\n项目标题：%s\n学科：%s (%s年级)\n\n%s\n\n%s",
			story.StoryTitle, subjectOrDefault(story.Subject), gradeOrDefault(story.Grade),
			strings.Repeat("=", 60), story.AnalysisReport)
		if err := writeDoc("需求分析报告.txt", content); err != nil {
			return err
		}
	}
	if story.StoryFramework != "" {
		content := fmt.Sprintf("RPG教育游戏故事框架\n项目标题：%s\n学科：%s (%s年级)\n\n%s\n\n%s",
			story.StoryTitle, subjectOrDefault(story.Subject), gradeOrDefault(story.Grade),
			strings.Repeat("=", 60), story.StoryFramework)
		if err := writeDoc("故事框架设计.txt", content); err != nil {
			return err
		}
	}
	if len(story.AssessmentReport) > 0 {
		if err := writeDoc("教育达成度评估报告.json", string(story.AssessmentReport)); err != nil {
			return err
		}
	}
	return nil
}

func renderGeneratedDialogue(story *model.Story, sceneName, text string) string {
	return fmt.Sprintf("场景：%s\n学科：%s (%s年级)\n\n%s\n\n【AI生成对话】\n%s",
		sceneName, subjectOrDefault(story.Subject), gradeOrDefault(story.Grade),
		strings.Repeat("=", 50), text)
}

func renderSeedDialogue(story *model.Story, sceneName string, turns []model.DialogueTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "场景：%s\n学科：%s (%s年级)\n\n%s\n\n",
		sceneName, subjectOrDefault(story.Subject), gradeOrDefault(story.Grade),
		strings.Repeat("=", 50))
	for _, t := range turns {
		fmt.Fprintf(&b, "【第%d轮对话】\n", t.Round)
		if t.NPC != "" {
			fmt.Fprintf(&b, "NPC：%s\n", t.NPC)
		}
		if t.Protagonist != "" {
			fmt.Fprintf(&b, "主角：%s\n", t.Protagonist)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderScript(sb *model.Storyboard) string {
	info := sb.Board.SceneInfo
	sceneNumber := info.SceneNumber
	if sceneNumber == "" {
		sceneNumber = sb.StageID
	}
	return fmt.Sprintf("场景：%s\n分镜编号：%s\n场景类型：%s\n时长估计：%s\n\n%s\n\n【旁白】\n%s\n\n【情节描述】\n%s\n\n【互动设计】\n%s",
		sb.StageName, sceneNumber,
		orUnknown(info.SceneType), orUnknown(info.Duration),
		strings.Repeat("=", 50),
		sb.Board.Script.Narration, sb.Board.Script.Plot, sb.Board.Script.Interaction)
}

func renderCharacters(sceneName string, chars *model.CharacterSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "场景：%s\n角色介绍\n%s\n\n", sceneName, strings.Repeat("=", 50))

	b.WriteString("【主角】\n")
	writeProfile(&b, chars.Protagonist, false)
	b.WriteString("\n【NPC】\n")
	writeProfile(&b, chars.NPC, true)
	return b.String()
}

func writeProfile(b *strings.Builder, p *model.CharacterProfile, npc bool) {
	if p == nil {
		p = &model.CharacterProfile{}
	}
	fmt.Fprintf(b, "角色名：%s\n", orUnknown(p.Name))
	fmt.Fprintf(b, "外貌：%s\n", orUndescribed(p.Appearance))
	fmt.Fprintf(b, "性格：%s\n", orUndescribed(p.Personality))
	fmt.Fprintf(b, "当前状态：%s\n", orUndescribed(p.State))
	if npc {
		fmt.Fprintf(b, "与主角关系：%s\n", orUndescribed(p.Relationship))
	}
}

func subjectOrDefault(s string) string { return orUnknown(s) }
func gradeOrDefault(s string) string   { return orUnknown(s) }

func orUnknown(s string) string {
	if s == "" {
		return "未知"
	}
	return s
}

func orUndescribed(s string) string {
	if s == "" {
		return "未描述"
	}
	return s
}
