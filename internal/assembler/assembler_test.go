package assembler

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"eduquest/internal/apperr"
	"eduquest/internal/generator"
	"eduquest/internal/model"
)

type fakeDialogue struct {
	failScenes map[string]bool
}

func (f *fakeDialogue) Generate(ctx context.Context, in generator.DialogueInput) (string, error) {
	if f.failScenes[in.SceneName] {
		return "", apperr.ErrUpstreamService
	}
	if in.Characters == nil {
		return "", apperr.ErrInputValidation
	}
	return "NPC: 你好\n玩家: 你好呀", nil
}

type fakeImage struct {
	failPrompts map[string]bool
}

func (f *fakeImage) Generate(ctx context.Context, prompt *model.VisualPrompt) (string, error) {
	flat := generator.FlattenPrompt(prompt)
	if f.failPrompts[flat] {
		return "", apperr.ErrUpstreamService
	}
	return "https://example.com/" + flat + ".png", nil
}

type fakeMusic struct {
	failScenes map[string]bool
}

func (f *fakeMusic) Select(ctx context.Context, prompt *model.VisualPrompt, sceneName string) (*generator.MusicAsset, error) {
	if f.failScenes[sceneName] {
		return nil, apperr.ErrAssetNotFound
	}
	return &generator.MusicAsset{
		Filename:    "forest_ambient.mp3",
		Content:     []byte("fake-mp3"),
		ContentType: "audio/mpeg",
	}, nil
}

type fakeFetcher struct {
	failURLs map[string]bool
}

func (f *fakeFetcher) Download(ctx context.Context, url string) ([]byte, string, error) {
	if f.failURLs[url] {
		return nil, "", apperr.ErrUpstreamService
	}
	return []byte("fake-png"), "image/png", nil
}

func testStory() *model.Story {
	story := &model.Story{
		StoryID:        "s1",
		StoryTitle:     "分数王国历险记",
		Subject:        "数学",
		Grade:          "三",
		AnalysisReport: "需求分析内容",
		StoryFramework: "故事框架内容",
	}
	for i := 1; i <= 3; i++ {
		story.Storyboards = append(story.Storyboards, &model.Storyboard{
			StageIndex: i,
			StageID:    fmt.Sprintf("scene_%d", i),
			StageName:  fmt.Sprintf("关卡%d", i),
			Board: model.StoryboardData{
				SceneInfo: model.SceneInfo{
					SceneNumber: fmt.Sprintf("scene_%d", i),
					SceneType:   "探索场景",
					Duration:    "5分钟",
				},
				Characters: &model.CharacterSet{
					Protagonist: &model.CharacterProfile{Name: "小明", Appearance: "蓝色斗篷"},
					NPC:         &model.CharacterProfile{Name: "向导", Relationship: "伙伴"},
				},
				Dialogue: &model.DialogueSeed{
					Turns: []model.DialogueTurn{
						{Round: 1, NPC: "欢迎", Protagonist: "你好"},
					},
				},
				Script: &model.Script{
					Narration:   "晨雾弥漫",
					Plot:        "寻找碎片",
					Interaction: "解谜",
				},
				ImagePrompt: &model.VisualPrompt{Scene: fmt.Sprintf("场景%d", i)},
			},
		})
	}
	return story
}

func newTestAssembler(dialogue *fakeDialogue, image *fakeImage, music *fakeMusic, fetcher *fakeFetcher) *Assembler {
	return New(dialogue, image, music, fetcher, generator.ThreeTier)
}

func zipEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		rc.Close()
		out[f.Name] = buf.Bytes()
	}
	return out
}

func TestAssemble_AllSuccess(t *testing.T) {
	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})

	var buf bytes.Buffer
	statuses, err := asm.Assemble(context.Background(), testStory(), &buf)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	entries := zipEntries(t, buf.Bytes())

	for _, want := range []string{
		"项目文档/需求分析报告.txt",
		"项目文档/故事框架设计.txt",
		"scene_scene_1_关卡1/AI生成对话.txt",
		"scene_scene_1_关卡1/对话.txt",
		"scene_scene_1_关卡1/剧本.txt",
		"scene_scene_1_关卡1/角色介绍.txt",
		"scene_scene_1_关卡1/图片.png",
		"scene_scene_1_关卡1/背景音乐.mp3",
		"scene_scene_3_关卡3/背景音乐.mp3",
	} {
		if _, ok := entries[want]; !ok {
			t.Errorf("archive missing %s", want)
		}
	}

	for id, st := range statuses {
		if st.Dialogue != model.StatusSuccess || st.Image != model.StatusSuccess || st.Music != model.StatusSuccess {
			t.Errorf("scene %s expected all success, got %+v", id, st)
		}
	}

	report := string(entries["项目文档/需求分析报告.txt"])
	if !strings.Contains(report, "RPG教育游戏需求分析报告") || !strings.Contains(report, "分数王国历险记") {
		t.Errorf("unexpected report header: %q", report)
	}
	dialogue := string(entries["scene_scene_1_关卡1/对话.txt"])
	if !strings.Contains(dialogue, "【第1轮对话】") || !strings.Contains(dialogue, "NPC：欢迎") {
		t.Errorf("unexpected seed dialogue rendering: %q", dialogue)
	}
}

func TestAssemble_SceneTwoImageFailureIsIsolated(t *testing.T) {
	image := &fakeImage{failPrompts: map[string]bool{"Scene: 场景2": true}}
	asm := newTestAssembler(&fakeDialogue{}, image, &fakeMusic{}, &fakeFetcher{})

	var buf bytes.Buffer
	statuses, err := asm.Assemble(context.Background(), testStory(), &buf)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	entries := zipEntries(t, buf.Bytes())

	// 场景1和3的产物完整
	for _, scene := range []string{"scene_scene_1_关卡1", "scene_scene_3_关卡3"} {
		for _, name := range []string{"AI生成对话.txt", "对话.txt", "剧本.txt", "角色介绍.txt", "图片.png", "背景音乐.mp3"} {
			if _, ok := entries[scene+"/"+name]; !ok {
				t.Errorf("archive missing %s/%s", scene, name)
			}
		}
	}

	// 场景2没有图片二进制，其余产物齐全
	if _, ok := entries["scene_scene_2_关卡2/图片.png"]; ok {
		t.Error("scene 2 must not contain an image binary")
	}
	for _, name := range []string{"AI生成对话.txt", "对话.txt", "剧本.txt", "角色介绍.txt", "背景音乐.mp3"} {
		if _, ok := entries["scene_scene_2_关卡2/"+name]; !ok {
			t.Errorf("scene 2 missing %s", name)
		}
	}

	if statuses["scene_2"].Image != model.StatusFailed {
		t.Errorf("scene 2 image should be failed, got %+v", statuses["scene_2"])
	}
	for _, id := range []string{"scene_1", "scene_3"} {
		st := statuses[id]
		if st.Dialogue != model.StatusSuccess || st.Image != model.StatusSuccess || st.Music != model.StatusSuccess {
			t.Errorf("scene %s expected all success, got %+v", id, st)
		}
	}
	if statuses["scene_2"].Dialogue != model.StatusSuccess || statuses["scene_2"].Music != model.StatusSuccess {
		t.Errorf("scene 2 non-image steps should stay success, got %+v", statuses["scene_2"])
	}
}

func TestAssemble_ImageDownloadFailureLeavesURLFallback(t *testing.T) {
	fetcher := &fakeFetcher{failURLs: map[string]bool{"https://example.com/Scene: 场景2.png": true}}
	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, fetcher)

	var buf bytes.Buffer
	statuses, err := asm.Assemble(context.Background(), testStory(), &buf)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	entries := zipEntries(t, buf.Bytes())
	urlFile, ok := entries["scene_scene_2_关卡2/图片_URL.txt"]
	if !ok {
		t.Fatal("expected URL fallback file for scene 2")
	}
	if string(urlFile) != "https://example.com/Scene: 场景2.png" {
		t.Errorf("fallback file should carry the original URL, got %q", urlFile)
	}
	if statuses["scene_2"].Image != model.StatusFailed {
		t.Errorf("scene 2 image should be failed, got %+v", statuses["scene_2"])
	}
}

func TestAssemble_StageIndexOrder(t *testing.T) {
	story := testStory()
	// 打乱切片顺序，装配顺序必须仍按stage_index
	story.Storyboards[0], story.Storyboards[2] = story.Storyboards[2], story.Storyboards[0]

	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})
	var buf bytes.Buffer
	if _, err := asm.Assemble(context.Background(), story, &buf); err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	var sceneOrder []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "scene_") {
			folder := strings.SplitN(f.Name, "/", 2)[0]
			if len(sceneOrder) == 0 || sceneOrder[len(sceneOrder)-1] != folder {
				sceneOrder = append(sceneOrder, folder)
			}
		}
	}
	want := []string{"scene_scene_1_关卡1", "scene_scene_2_关卡2", "scene_scene_3_关卡3"}
	if len(sceneOrder) != len(want) {
		t.Fatalf("expected %d scene folders, got %v", len(want), sceneOrder)
	}
	for i := range want {
		if sceneOrder[i] != want[i] {
			t.Errorf("scene order[%d]: expected %s, got %s", i, want[i], sceneOrder[i])
		}
	}
}

func TestAssemble_MissingContentSkipsSteps(t *testing.T) {
	story := &model.Story{
		StoryID:    "s2",
		StoryTitle: "空内容",
		Storyboards: []*model.Storyboard{
			{
				StageIndex: 1,
				StageID:    "scene_1",
				StageName:  "空场景",
				Board:      model.StoryboardData{},
			},
		},
	}

	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})
	var buf bytes.Buffer
	statuses, err := asm.Assemble(context.Background(), story, &buf)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	entries := zipEntries(t, buf.Bytes())
	// 没有图片提示词：图片和音乐步骤直接跳过
	for name := range entries {
		if strings.Contains(name, "图片") || strings.Contains(name, "背景音乐") {
			t.Errorf("unexpected artifact %s", name)
		}
	}
	// 对话生成因缺少人物档案而失败，被就地吸收
	if statuses["scene_1"].Dialogue != model.StatusFailed {
		t.Errorf("dialogue should fail on missing characters, got %+v", statuses["scene_1"])
	}
	if statuses["scene_1"].Image != model.StatusSuccess || statuses["scene_1"].Music != model.StatusSuccess {
		t.Errorf("skipped steps must not be marked failed, got %+v", statuses["scene_1"])
	}
}

func TestAssemble_PreGeneratedDialogueSkipsGenerator(t *testing.T) {
	story := testStory()
	story.Storyboards[0].GeneratedDialogue = "已有对话内容"

	failing := &fakeDialogue{failScenes: map[string]bool{"关卡1": true}}
	asm := newTestAssembler(failing, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})

	var buf bytes.Buffer
	statuses, err := asm.Assemble(context.Background(), story, &buf)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	entries := zipEntries(t, buf.Bytes())
	dialogue := string(entries["scene_scene_1_关卡1/AI生成对话.txt"])
	if !strings.Contains(dialogue, "已有对话内容") {
		t.Errorf("pre-generated dialogue should be used verbatim, got %q", dialogue)
	}
	if statuses["scene_1"].Dialogue != model.StatusSuccess {
		t.Errorf("pre-supplied dialogue should stay success, got %+v", statuses["scene_1"])
	}
}

func TestAssemble_StructuralIdempotence(t *testing.T) {
	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})

	run := func() ([]string, map[string]model.GenerationStatus) {
		var buf bytes.Buffer
		statuses, err := asm.Assemble(context.Background(), testStory(), &buf)
		if err != nil {
			t.Fatalf("assemble failed: %v", err)
		}
		var names []string
		for name := range zipEntries(t, buf.Bytes()) {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, statuses
	}

	names1, statuses1 := run()
	names2, statuses2 := run()

	if len(names1) != len(names2) {
		t.Fatalf("file sets differ: %v vs %v", names1, names2)
	}
	for i := range names1 {
		if names1[i] != names2[i] {
			t.Errorf("file sets differ at %d: %s vs %s", i, names1[i], names2[i])
		}
	}
	for id, st := range statuses1 {
		if statuses2[id] != st {
			t.Errorf("status for %s differs: %+v vs %+v", id, st, statuses2[id])
		}
	}
}

func TestAssemble_CancelledBetweenScenes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	asm := newTestAssembler(&fakeDialogue{}, &fakeImage{}, &fakeMusic{}, &fakeFetcher{})
	var buf bytes.Buffer
	_, err := asm.Assemble(ctx, testStory(), &buf)
	if err == nil {
		t.Fatal("expected context error")
	}
}
