package generator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"eduquest/internal/apperr"
	"eduquest/internal/llm"
	"eduquest/internal/model"
)

type fakeChat struct {
	calls     int
	responses []string
	err       error
}

func (f *fakeChat) ChatText(ctx context.Context, p llm.ChatParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func makePool(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFFfake-audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestMusicSelector_SingleAssetShortcut(t *testing.T) {
	chat := &fakeChat{responses: []string{"should not be called"}}
	dir := makePool(t, "only_track.mp3")
	sel := NewMusicSelector(chat, "test-model", dir)

	asset, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "forest"}, "森林")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if asset.Filename != "only_track.mp3" {
		t.Errorf("expected only_track.mp3, got %s", asset.Filename)
	}
	if chat.calls != 0 {
		t.Errorf("singleton pool must not invoke the chat service, got %d calls", chat.calls)
	}
}

func TestMusicSelector_EmptyPool(t *testing.T) {
	sel := NewMusicSelector(&fakeChat{}, "test-model", t.TempDir())
	_, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "x"}, "s")
	if !errors.Is(err, apperr.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestMusicSelector_UnreadableDir(t *testing.T) {
	sel := NewMusicSelector(&fakeChat{}, "test-model", filepath.Join(t.TempDir(), "missing"))
	_, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "x"}, "s")
	if !errors.Is(err, apperr.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestMusicSelector_AIPickValidFilename(t *testing.T) {
	// 第一次调用返回描述词，第二次返回池内文件名
	chat := &fakeChat{responses: []string{"calm forest ambience", "forest_ambient.mp3"}}
	dir := makePool(t, "battle_theme.mp3", "forest_ambient.mp3")
	sel := NewMusicSelector(chat, "test-model", dir)

	asset, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "forest"}, "森林")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if asset.Filename != "forest_ambient.mp3" {
		t.Errorf("expected AI pick, got %s", asset.Filename)
	}
}

func TestMusicSelector_HallucinatedFilenameFallsBack(t *testing.T) {
	// 模型编造了池外文件名，必须丢弃并走关键词打分
	chat := &fakeChat{responses: []string{"a misty mountain peak at dawn", "epic_soundtrack.mp3"}}
	dir := makePool(t, "battle_theme.mp3", "forest_ambient.mp3", "mountain_peak.mp3")
	sel := NewMusicSelector(chat, "test-model", dir)

	asset, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "mountain"}, "山峰")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if asset.Filename == "epic_soundtrack.mp3" {
		t.Fatal("hallucinated filename must never be selected")
	}
	if asset.Filename != "mountain_peak.mp3" {
		t.Errorf("expected keyword-scored pick mountain_peak.mp3, got %s", asset.Filename)
	}
}

func TestMusicSelector_ChatUnavailableUsesFallbackDescriptorAndScoring(t *testing.T) {
	chat := &fakeChat{err: errors.New("service down")}
	dir := makePool(t, "battle_theme.mp3", "gentle_ambient.mp3")
	sel := NewMusicSelector(chat, "test-model", dir)

	// 降级描述词包含 "ambient" 和 "gentle"，应命中 gentle_ambient.mp3
	asset, err := sel.Select(context.Background(), &model.VisualPrompt{Raw: "classroom"}, "learning adventure")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if asset.Filename != "gentle_ambient.mp3" {
		t.Errorf("expected gentle_ambient.mp3, got %s", asset.Filename)
	}
}

func TestFallbackDescriptor(t *testing.T) {
	got := fallbackDescriptor("魔法森林")
	want := "ambient background music for educational RPG game scene: 魔法森林, gentle and engaging atmosphere"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if !strings.Contains(fallbackDescriptor(""), "learning adventure") {
		t.Error("empty scene name should default to learning adventure")
	}
}

func TestScoreFilename_ExactKeywordWeighting(t *testing.T) {
	desc := strings.ToLower("a misty mountain peak at dawn")
	withKeyword := scoreFilename(desc, "mountain_peak.mp3")
	without := scoreFilename(desc, "piano_track.mp3")
	if withKeyword < without+3 {
		t.Errorf("shared keyword must add at least 3: with=%d without=%d", withKeyword, without)
	}
}

func TestScoreFilename_CategoryNameMatch(t *testing.T) {
	// 描述词命中关键词(peak)，文件名只含类别名(mountain)，计+2
	desc := "peak of the world"
	score := scoreFilename(desc, "mountain_theme.mp3")
	if score < 2 {
		t.Errorf("category-name match should add 2, got %d", score)
	}
}

func TestScoreFilename_FilenameOnlyMatch(t *testing.T) {
	score := scoreFilename("completely unrelated text", "battle_theme.mp3")
	if score != 1 {
		t.Errorf("filename-only keyword should score 1, got %d", score)
	}
}

func TestPickByKeywords_MountainScenario(t *testing.T) {
	pool := []string{"forest_ambient.mp3", "mountain_peak.mp3", "battle_theme.mp3"}
	got := pickByKeywords("a misty mountain peak at dawn", pool)
	if got != "mountain_peak.mp3" {
		t.Errorf("expected mountain_peak.mp3, got %s", got)
	}
}

func TestPickByKeywords_AllZeroScoresReturnsFirst(t *testing.T) {
	pool := []string{"track_a.mp3", "track_b.mp3"}
	if got := pickByKeywords("xyzzy", pool); got != "track_a.mp3" {
		t.Errorf("expected first asset on zero scores, got %s", got)
	}
}

func TestPickByKeywords_TieResolvesToEnumerationOrder(t *testing.T) {
	// 两个文件得分相同，取池中靠前的
	pool := []string{"forest_a.mp3", "forest_b.mp3"}
	if got := pickByKeywords("deep forest trail", pool); got != "forest_a.mp3" {
		t.Errorf("expected first of tied assets, got %s", got)
	}
}

func TestLoadAsset_ContentType(t *testing.T) {
	dir := makePool(t, "theme.wav", "theme.mp3")
	sel := NewMusicSelector(&fakeChat{}, "test-model", dir)

	wav, err := sel.loadAsset("theme.wav")
	if err != nil {
		t.Fatal(err)
	}
	if wav.ContentType != "audio/wav" {
		t.Errorf("expected audio/wav, got %s", wav.ContentType)
	}

	mp3, err := sel.loadAsset("theme.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if mp3.ContentType != "audio/mpeg" {
		t.Errorf("expected audio/mpeg, got %s", mp3.ContentType)
	}
	if len(mp3.Content) == 0 {
		t.Error("asset content should not be empty")
	}
}

func TestListPool_FiltersNonAudio(t *testing.T) {
	dir := makePool(t, "a.mp3", "b.wav")
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sel := NewMusicSelector(&fakeChat{}, "test-model", dir)
	pool, err := sel.listPool()
	if err != nil {
		t.Fatal(err)
	}
	if len(pool) != 2 {
		t.Errorf("expected 2 audio files, got %v", pool)
	}
}
