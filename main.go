package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"eduquest/internal/apperr"
	"eduquest/internal/assembler"
	"eduquest/internal/config"
	"eduquest/internal/fetch"
	"eduquest/internal/generator"
	"eduquest/internal/llm"
	"eduquest/internal/model"
	"eduquest/internal/store"
	"eduquest/internal/tools"
)

func main() {
	// 初始化日志
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	// 初始化OpenAI客户端
	oaClient := llm.NewOpenAIClient(cfg)

	// 初始化Redis客户端（进程启动时显式构造，注入到存储层）
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	recordStore := store.New(rdb)

	// 初始化生成器
	dialogueGen := generator.NewDialogueGenerator(oaClient, cfg.ChatModel)
	imageGen := generator.NewImageGenerator(oaClient)
	musicSel := generator.NewMusicSelector(oaClient, cfg.ChatModel, cfg.MusicDir)
	fetcher := fetch.NewFetcher(cfg.RequestTimeout)

	// 初始化装配器
	asm := assembler.New(dialogueGen, imageGen, musicSel, fetcher, generator.ThreeTier)

	// 初始化工具
	dialogueTool := tools.NewDialogueTool(dialogueGen)
	imageTool := tools.NewImageTool(imageGen)
	musicTool := tools.NewMusicTool(musicSel)

	// 初始化Gin路由
	router := gin.Default()

	// 生成接口
	router.POST("/api/generate-dialogue", handleGenerateDialogue(dialogueGen))
	router.POST("/api/generate-image", handleGenerateImage(imageGen))
	router.POST("/api/generate-music", handleGenerateMusic(musicSel))
	router.POST("/api/download-image", handleDownloadImage(fetcher))
	router.POST("/api/package", handlePackage(asm))

	// 故事记录接口
	router.POST("/api/stories", handleSaveStory(recordStore))
	router.GET("/api/stories/latest", handleLatestStory(recordStore))
	router.GET("/api/stories/:id", handleGetStory(recordStore))
	router.POST("/api/requirements", handleSaveRequirement(recordStore))
	router.GET("/api/requirements/:id", handleGetRequirement(recordStore))

	// 工具接口
	router.POST("/tools/dialogue-generate", handleTool(dialogueTool))
	router.POST("/tools/image-generate", handleTool(imageTool))
	router.POST("/tools/music-select", handleTool(musicTool))

	// 启动服务器
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	// 在goroutine中启动服务器
	go func() {
		logrus.Infof("服务器启动在 %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("关闭服务器...")

	// 优雅关闭服务器
	if err := srv.Close(); err != nil {
		logrus.Fatalf("服务器关闭失败: %v", err)
	}
	if err := rdb.Close(); err != nil {
		logrus.Warnf("关闭Redis连接失败: %v", err)
	}

	logrus.Info("服务器已关闭")
}

// generateStoryID 生成故事ID
func generateStoryID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("story_%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// handleGenerateDialogue 处理对话生成请求
func handleGenerateDialogue(gen *generator.DialogueGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SceneName    string              `json:"sceneName"`
			Characters   *model.CharacterSet `json:"characters"`
			Dialogue     *model.DialogueSeed `json:"dialogue"`
			Script       *model.Script       `json:"script"`
			TeachingGoal string              `json:"teachingGoal"`
			Subject      string              `json:"subject"`
			Grade        string              `json:"grade"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		if req.SceneName == "" || req.Characters == nil || req.Dialogue == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "场景信息不完整"})
			return
		}

		text, err := gen.Generate(c.Request.Context(), generator.DialogueInput{
			SceneName:  req.SceneName,
			Characters: req.Characters,
			Seed:       req.Dialogue,
			Script:     req.Script,
			Options: generator.DialogueOptions{
				TeachingGoal: req.TeachingGoal,
				Subject:      req.Subject,
				Grade:        req.Grade,
				TierPolicy:   generator.ThreeTier,
			},
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("对话生成失败: %v", err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "dialogue": text})
	}
}

// handleGenerateImage 处理图片生成请求
func handleGenerateImage(gen *generator.ImageGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ImagePrompt *model.VisualPrompt `json:"imagePrompt"`
			NodeID      string              `json:"nodeId"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}

		url, err := gen.Generate(c.Request.Context(), req.ImagePrompt)
		if err != nil {
			if errors.Is(err, apperr.ErrInputValidation) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "图片提示词不能为空"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("图片生成失败: %v", err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"imageUrl": url,
			"nodeId":   req.NodeID,
			"prompt":   generator.FlattenPrompt(req.ImagePrompt),
		})
	}
}

// handleGenerateMusic 处理背景音乐选择请求，直接返回音频二进制
func handleGenerateMusic(sel *generator.MusicSelector) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ImagePrompt *model.VisualPrompt `json:"imagePrompt"`
			SceneName   string              `json:"sceneName"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		if req.ImagePrompt.IsEmpty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "场景提示词不能为空"})
			return
		}

		asset, err := sel.Select(c.Request.Context(), req.ImagePrompt, req.SceneName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("音乐选择失败: %v", err)})
			return
		}

		c.Data(http.StatusOK, asset.ContentType, asset.Content)
	}
}

// handleDownloadImage 图片下载代理，绕过CORS限制
func handleDownloadImage(f *fetch.Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ImageURL string `json:"imageUrl"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		if req.ImageURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "图片URL不能为空"})
			return
		}

		data, contentType, err := f.Download(c.Request.Context(), req.ImageURL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("图片下载失败: %v", err)})
			return
		}

		c.Data(http.StatusOK, contentType, data)
	}
}

// handlePackage 装配整个故事板压缩包并作为下载返回
func handlePackage(asm *assembler.Assembler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var story model.Story
		if err := c.ShouldBindJSON(&story); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的故事板数据"})
			return
		}

		title := story.StoryTitle
		if title == "" {
			title = "未命名"
		}

		// 先在内存里装配完，状态头必须在响应体之前发出
		var buf bytes.Buffer
		statuses, err := asm.Assemble(c.Request.Context(), &story, &buf)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("打包失败: %v", err)})
			return
		}

		if statusJSON, err := json.Marshal(statuses); err == nil {
			c.Header("X-Generation-Status", string(statusJSON))
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="故事板_%s.zip"`, title))
		c.Data(http.StatusOK, "application/zip", buf.Bytes())
	}
}

// handleSaveStory 保存故事记录
func handleSaveStory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var story model.Story
		if err := c.ShouldBindJSON(&story); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的故事数据"})
			return
		}
		if story.StoryID == "" {
			story.StoryID = generateStoryID()
		}
		if err := st.SaveStory(c.Request.Context(), &story); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("保存故事失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "story_id": story.StoryID})
	}
}

// handleGetStory 读取故事记录
func handleGetStory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		story, err := st.GetStory(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("读取故事失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, story)
	}
}

// handleLatestStory 读取最近保存的故事
func handleLatestStory(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		story, err := st.LatestStory(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("读取故事失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, story)
	}
}

// handleSaveRequirement 保存需求记录
func handleSaveRequirement(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.Requirement
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的需求数据"})
			return
		}
		if req.RequirementID == "" {
			req.RequirementID = generateStoryID()
		}
		if err := st.SaveRequirement(c.Request.Context(), &req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("保存需求失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "requirement_id": req.RequirementID})
	}
}

// handleGetRequirement 读取需求记录
func handleGetRequirement(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := st.GetRequirement(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("读取需求失败: %v", err)})
			return
		}
		c.JSON(http.StatusOK, req)
	}
}

// handleTool 通用工具调用入口，请求体直接作为工具的JSON参数
func handleTool(t einotool.InvokableTool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}

		result, err := t.InvokableRun(c.Request.Context(), string(body))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("工具调用失败: %v", err)})
			return
		}

		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}
