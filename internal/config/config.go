package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config 服务配置。进程启动时解析一次，显式注入到各组件构造函数，
// 组件内部不再读取环境变量。
type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	// OpenAI兼容服务
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	ChatModel     string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	ImageModel    string `env:"IMAGE_MODEL" envDefault:"dall-e-3"`

	// 本地背景音乐素材池
	MusicDir string `env:"MUSIC_DIR" envDefault:"assets/music"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
}

// Load 读取 .env（如果存在）并解析环境变量
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
