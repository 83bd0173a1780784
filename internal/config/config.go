package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	LLMAPIKey   string `env:"LLM_API_KEY,required"`
	LLMBaseURL  string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`

	DefaultModel string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	SystemPrompt string `env:"SYSTEM_PROMPT" envDefault:"You are a helpful assistant."`
	ContextLimit int    `env:"CONTEXT_LIMIT" envDefault:"30"`

	RedisAddr         string `env:"REDIS_ADDR"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	ChatRateMax       int    `env:"CHAT_RATE_MAX" envDefault:"20"`
	ChatRateWindowSec int    `env:"CHAT_RATE_WINDOW_SECONDS" envDefault:"60"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
