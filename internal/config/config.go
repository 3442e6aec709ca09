package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/gregology/llmpostor/internal/game"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	RespondingSeconds  int `env:"RESPONSE_TIME" envDefault:"120"`
	GuessingSeconds    int `env:"GUESS_TIME" envDefault:"60"`
	ResultsSeconds     int `env:"RESULTS_TIME" envDefault:"30"`
	MaxPlayers         int `env:"MAX_PLAYERS" envDefault:"8"`
	MinPlayers         int `env:"MIN_PLAYERS" envDefault:"2"`
	MaxInactiveMinutes int `env:"ROOM_MAX_INACTIVE_MINUTES" envDefault:"60"`

	TickSeconds      int `env:"FLOW_TICK_SECONDS" envDefault:"1"`
	CountdownSeconds int `env:"COUNTDOWN_INTERVAL" envDefault:"10"`
	// Dedup window in milliseconds; automated tests shorten this to ~10ms.
	DedupWindowMS int `env:"DEDUP_WINDOW_MS" envDefault:"1000"`

	PromptsFile string `env:"PROMPTS_FILE" envDefault:"prompts.yml"`

	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"openai"`
	DefaultModel    string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OllamaHost      string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// GameSettings maps the env config onto the engine's settings.
func (c Config) GameSettings() game.Settings {
	return game.Settings{
		RespondingSeconds:  c.RespondingSeconds,
		GuessingSeconds:    c.GuessingSeconds,
		ResultsSeconds:     c.ResultsSeconds,
		MaxPlayers:         c.MaxPlayers,
		MinPlayers:         c.MinPlayers,
		MaxInactiveMinutes: c.MaxInactiveMinutes,
		TickInterval:       time.Duration(c.TickSeconds) * time.Second,
		CountdownInterval:  time.Duration(c.CountdownSeconds) * time.Second,
		DedupWindow:        time.Duration(c.DedupWindowMS) * time.Millisecond,
	}
}
