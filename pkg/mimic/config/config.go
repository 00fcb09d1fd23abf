// Package config defines the configuration surface for the mimic agent and
// loads it from YAML with .env support and OS keyring secret resolution.
package config

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/jholhewres/mimic/pkg/mimic/platform/discord"
)

// Config holds all agent configuration.
type Config struct {
	// Nicknames are names that trigger the agent when they appear in a
	// message (case-insensitive substring match).
	Nicknames []string `yaml:"nicknames"`

	// Discord configures the platform connection.
	Discord discord.Config `yaml:"discord"`

	// API configures the completion backend.
	API APIConfig `yaml:"api"`

	// History configures the conversation window.
	History HistoryConfig `yaml:"history"`

	// Memory configures the vector memory store.
	Memory MemoryConfig `yaml:"memory"`

	// Features toggles optional subsystems.
	Features FeatureConfig `yaml:"features"`

	// Plugins configures the action registry.
	Plugins PluginConfig `yaml:"plugins"`

	// Chances are probabilities of humanlike behaviors.
	Chances ChanceConfig `yaml:"chances"`

	// Delays are humanlike pacing windows.
	Delays DelayConfig `yaml:"delays"`

	// Tasks configures per-kind scheduler queue limits.
	Tasks TaskConfig `yaml:"tasks"`

	// Revive configures the idle-channel revive job.
	Revive ReviveConfig `yaml:"revive"`

	// Blacklist excludes guilds and users entirely.
	Blacklist BlacklistConfig `yaml:"blacklist"`

	// Persona configures how the agent behaves in conversation.
	Persona PersonaConfig `yaml:"persona"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the OpenAI-compatible completion backend.
type APIConfig struct {
	// BaseURL is the API endpoint (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// Key is the API key. Prefer the keyring or MIMIC_API_KEY over
	// putting it here in plaintext.
	Key string `yaml:"key"`

	// Model is the chat model used for conversation turns.
	Model string `yaml:"model"`

	// ClassifierModel is the (usually cheaper) model used for burst
	// classification. Falls back to Model when empty.
	ClassifierModel string `yaml:"classifier_model"`

	// EmbeddingModel is the model used for memory embeddings. Empty
	// disables embeddings; memory search falls back to keyword matching.
	EmbeddingModel string `yaml:"embedding_model"`

	// Temperature is the sampling temperature for chat completions.
	Temperature float64 `yaml:"temperature"`
}

// HistoryConfig configures the assembled conversation window.
type HistoryConfig struct {
	// Length is the maximum number of history entries kept, newest wins.
	Length int `yaml:"length"`

	// GroupLimit is how many consecutive same-author messages may be
	// merged into one history entry.
	GroupLimit int `yaml:"group_limit"`
}

// MemoryConfig configures the vector memory store.
type MemoryConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Limit is how many memories are retrieved per turn.
	Limit int `yaml:"limit"`
}

// FeatureConfig toggles optional subsystems.
type FeatureConfig struct {
	// History enables fetching channel history beyond the trigger burst.
	History bool `yaml:"history"`

	// Users includes the user roster in the prompt.
	Users bool `yaml:"users"`

	// Classify consults the classifier for un-triggered bursts.
	Classify bool `yaml:"classify"`

	// Plugins enables tool calling.
	Plugins bool `yaml:"plugins"`
}

// PluginConfig configures the action registry.
type PluginConfig struct {
	// Blacklist disables plugins by name.
	Blacklist []string `yaml:"blacklist"`
}

// ChanceConfig holds probabilities (0..1) of humanlike behaviors.
type ChanceConfig struct {
	// Typo is the chance of injecting (and then correcting) a typo.
	Typo float64 `yaml:"typo"`

	// Reply is the chance of explicitly reply-linking the first part.
	Reply float64 `yaml:"reply"`
}

// DelayWindow is a min/max range in milliseconds; Pick draws uniformly.
type DelayWindow struct {
	MinMs int `yaml:"min_ms"`
	MaxMs int `yaml:"max_ms"`
}

// Pick returns a random duration within the window.
func (w DelayWindow) Pick() time.Duration {
	spread := w.MaxMs - w.MinMs
	if spread <= 0 {
		return time.Duration(w.MinMs) * time.Millisecond
	}
	return time.Duration(w.MinMs+rand.Intn(spread)) * time.Millisecond
}

// DelayConfig holds the humanlike pacing windows.
type DelayConfig struct {
	// Collector is the debounce window for merging message bursts.
	Collector DelayWindow `yaml:"collector"`

	// Typing is the acknowledge delay before the typing indicator.
	Typing DelayWindow `yaml:"typing"`

	// Sending is the extra jitter on top of the length-proportional
	// composing delay.
	Sending DelayWindow `yaml:"sending"`
}

// TaskConfig holds per-kind scheduler queue limits.
type TaskConfig struct {
	// PingQueue is the max queued reactive chat turns.
	PingQueue int `yaml:"ping_queue"`

	// WorkQueue is the max queued self-directed turns.
	WorkQueue int `yaml:"work_queue"`

	// DeadChatQueue is the max queued revive turns.
	DeadChatQueue int `yaml:"dead_chat_queue"`
}

// ReviveConfig configures the idle-channel revive job.
type ReviveConfig struct {
	// Enabled turns the revive cron on.
	Enabled bool `yaml:"enabled"`

	// Cron is the schedule expression (robfig/cron syntax, e.g. "@hourly").
	Cron string `yaml:"cron"`

	// IdleMinutes is how long a channel must be silent before a revive
	// turn is considered.
	IdleMinutes int `yaml:"idle_minutes"`

	// Channels are the channel IDs eligible for revival.
	Channels []string `yaml:"channels"`
}

// BlacklistConfig excludes guilds and users entirely.
type BlacklistConfig struct {
	Guilds []string `yaml:"guilds"`
	Users  []string `yaml:"users"`
}

// PersonaConfig configures the agent's conversational identity.
type PersonaConfig struct {
	// Tone describes the agent's tone throughout conversations.
	Tone string `yaml:"tone"`

	// Persona describes how the agent acts.
	Persona string `yaml:"persona"`

	// Interests the agent claims to have.
	Interests []string `yaml:"interests"`

	// Dislikes the agent claims to have.
	Dislikes []string `yaml:"dislikes"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults. Loaded YAML overlays
// these values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 1.0,
		},
		History: HistoryConfig{
			Length:     40,
			GroupLimit: 5,
		},
		Memory: MemoryConfig{
			Path:  "./data/memory.db",
			Limit: 4,
		},
		Features: FeatureConfig{
			History:  true,
			Users:    true,
			Classify: true,
			Plugins:  true,
		},
		Chances: ChanceConfig{
			Typo:  0.06,
			Reply: 0.35,
		},
		Delays: DelayConfig{
			Collector: DelayWindow{MinMs: 2500, MaxMs: 5000},
			Typing:    DelayWindow{MinMs: 1000, MaxMs: 2500},
			Sending:   DelayWindow{MinMs: 0, MaxMs: 1500},
		},
		Tasks: TaskConfig{
			PingQueue:     2,
			WorkQueue:     3,
			DeadChatQueue: 1,
		},
		Revive: ReviveConfig{
			Cron:        "@every 30m",
			IdleMinutes: 180,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.History.Length <= 0 {
		return fmt.Errorf("config: history.length must be positive")
	}
	if c.History.GroupLimit < 0 {
		return fmt.Errorf("config: history.group_limit must not be negative")
	}
	if c.Chances.Typo < 0 || c.Chances.Typo > 1 {
		return fmt.Errorf("config: chances.typo must be within 0..1")
	}
	if c.Chances.Reply < 0 || c.Chances.Reply > 1 {
		return fmt.Errorf("config: chances.reply must be within 0..1")
	}
	if c.Revive.Enabled && len(c.Revive.Channels) == 0 {
		return fmt.Errorf("config: revive.channels is required when revive is enabled")
	}
	return nil
}
