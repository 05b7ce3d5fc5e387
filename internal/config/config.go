// Package config handles Steward configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/internal/delivery"
	"github.com/stewardhq/steward/internal/search"
	"github.com/stewardhq/steward/internal/todo"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/steward/config.yaml, /etc/steward/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "steward", "config.yaml"))
	}

	paths = append(paths, "/etc/steward/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Steward configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
	DataDir   string          `yaml:"data_dir"`
	Timezone  string          `yaml:"timezone"` // IANA name
	Assistant AssistantConfig `yaml:"assistant"`
	Models    ModelsConfig    `yaml:"models"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Search    SearchConfig    `yaml:"search"`

	Todoist todo.TodoistConfig `yaml:"todoist"`
	GitHub  todo.GitHubConfig  `yaml:"github"`

	WhatsApp delivery.WhatsAppConfig `yaml:"whatsapp"`
	MQTT     delivery.MQTTConfig     `yaml:"mqtt"`
	Email    delivery.EmailConfig    `yaml:"email"`

	// Notify lists the channels that receive replies produced without an
	// inbound channel (scheduled interactions, check-ins). Empty means
	// every configured channel.
	Notify   []string        `yaml:"notify"`
	Checkins []CheckinConfig `yaml:"checkins"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port the server binds to.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// AssistantConfig shapes the conversation loop and its memory.
type AssistantConfig struct {
	Name string `yaml:"name"`
	// PersonaFile replaces the built-in persona when set.
	PersonaFile      string `yaml:"persona_file"`
	MaxIterations    int    `yaml:"max_iterations"`
	MaxParallelTools int    `yaml:"max_parallel_tools"`
	// HistoryLimit is the number of most recent messages sent as context.
	HistoryLimit int `yaml:"history_limit"`
	// HistoryTokens bounds the history window by token count.
	HistoryTokens int `yaml:"history_tokens"`
	// Memory is "sqlite" (durable, per session) or "local" (process lifetime).
	Memory string `yaml:"memory"`
	// DefaultSession is used for scheduled interactions created outside
	// a conversation and for the ask command.
	DefaultSession string `yaml:"default_session"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// OpenAIConfig defines OpenAI API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearchConfig selects and configures web search providers.
type SearchConfig struct {
	// Primary names the provider tried first: perplexity or searxng.
	Primary    string                  `yaml:"primary"`
	Perplexity search.PerplexityConfig `yaml:"perplexity"`
	SearXNG    search.SearXNGConfig    `yaml:"searxng"`
}

// CheckinConfig is a daily nudge: at the given local time one of
// Messages is picked at random and handled as if the user sent it.
type CheckinConfig struct {
	Name     string   `yaml:"name"`
	At       string   `yaml:"at"` // HH:MM
	Messages []string `yaml:"messages"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Provider names accepted in models.available.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Load reads configuration from a YAML file, expanding ${VAR}
// references, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen:   ListenConfig{Port: 8080},
		DataDir:  "./data",
		Timezone: "America/Sao_Paulo",
		Assistant: AssistantConfig{
			Name:             "James",
			MaxIterations:    10,
			MaxParallelTools: 4,
			HistoryLimit:     20,
			HistoryTokens:    6000,
			Memory:           "sqlite",
			DefaultSession:   "default",
		},
		Models: ModelsConfig{
			Default: "o3-mini",
			Available: []ModelConfig{
				{Name: "o3-mini", Provider: ProviderOpenAI},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values left by a partial YAML file.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	a := &c.Assistant
	if a.Name == "" {
		a.Name = "James"
	}
	if a.MaxIterations <= 0 {
		a.MaxIterations = 10
	}
	if a.MaxParallelTools <= 0 {
		a.MaxParallelTools = 4
	}
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 20
	}
	if a.HistoryTokens <= 0 {
		a.HistoryTokens = 6000
	}
	if a.Memory == "" {
		a.Memory = "sqlite"
	}
	if a.DefaultSession == "" {
		a.DefaultSession = "default"
	}
	if c.Models.Default == "" {
		c.Models.Default = "o3-mini"
	}
	if c.Search.Primary == "" {
		c.Search.Primary = "perplexity"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	switch c.Assistant.Memory {
	case "sqlite", "local":
	default:
		errs = append(errs, fmt.Errorf("assistant.memory must be sqlite or local, got %q", c.Assistant.Memory))
	}

	known := map[string]bool{}
	for i, m := range c.Models.Available {
		switch m.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		default:
			errs = append(errs, fmt.Errorf("models.available[%d] (%s): unknown provider %q", i, m.Name, m.Provider))
		}
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models.available[%d]: name is required", i))
		}
		known[m.Name] = true
	}
	if !known[c.Models.Default] {
		errs = append(errs, fmt.Errorf("models.default %q is not listed in models.available", c.Models.Default))
	}

	switch c.Search.Primary {
	case "perplexity", "searxng":
	default:
		errs = append(errs, fmt.Errorf("search.primary must be perplexity or searxng, got %q", c.Search.Primary))
	}

	for _, ch := range c.Notify {
		switch ch {
		case delivery.ChannelWhatsApp, delivery.ChannelMQTT, delivery.ChannelEmail:
		default:
			errs = append(errs, fmt.Errorf("notify: unknown channel %q", ch))
		}
	}

	seen := map[string]bool{}
	for i, ci := range c.Checkins {
		label := fmt.Sprintf("checkins[%d]", i)
		if ci.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else if seen[ci.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", label, ci.Name))
		}
		seen[ci.Name] = true
		if _, err := time.Parse("15:04", ci.At); err != nil {
			errs = append(errs, fmt.Errorf("%s: at must be HH:MM, got %q", label, ci.At))
		}
		if len(ci.Messages) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one message is required", label))
		}
	}

	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ProviderFor returns the provider configured for model, or "" when
// the model is not listed.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if strings.EqualFold(m.Name, model) {
			return m.Provider
		}
	}
	return ""
}
