package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
)

type Config struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	MaxConcurrent    int    `json:"max_concurrent"`
	MaxToolRounds    int    `json:"max_tool_rounds"`
	SystemPromptPath string `json:"system_prompt_path,omitempty"`
	LLM              struct {
		Provider         string  `json:"provider"`
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
	} `json:"llm"`
	HTTP struct {
		Listen           string `json:"listen"`
		WebhookRateLimit int    `json:"webhook_rate_limit"`
	} `json:"http"`
	WebSocket struct {
		Outbox    int `json:"outbox"`
		HighWater int `json:"high_water"`
		LowWater  int `json:"low_water"`
	} `json:"websocket"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// DefaultPath returns ~/.agentloom/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".agentloom", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".agentloom"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		MaxToolRounds: 10,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.HTTP.Listen = "127.0.0.1:8484"
	cfg.HTTP.WebhookRateLimit = 30
	cfg.WebSocket.Outbox = 256
	cfg.WebSocket.HighWater = 192
	cfg.WebSocket.LowWater = 64
	return cfg
}

// Load reads the config at path, writing defaults there on first run.
// Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("AGENTLOOM_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a generic nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under a dot-separated key. Keys that
// are not part of Config but present in the file are returned too.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in an existing config file. The value is
// parsed as JSON when possible (numbers, booleans) and kept as a string
// otherwise.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	if _, isObj := parsed.(map[string]any); isObj {
		parsed = value
	}

	flat := Flatten(raw)
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// FormatValue renders a config value for the CLI.
func FormatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
