package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Messenger MessengerConfig `mapstructure:"messenger"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	StaticDir    string `mapstructure:"static_dir"`
	StaticPrefix string `mapstructure:"static_prefix"`
}

type MessengerConfig struct {
	VerifyToken     string        `mapstructure:"verify_token"`
	PageAccessToken string        `mapstructure:"page_access_token"`
	PageID          string        `mapstructure:"page_id"`
	GraphURL        string        `mapstructure:"graph_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey        string `mapstructure:"api_key"`
	OrgID         string `mapstructure:"org_id"`
	ProjectID     string `mapstructure:"project_id"`
	BaseURL       string `mapstructure:"base_url"`
	AssistantID   string `mapstructure:"assistant_id"`
	VectorStoreID string `mapstructure:"vector_store_id"`
	Model         string `mapstructure:"model"`
}

type WebhookConfig struct {
	// ProcessAllEvents makes the webhook handle every messaging event of an
	// entry instead of only the first one.
	ProcessAllEvents bool `mapstructure:"process_all_events"`
}

// ErrMissingPageAccessToken is returned by Validate when no page token is set.
var ErrMissingPageAccessToken = errors.New("PAGE_ACCESS_TOKEN is not set")

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"server.static_dir":           "STATIC_DIR",
	"messenger.verify_token":      "VERIFY_TOKEN",
	"messenger.page_access_token": "PAGE_ACCESS_TOKEN",
	"messenger.page_id":           "PAGE_ID",
	"messenger.graph_url":         "GRAPH_API_URL",
	"openai.api_key":              "OPENAI_API_KEY",
	"openai.org_id":               "OPENAI_ORG_ID",
	"openai.project_id":           "OPENAI_PROJECT_ID",
	"openai.base_url":             "OPENAI_BASE_URL",
	"openai.assistant_id":         "ASSISTANT_ID",
	"openai.vector_store_id":      "VECTOR_STORE_ID",
	"openai.model":                "OPENAI_MODEL",
}

// LoadConfig reads the optional YAML file at path and applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "images")
	v.SetDefault("server.static_prefix", "/")
	v.SetDefault("messenger.graph_url", "https://graph.facebook.com/v20.0")
	v.SetDefault("messenger.timeout", 30*time.Second)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("webhook.process_all_events", false)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.Messenger.GraphURL = strings.TrimRight(config.Messenger.GraphURL, "/")
	config.OpenAI.BaseURL = strings.TrimRight(config.OpenAI.BaseURL, "/")

	return &config, nil
}

// Validate checks the settings the relay cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Messenger.PageAccessToken) == "" {
		return ErrMissingPageAccessToken
	}
	return nil
}

// ListenAddr is the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}
