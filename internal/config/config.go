package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "PARLERA"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "parlera.db"
	defaultLogLevel           = "info"
	defaultLanguages          = "en|pt|es|nl|de|fr"
	defaultGrantRole          = "contributor"
	defaultResetTokenMinutes  = 30
	defaultPaginationPageSize = 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	ResetSigningSecret string
	ResetTokenTTL      time.Duration
	SupportedLanguages []string
	GrantRole          string
	PageSize           int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("languages.supported", defaultLanguages)
	configViper.SetDefault("authorization.grant_role", defaultGrantRole)
	configViper.SetDefault("reset_token.ttl_minutes", defaultResetTokenMinutes)
	configViper.SetDefault("pagination.page_size", defaultPaginationPageSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		ResetSigningSecret: configViper.GetString("reset_token.signing_secret"),
		ResetTokenTTL:      time.Duration(configViper.GetInt("reset_token.ttl_minutes")) * time.Minute,
		SupportedLanguages: ParseLanguages(configViper.GetString("languages.supported")),
		GrantRole:          configViper.GetString("authorization.grant_role"),
		PageSize:           configViper.GetInt("pagination.page_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ParseLanguages splits a pipe-separated language list ("en|pt") into codes.
func ParseLanguages(raw string) []string {
	parts := strings.Split(raw, "|")
	languages := make([]string, 0, len(parts))
	for _, part := range parts {
		code := strings.ToLower(strings.TrimSpace(part))
		if code != "" {
			languages = append(languages, code)
		}
	}
	return languages
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ResetSigningSecret) == "" {
		return fmt.Errorf("reset_token.signing_secret is required")
	}
	if len(c.SupportedLanguages) == 0 {
		return fmt.Errorf("languages.supported must list at least one language")
	}
	if c.GrantRole != "contributor" && c.GrantRole != "admin" {
		return fmt.Errorf("authorization.grant_role must be contributor or admin")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("pagination.page_size must be positive")
	}
	return nil
}
