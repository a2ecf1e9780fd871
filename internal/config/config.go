package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SMARTCHECK"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "smartcheck.db"
	defaultLogLevel      = "info"
	defaultGenAIModel    = "gemini-2.0-flash"
	defaultSpeechLang    = "en-US"
	defaultAutoCheckUser = "auto_check"
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	AuthSigningKey   string
	GoogleClientID   string
	GoogleJWKSURL    string
	GenAIAPIKey      string
	GenAIModel       string
	SpeechAPIKey     string
	SpeechLanguage   string
	DocAIProjectID   string
	DocAILocation    string
	DocAIProcessorID string
	AutoCheckUserID  string
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
	configViper.SetDefault("auth.google_jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("genai.model", defaultGenAIModel)
	configViper.SetDefault("speech.language", defaultSpeechLang)
	configViper.SetDefault("autofill.auto_check_user", defaultAutoCheckUser)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		AuthSigningKey:   configViper.GetString("auth.signing_secret"),
		GoogleClientID:   configViper.GetString("auth.google_client_id"),
		GoogleJWKSURL:    configViper.GetString("auth.google_jwks_url"),
		GenAIAPIKey:      configViper.GetString("genai.api_key"),
		GenAIModel:       configViper.GetString("genai.model"),
		SpeechAPIKey:     configViper.GetString("speech.api_key"),
		SpeechLanguage:   configViper.GetString("speech.language"),
		DocAIProjectID:   configViper.GetString("documentai.project_id"),
		DocAILocation:    configViper.GetString("documentai.location"),
		DocAIProcessorID: configViper.GetString("documentai.processor_id"),
		AutoCheckUserID:  configViper.GetString("autofill.auto_check_user"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("auth.google_client_id is required")
	}
	if strings.TrimSpace(c.AutoCheckUserID) == "" {
		return fmt.Errorf("autofill.auto_check_user is required")
	}
	return nil
}

// DocumentAIConfigured reports whether the document auto-fill dependencies
// are fully specified.
func (c AppConfig) DocumentAIConfigured() bool {
	return strings.TrimSpace(c.DocAIProjectID) != "" &&
		strings.TrimSpace(c.DocAILocation) != "" &&
		strings.TrimSpace(c.DocAIProcessorID) != ""
}
