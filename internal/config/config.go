package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// legacyEnv maps configuration keys to the environment variable names the
// exporter has always been deployed with.
var legacyEnv = map[string]string{
	"linxo.email":           "LINXO_EMAIL",
	"linxo.password":        "LINXO_PASSWORD",
	"server.api_key":        "API_KEY",
	"gmail.token_json":      "GMAIL_TOKEN_JSON",
	"server.host":           "HOST",
	"server.port":           "PORT",
	"delivery.webhook.url":  "WEBHOOK_URL",
	"storage.artifact_path": "ARTIFACT_PATH",
}

// New creates a new configuration instance
func New() (*Config, error) {
	// A missing .env file is the normal case in production
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/linxo-exporter/")
	v.AddConfigPath("$HOME/.linxo-exporter")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("LINXO_EXPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromFile creates a configuration instance from an explicit config file path
func NewFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := NewEmptyViper()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("LINXO_EXPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "LINXO_EXPORTER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}
	return nil
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Portal defaults
	v.SetDefault("linxo.email", "")
	v.SetDefault("linxo.password", "")
	v.SetDefault("linxo.login_url", "https://web.linxo.com")
	v.SetDefault("linxo.history_url", "https://web.linxo.com/historique")
	v.SetDefault("linxo.challenge_url_markers", []string{"auth.linxo.com", "/auth/", "/login"})
	v.SetDefault("linxo.success_url_patterns", []string{"/dashboard"})
	v.SetDefault("linxo.authenticated_url_patterns", []string{"/dashboard", "/historique", "/accounts", "/budget", "/secured"})

	// Automaton timings
	v.SetDefault("automation.email_timeout", "10s")
	v.SetDefault("automation.continue_timeout", "5s")
	v.SetDefault("automation.password_timeout", "20s")
	v.SetDefault("automation.settle_delay", "3s")
	v.SetDefault("automation.code_deadline", "60s")
	v.SetDefault("automation.code_input_timeout", "10s")
	v.SetDefault("automation.code_length", 6)
	v.SetDefault("automation.validation_timeout", "45s")
	v.SetDefault("automation.error_probe_timeout", "2s")
	v.SetDefault("automation.navigation_timeout", "30s")
	v.SetDefault("automation.network_idle_timeout", "15s")
	v.SetDefault("automation.export_probe_timeout", "10s")
	v.SetDefault("automation.optional_probe_timeout", "3s")
	v.SetDefault("automation.download_timeout", "30s")
	v.SetDefault("automation.export_format", "csv")
	v.SetDefault("automation.diagnostics_timeout", "10s")

	// Selector candidate lists, tried in order
	v.SetDefault("selectors.email", []string{
		`input[type="email"]`,
		`input[name="email"]`,
		`input[name="username"]`,
		`input[autocomplete="username"]`,
		`input[id*="email"]`,
	})
	v.SetDefault("selectors.continue", []string{
		`button[type="submit"]`,
		`xpath=//button[contains(., 'Continuer')]`,
		`xpath=//button[contains(., 'Continue')]`,
		`input[type="submit"]`,
	})
	v.SetDefault("selectors.password", []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input[autocomplete="current-password"]`,
	})
	v.SetDefault("selectors.login", []string{
		`button[type="submit"]`,
		`xpath=//button[contains(., 'connecter')]`,
		`xpath=//button[contains(., 'Connexion')]`,
		`input[type="submit"]`,
	})
	v.SetDefault("selectors.code_bank", `input[maxlength="1"]`)
	v.SetDefault("selectors.code_single", []string{
		`input[autocomplete="one-time-code"]`,
		`input[name="code"]`,
		`input[name="otp"]`,
		`input[inputmode="numeric"]`,
		`input[type="tel"]`,
	})
	v.SetDefault("selectors.code_submit", []string{
		`button[type="submit"]`,
		`xpath=//button[contains(., 'Valider')]`,
		`xpath=//button[contains(., 'Vérifier')]`,
		`input[type="submit"]`,
	})
	v.SetDefault("selectors.inline_error", []string{
		`[role="alert"]`,
		`.error-message`,
		`.MuiAlert-message`,
		`.form-error`,
	})
	v.SetDefault("selectors.export", []string{
		`button[aria-label*="xport"]`,
		`xpath=//button[contains(., 'Exporter')]`,
		`xpath=//a[contains(., 'Exporter')]`,
		`.export-button`,
		`.MuiButtonBase-root.MuiIconButton-root`,
	})
	v.SetDefault("selectors.export_format", []string{`.format-select`, `select[name="format"]`})
	v.SetDefault("selectors.export_confirm", []string{
		`.download-btn`,
		`xpath=//button[contains(., 'Télécharger')]`,
	})

	// Browser defaults
	v.SetDefault("browser.driver", "rod")
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.accept_language", "fr-FR,fr;q=0.9,en;q=0.8")
	v.SetDefault("browser.diagnostics_dir", "/data/diagnostics")

	// Mailbox defaults
	v.SetDefault("mailbox.type", "gmail")
	v.SetDefault("mailbox.sender_domain", "linxo.com")
	v.SetDefault("mailbox.subject", "code de vérification")
	v.SetDefault("mailbox.recency_window", "1h")
	v.SetDefault("mailbox.poll_interval", "5s")
	v.SetDefault("mailbox.max_results", 10)

	// Gmail defaults
	v.SetDefault("gmail.user_id", "me")
	v.SetDefault("gmail.token_json", "")
	v.SetDefault("gmail.token_file", "token.json")
	v.SetDefault("gmail.service_account_json", "")
	v.SetDefault("gmail.impersonate", "")

	// IMAP defaults
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.use_tls", true)
	v.SetDefault("imap.mailbox", "INBOX")

	// Delivery defaults
	v.SetDefault("delivery.type", "webhook")
	v.SetDefault("delivery.webhook.url", "")
	v.SetDefault("delivery.webhook.secret_header", "X-Webhook-Secret")
	v.SetDefault("delivery.webhook.secret", "")
	v.SetDefault("delivery.webhook.timeout", "30s")
	v.SetDefault("delivery.webhook.retry_max", 3)
	v.SetDefault("delivery.smtp.address", "localhost")
	v.SetDefault("delivery.smtp.port", 587)
	v.SetDefault("delivery.smtp.username", "")
	v.SetDefault("delivery.smtp.password", "")
	v.SetDefault("delivery.smtp.from", "")
	v.SetDefault("delivery.smtp.to", []string{})
	v.SetDefault("delivery.smtp.subject", "Linxo transactions export")
	v.SetDefault("delivery.smtp.attempts", 3)

	// Storage defaults
	v.SetDefault("storage.artifact_path", "/data/linxo_transactions.csv")

	// History defaults
	v.SetDefault("history.type", "memory")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", "720h")
	v.SetDefault("history.cleanup_frequency", "1h")
	v.SetDefault("history.sqlite_path", "/data/export_history.db")
	v.SetDefault("history.mysql_dsn", "user:password@tcp(localhost:3306)/linxo_exporter?parseTime=true")

	// Server defaults
	v.SetDefault("server.type", "http")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.api_key_header", "X-API-Key")
	v.SetDefault("server.request_timeout", "5m")
	v.SetDefault("server.rate_limit", 6)
	v.SetDefault("server.rate_burst", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
