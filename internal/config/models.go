package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LinxoConfig represents the portal account and its URL layout
type LinxoConfig struct {
	Email                    string `validate:"required,email"`
	Password                 string `validate:"required"`
	LoginURL                 string `validate:"required,url"`
	HistoryURL               string `validate:"required,url"`
	ChallengeURLMarkers      []string
	SuccessURLPatterns       []string `validate:"min=1"`
	AuthenticatedURLPatterns []string
}

// AutomationConfig represents the bounded waits of the login and export automatons
type AutomationConfig struct {
	EmailTimeout         time.Duration
	ContinueTimeout      time.Duration
	PasswordTimeout      time.Duration
	SettleDelay          time.Duration
	CodeDeadline         time.Duration
	CodeInputTimeout     time.Duration
	CodeLength           int
	ValidationTimeout    time.Duration
	ErrorProbeTimeout    time.Duration
	NavigationTimeout    time.Duration
	NetworkIdleTimeout   time.Duration
	ExportProbeTimeout   time.Duration
	OptionalProbeTimeout time.Duration
	DownloadTimeout      time.Duration
	ExportFormat         string
	DiagnosticsTimeout   time.Duration
}

// SelectorsConfig represents the ordered locator lists for every UI target
type SelectorsConfig struct {
	Email         []string
	Continue      []string
	Password      []string
	Login         []string
	CodeBank      string
	CodeSingle    []string
	CodeSubmit    []string
	InlineError   []string
	Export        []string
	ExportFormat  []string
	ExportConfirm []string
}

// BrowserConfig represents the browser driver configuration
type BrowserConfig struct {
	Driver         string
	Bin            string
	Headless       bool
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	AcceptLanguage string
	DiagnosticsDir string
}

// MailboxConfig represents the OTP mailbox query
type MailboxConfig struct {
	Type          string
	SenderDomain  string
	Subject       string
	RecencyWindow time.Duration
	PollInterval  time.Duration
	MaxResults    int
}

// GmailConfig represents the Gmail API credentials
type GmailConfig struct {
	UserID             string
	TokenJSON          string
	TokenFile          string
	ServiceAccountJSON string
	Impersonate        string
}

// IMAPConfig represents the IMAP mailbox credentials
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Mailbox  string
}

// DeliveryConfig selects the delivery channel
type DeliveryConfig struct {
	Type string `validate:"oneof=webhook smtp none"`
}

// StorageConfig represents the local artifact persistence
type StorageConfig struct {
	ArtifactPath string `validate:"required"`
}

// WebhookConfig represents the webhook delivery target
type WebhookConfig struct {
	URL          string
	SecretHeader string
	Secret       string
	Timeout      time.Duration
	RetryMax     int
}

// SMTPConfig represents the SMTP delivery target
type SMTPConfig struct {
	Address  string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	Attempts int
}

// HistoryConfig represents the run history repository
type HistoryConfig struct {
	Type             string
	Enabled          bool
	Retention        time.Duration
	CleanupFrequency time.Duration
	SQLitePath       string
	MySQLDSN         string
}

// ServerConfig represents the inbound HTTP surface
type ServerConfig struct {
	Type           string
	Host           string
	Port           int
	APIKey         string
	APIKeyHeader   string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// GetLinxo returns the portal configuration
func (c *Config) GetLinxo() LinxoConfig {
	return LinxoConfig{
		Email:                    strings.TrimSpace(c.GetString("linxo.email")),
		Password:                 c.GetString("linxo.password"),
		LoginURL:                 c.GetString("linxo.login_url"),
		HistoryURL:               c.GetString("linxo.history_url"),
		ChallengeURLMarkers:      c.GetStringSlice("linxo.challenge_url_markers"),
		SuccessURLPatterns:       c.GetStringSlice("linxo.success_url_patterns"),
		AuthenticatedURLPatterns: c.GetStringSlice("linxo.authenticated_url_patterns"),
	}
}

// Validate checks that the portal credentials and URLs are usable
func (l LinxoConfig) Validate() error {
	if err := validate.Struct(l); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("linxo.%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("invalid portal configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid portal configuration: %w", err)
	}
	return nil
}

// GetAutomation returns the automaton timing configuration
func (c *Config) GetAutomation() (AutomationConfig, error) {
	var (
		a   AutomationConfig
		err error
	)
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"automation.email_timeout", &a.EmailTimeout},
		{"automation.continue_timeout", &a.ContinueTimeout},
		{"automation.password_timeout", &a.PasswordTimeout},
		{"automation.settle_delay", &a.SettleDelay},
		{"automation.code_deadline", &a.CodeDeadline},
		{"automation.code_input_timeout", &a.CodeInputTimeout},
		{"automation.validation_timeout", &a.ValidationTimeout},
		{"automation.error_probe_timeout", &a.ErrorProbeTimeout},
		{"automation.navigation_timeout", &a.NavigationTimeout},
		{"automation.network_idle_timeout", &a.NetworkIdleTimeout},
		{"automation.export_probe_timeout", &a.ExportProbeTimeout},
		{"automation.optional_probe_timeout", &a.OptionalProbeTimeout},
		{"automation.download_timeout", &a.DownloadTimeout},
		{"automation.diagnostics_timeout", &a.DiagnosticsTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = c.GetDuration(d.key); err != nil {
			return AutomationConfig{}, err
		}
	}
	a.CodeLength = c.GetInt("automation.code_length")
	if a.CodeLength <= 0 {
		return AutomationConfig{}, fmt.Errorf("automation.code_length must be a positive integer")
	}
	a.ExportFormat = c.GetString("automation.export_format")
	return a, nil
}

// GetSelectors returns the selector candidate lists
func (c *Config) GetSelectors() SelectorsConfig {
	return SelectorsConfig{
		Email:         c.GetStringSlice("selectors.email"),
		Continue:      c.GetStringSlice("selectors.continue"),
		Password:      c.GetStringSlice("selectors.password"),
		Login:         c.GetStringSlice("selectors.login"),
		CodeBank:      c.GetString("selectors.code_bank"),
		CodeSingle:    c.GetStringSlice("selectors.code_single"),
		CodeSubmit:    c.GetStringSlice("selectors.code_submit"),
		InlineError:   c.GetStringSlice("selectors.inline_error"),
		Export:        c.GetStringSlice("selectors.export"),
		ExportFormat:  c.GetStringSlice("selectors.export_format"),
		ExportConfirm: c.GetStringSlice("selectors.export_confirm"),
	}
}

// GetBrowser returns the browser configuration
func (c *Config) GetBrowser() BrowserConfig {
	return BrowserConfig{
		Driver:         c.GetString("browser.driver"),
		Bin:            c.GetString("browser.bin"),
		Headless:       c.GetBool("browser.headless"),
		NoSandbox:      c.GetBool("browser.no_sandbox"),
		ViewportWidth:  c.GetInt("browser.viewport_width"),
		ViewportHeight: c.GetInt("browser.viewport_height"),
		UserAgent:      c.GetString("browser.user_agent"),
		AcceptLanguage: c.GetString("browser.accept_language"),
		DiagnosticsDir: c.GetString("browser.diagnostics_dir"),
	}
}

// GetMailbox returns the mailbox query configuration
func (c *Config) GetMailbox() (MailboxConfig, error) {
	window, err := c.GetDuration("mailbox.recency_window")
	if err != nil {
		return MailboxConfig{}, err
	}
	interval, err := c.GetDuration("mailbox.poll_interval")
	if err != nil {
		return MailboxConfig{}, err
	}
	return MailboxConfig{
		Type:          c.GetString("mailbox.type"),
		SenderDomain:  c.GetString("mailbox.sender_domain"),
		Subject:       c.GetString("mailbox.subject"),
		RecencyWindow: window,
		PollInterval:  interval,
		MaxResults:    c.GetInt("mailbox.max_results"),
	}, nil
}

// GetGmail returns the Gmail configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		UserID:             c.GetString("gmail.user_id"),
		TokenJSON:          c.GetString("gmail.token_json"),
		TokenFile:          c.GetString("gmail.token_file"),
		ServiceAccountJSON: c.GetString("gmail.service_account_json"),
		Impersonate:        c.GetString("gmail.impersonate"),
	}
}

// GetIMAP returns the IMAP configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Host:     c.GetString("imap.host"),
		Port:     c.GetInt("imap.port"),
		Username: c.GetString("imap.username"),
		Password: c.GetString("imap.password"),
		UseTLS:   c.GetBool("imap.use_tls"),
		Mailbox:  c.GetString("imap.mailbox"),
	}
}

// GetDelivery returns the delivery channel selection
func (c *Config) GetDelivery() (DeliveryConfig, error) {
	d := DeliveryConfig{Type: strings.ToLower(c.GetString("delivery.type"))}
	if err := validate.Struct(d); err != nil {
		return DeliveryConfig{}, fmt.Errorf("unsupported delivery type %q", d.Type)
	}
	return d, nil
}

// GetStorage returns the local persistence configuration
func (c *Config) GetStorage() (StorageConfig, error) {
	s := StorageConfig{ArtifactPath: c.GetString("storage.artifact_path")}
	if err := validate.Struct(s); err != nil {
		return StorageConfig{}, fmt.Errorf("storage.artifact_path must be set")
	}
	return s, nil
}

// GetWebhook returns the webhook delivery configuration
func (c *Config) GetWebhook() (WebhookConfig, error) {
	timeout, err := c.GetDuration("delivery.webhook.timeout")
	if err != nil {
		return WebhookConfig{}, err
	}
	return WebhookConfig{
		URL:          c.GetString("delivery.webhook.url"),
		SecretHeader: c.GetString("delivery.webhook.secret_header"),
		Secret:       c.GetString("delivery.webhook.secret"),
		Timeout:      timeout,
		RetryMax:     c.GetInt("delivery.webhook.retry_max"),
	}, nil
}

// GetSMTP returns the SMTP delivery configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Address:  c.GetString("delivery.smtp.address"),
		Port:     c.GetInt("delivery.smtp.port"),
		Username: c.GetString("delivery.smtp.username"),
		Password: c.GetString("delivery.smtp.password"),
		From:     c.GetString("delivery.smtp.from"),
		To:       c.GetStringSlice("delivery.smtp.to"),
		Subject:  c.GetString("delivery.smtp.subject"),
		Attempts: c.GetInt("delivery.smtp.attempts"),
	}
}

// GetHistory returns the run history configuration
func (c *Config) GetHistory() (HistoryConfig, error) {
	retention, err := c.GetDuration("history.retention")
	if err != nil {
		return HistoryConfig{}, err
	}
	cleanup, err := c.GetDuration("history.cleanup_frequency")
	if err != nil {
		return HistoryConfig{}, err
	}
	return HistoryConfig{
		Type:             c.GetString("history.type"),
		Enabled:          c.GetBool("history.enabled"),
		Retention:        retention,
		CleanupFrequency: cleanup,
		SQLitePath:       c.GetString("history.sqlite_path"),
		MySQLDSN:         c.GetString("history.mysql_dsn"),
	}, nil
}

// GetServer returns the inbound server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	timeout, err := c.GetDuration("server.request_timeout")
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Type:           c.GetString("server.type"),
		Host:           c.GetString("server.host"),
		Port:           c.GetInt("server.port"),
		APIKey:         c.GetString("server.api_key"),
		APIKeyHeader:   c.GetString("server.api_key_header"),
		RequestTimeout: timeout,
		RateLimit:      c.GetFloat64("server.rate_limit"),
		RateBurst:      c.GetInt("server.rate_burst"),
	}, nil
}

// requiredTokenFields are the fields an authorized-user token needs to refresh itself
var requiredTokenFields = []string{"token", "refresh_token", "token_uri", "client_id", "client_secret"}

// ValidateGmailToken checks that raw is a JSON object carrying every field needed
// to refresh a Gmail access token. It returns the missing field names.
func ValidateGmailToken(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("gmail token is empty")
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("gmail token is not valid JSON: %w", err)
	}
	var missing []string
	for _, f := range requiredTokenFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	sort.Strings(missing)
	return missing, nil
}
