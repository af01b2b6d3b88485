package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// WebhookOptions configures the webhook deliverer
type WebhookOptions struct {
	URL          string
	SecretHeader string
	Secret       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// WebhookDeliverer POSTs the artifact to an HTTP endpoint, retrying on connection
// errors and 5xx responses
type WebhookDeliverer struct {
	opts   WebhookOptions
	client *retryablehttp.Client
	logger *zap.Logger
}

// NewWebhookDeliverer creates a new webhook deliverer
func NewWebhookDeliverer(opts WebhookOptions, logger *zap.Logger) (*WebhookDeliverer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook URL is not configured")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.Logger = &leveledLogger{logger: logger.Named("webhook")}
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("Retrying webhook delivery", zap.String("url", req.URL.Redacted()), zap.Int("attempt", attempt))
		}
	}

	return &WebhookDeliverer{
		opts:   opts,
		client: client,
		logger: logger,
	}, nil
}

// Deliver sends the artifact bytes as the request body
func (d *WebhookDeliverer) Deliver(ctx context.Context, artifact *core.ExportArtifact) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.opts.URL, bytes.NewReader(artifact.Data))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", artifact.MediaType())
	if artifact.Filename != "" {
		req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	}
	if d.opts.Secret != "" && d.opts.SecretHeader != "" {
		req.Header.Set(d.opts.SecretHeader, d.opts.Secret)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver artifact to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook responded with status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	d.logger.Info("Artifact delivered to webhook",
		zap.Int("status", resp.StatusCode),
		zap.Int("size", artifact.Size()))
	return nil
}

// leveledLogger adapts zap to the retryablehttp.LeveledLogger interface
type leveledLogger struct {
	logger *zap.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Warnw(msg, keysAndValues...)
}
