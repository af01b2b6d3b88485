package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// Options configures the launched browser
type Options struct {
	Bin            string
	Headless       bool
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	AcceptLanguage string
}

// RodBrowser launches one Chromium process per session with go-rod
type RodBrowser struct {
	opts   Options
	logger *zap.Logger
}

// NewRodBrowser creates a new rod browser driver
func NewRodBrowser(opts Options, logger *zap.Logger) *RodBrowser {
	return &RodBrowser{
		opts:   opts,
		logger: logger,
	}
}

// Open launches a browser, opens an incognito context and one page in it
func (b *RodBrowser) Open(ctx context.Context) (core.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(b.opts.Headless).
		NoSandbox(b.opts.NoSandbox).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	if b.opts.AcceptLanguage != "" {
		l = l.Set(flags.Flag("lang"), b.opts.AcceptLanguage)
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	s := &rodSession{launcher: l, logger: b.logger}
	if err := s.connect(controlURL); err != nil {
		s.Close()
		return nil, err
	}

	incognito, err := s.browser.Incognito()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create incognito context: %w", err)
	}
	s.incognito = incognito

	page, err := s.incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if err := b.soften(page); err != nil {
		b.logger.Warn("Failed to apply browser fingerprint settings", zap.Error(err))
	}

	s.page = &rodPage{page: page, browser: s.incognito, logger: b.logger}
	b.logger.Debug("Browser session opened", zap.String("control_url", controlURL))
	return s, nil
}

// soften applies the configured viewport, user agent and locale
func (b *RodBrowser) soften(page *rod.Page) error {
	var errs []error
	if b.opts.ViewportWidth > 0 && b.opts.ViewportHeight > 0 {
		errs = append(errs, proto.EmulationSetDeviceMetricsOverride{
			Width:             b.opts.ViewportWidth,
			Height:            b.opts.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}.Call(page))
	}
	if b.opts.UserAgent != "" {
		errs = append(errs, proto.NetworkSetUserAgentOverride{
			UserAgent:      b.opts.UserAgent,
			AcceptLanguage: b.opts.AcceptLanguage,
		}.Call(page))
	}
	return errors.Join(errs...)
}

// rodSession owns the launcher, the browser connection and its incognito context
type rodSession struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rodPage
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// connect attaches to the launched browser. The browser handle is only kept once the
// CDP connection exists, so Close never calls into an unconnected client.
func (s *rodSession) connect(controlURL string) error {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	s.browser = browser
	return nil
}

func (s *rodSession) Page() core.Page {
	return s.page
}

// Close tears down context, browser and driver in that order, once
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.incognito != nil {
			if err := s.incognito.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close browser context: %w", err))
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Debug("Browser session closed", zap.Bool("clean", s.closeErr == nil))
	})
	return s.closeErr
}
