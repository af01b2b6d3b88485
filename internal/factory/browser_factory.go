package factory

import (
	"fmt"

	"github.com/mikey/linxo-exporter/internal/adapters/browser"
	"github.com/mikey/linxo-exporter/internal/adapters/diagnostics"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// BrowserFactory creates the browser driver and its diagnostics sink
type BrowserFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewBrowserFactory creates a new browser factory
func NewBrowserFactory(cfg *config.Config, logger *zap.Logger) *BrowserFactory {
	return &BrowserFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateBrowser creates a browser driver based on the configuration
func (f *BrowserFactory) CreateBrowser() (core.Browser, error) {
	bc := f.cfg.GetBrowser()

	switch bc.Driver {
	case "rod":
		return browser.NewRodBrowser(browser.Options{
			Bin:            bc.Bin,
			Headless:       bc.Headless,
			NoSandbox:      bc.NoSandbox,
			ViewportWidth:  bc.ViewportWidth,
			ViewportHeight: bc.ViewportHeight,
			UserAgent:      bc.UserAgent,
			AcceptLanguage: bc.AcceptLanguage,
		}, f.logger.Named("browser")), nil
	default:
		return nil, fmt.Errorf("unsupported browser driver: %s", bc.Driver)
	}
}

// CreateDiagnostics creates the screenshot sink, or nil when no directory is configured
func (f *BrowserFactory) CreateDiagnostics() core.Diagnostics {
	dir := f.cfg.GetBrowser().DiagnosticsDir
	if dir == "" {
		return nil
	}
	return diagnostics.NewScreenshotDir(dir, f.logger.Named("diagnostics"))
}
