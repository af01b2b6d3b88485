package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const defaultArtifactName = "linxo_transactions.csv"

// ExportStep names the step of the export automaton an error happened in
type ExportStep string

const (
	StepNavigate ExportStep = "navigate_history"
	StepLocate   ExportStep = "locate_export"
	StepDownload ExportStep = "download"
	StepRead     ExportStep = "read_artifact"
)

func (s ExportStep) String() string { return string(s) }

// ExportSettings holds the history URL and the bounded waits of the export automaton
type ExportSettings struct {
	HistoryURL           string
	NavigationTimeout    time.Duration
	NetworkIdleTimeout   time.Duration
	ExportProbeTimeout   time.Duration
	OptionalProbeTimeout time.Duration
	DownloadTimeout      time.Duration
	Format               string
	TempDir              string
}

// ExportSelectors holds the candidate lists for the export controls
type ExportSelectors struct {
	Export  SelectorCandidates
	Format  SelectorCandidates
	Confirm SelectorCandidates
}

// ExportAutomaton triggers the history export on an authenticated page
type ExportAutomaton struct {
	probe     *SelectorProbe
	logger    *zap.Logger
	settings  ExportSettings
	selectors ExportSelectors
}

// NewExportAutomaton creates a new export automaton
func NewExportAutomaton(probe *SelectorProbe, logger *zap.Logger, settings ExportSettings, selectors ExportSelectors) *ExportAutomaton {
	if settings.NavigationTimeout <= 0 {
		settings.NavigationTimeout = 30 * time.Second
	}
	if settings.DownloadTimeout <= 0 {
		settings.DownloadTimeout = 30 * time.Second
	}
	return &ExportAutomaton{
		probe:     probe,
		logger:    logger,
		settings:  settings,
		selectors: selectors,
	}
}

// Run downloads the transaction history and returns it as an artifact
func (a *ExportAutomaton) Run(ctx context.Context, page Page) (*ExportArtifact, error) {
	navCtx, cancel := context.WithTimeout(ctx, a.settings.NavigationTimeout)
	err := page.Navigate(navCtx, a.settings.HistoryURL)
	cancel()
	if err != nil {
		return nil, a.fail(ctx, StepNavigate, KindBrowser, "navigate to history", err)
	}

	if err := page.WaitNetworkIdle(ctx, a.settings.NetworkIdleTimeout); err != nil {
		a.logger.Warn("History page never went idle, continuing", zap.Error(err))
	}

	control, err := a.probe.Resolve(ctx, page, a.selectors.Export, a.settings.ExportProbeTimeout)
	if err != nil || !control.Found() {
		return nil, a.fail(ctx, StepLocate, KindExportTimeout, "export control not found", err)
	}
	a.logger.Debug("Export control resolved", zap.String("locator", control.Locator))

	dir, err := os.MkdirTemp(a.settings.TempDir, "linxo-export-*")
	if err != nil {
		return nil, a.fail(ctx, StepDownload, KindBrowser, "create download directory", err)
	}
	defer os.RemoveAll(dir)

	download, err := page.ExpectDownload(ctx, dir, a.settings.DownloadTimeout, func(ctx context.Context) error {
		if err := control.Element.Click(ctx); err != nil {
			return fmt.Errorf("failed to click export control: %w", err)
		}
		a.chooseFormat(ctx, page)
		a.confirm(ctx, page)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDownloadTimeout) {
			return nil, a.fail(ctx, StepDownload, KindExportTimeout,
				fmt.Sprintf("no download within %s", a.settings.DownloadTimeout), err)
		}
		return nil, a.fail(ctx, StepDownload, KindBrowser, "download", err)
	}

	data, err := os.ReadFile(download.Path)
	if err != nil {
		return nil, a.fail(ctx, StepRead, KindBrowser, "read downloaded file", err)
	}

	name := download.SuggestedFilename
	if name == "" {
		name = defaultArtifactName
	}
	contentType := "text/csv"
	if byExt, _, err := mime.ParseMediaType(mime.TypeByExtension(filepath.Ext(name))); err == nil {
		contentType = byExt
	}

	a.logger.Info("Export downloaded",
		zap.String("filename", name),
		zap.String("size", humanize.Bytes(uint64(len(data)))))

	return &ExportArtifact{
		Data:        data,
		ContentType: contentType,
		Filename:    name,
	}, nil
}

// chooseFormat selects the configured format when a format selector is present
func (a *ExportAutomaton) chooseFormat(ctx context.Context, page Page) {
	if a.settings.Format == "" || len(a.selectors.Format.Locators) == 0 {
		return
	}
	res, err := a.probe.Resolve(ctx, page, a.selectors.Format, a.settings.OptionalProbeTimeout)
	if err != nil || !res.Found() {
		return
	}
	if err := res.Element.SelectOption(ctx, a.settings.Format); err != nil {
		a.logger.Debug("Failed to select export format", zap.String("format", a.settings.Format), zap.Error(err))
	}
}

// confirm clicks the confirm-download control when present
func (a *ExportAutomaton) confirm(ctx context.Context, page Page) {
	if len(a.selectors.Confirm.Locators) == 0 {
		return
	}
	res, err := a.probe.Resolve(ctx, page, a.selectors.Confirm, a.settings.OptionalProbeTimeout)
	if err != nil || !res.Found() {
		return
	}
	if err := res.Element.Click(ctx); err != nil {
		a.logger.Debug("Failed to click confirm control", zap.Error(err))
	}
}

func (a *ExportAutomaton) fail(ctx context.Context, step ExportStep, kind ErrorKind, detail string, err error) error {
	if ctx.Err() != nil {
		kind = KindExportTimeout
		if err == nil {
			err = ctx.Err()
		}
	}
	a.logger.Error("Export failed",
		zap.String("kind", string(kind)),
		zap.Stringer("step", step),
		zap.String("detail", detail),
		zap.Error(err))
	return newError(kind, step, detail, err)
}
