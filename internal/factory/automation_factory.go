package factory

import (
	"fmt"

	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

// AutomationFactory assembles the login and export automatons from configuration
type AutomationFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAutomationFactory creates a new automation factory
func NewAutomationFactory(cfg *config.Config, logger *zap.Logger) *AutomationFactory {
	return &AutomationFactory{
		cfg:    cfg,
		logger: logger,
	}
}

func candidates(name string, locators []string) core.SelectorCandidates {
	return core.SelectorCandidates{Name: name, Locators: locators}
}

// CreateCodeRetriever creates the mailbox poller
func (f *AutomationFactory) CreateCodeRetriever(mailbox core.Mailbox) (*core.CodeRetriever, error) {
	mc, err := f.cfg.GetMailbox()
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox configuration: %w", err)
	}
	return core.NewCodeRetriever(mailbox, f.logger.Named("retriever"), core.RetrieverSettings{
		SenderDomain:  mc.SenderDomain,
		Subject:       mc.Subject,
		RecencyWindow: mc.RecencyWindow,
		PollInterval:  mc.PollInterval,
		MaxResults:    mc.MaxResults,
	}), nil
}

// CreateLoginAutomaton creates the login automaton
func (f *AutomationFactory) CreateLoginAutomaton(probe *core.SelectorProbe, retriever *core.CodeRetriever) (*core.LoginAutomaton, error) {
	linxo := f.cfg.GetLinxo()
	ac, err := f.cfg.GetAutomation()
	if err != nil {
		return nil, fmt.Errorf("invalid automation configuration: %w", err)
	}
	sel := f.cfg.GetSelectors()

	return core.NewLoginAutomaton(probe, retriever, f.logger.Named("login"),
		core.LoginSettings{
			LoginURL:                 linxo.LoginURL,
			ChallengeURLMarkers:      linxo.ChallengeURLMarkers,
			SuccessURLPatterns:       linxo.SuccessURLPatterns,
			AuthenticatedURLPatterns: linxo.AuthenticatedURLPatterns,
			NavigationTimeout:        ac.NavigationTimeout,
			EmailTimeout:             ac.EmailTimeout,
			ContinueTimeout:          ac.ContinueTimeout,
			PasswordTimeout:          ac.PasswordTimeout,
			SettleDelay:              ac.SettleDelay,
			CodeDeadline:             ac.CodeDeadline,
			CodeInputTimeout:         ac.CodeInputTimeout,
			CodeLength:               ac.CodeLength,
			ValidationTimeout:        ac.ValidationTimeout,
			ErrorProbeTimeout:        ac.ErrorProbeTimeout,
		},
		core.LoginSelectors{
			Email:       candidates("email", sel.Email),
			Continue:    candidates("continue", sel.Continue),
			Password:    candidates("password", sel.Password),
			Login:       candidates("login", sel.Login),
			CodeBank:    sel.CodeBank,
			CodeSingle:  candidates("code", sel.CodeSingle),
			CodeSubmit:  candidates("code_submit", sel.CodeSubmit),
			InlineError: candidates("inline_error", sel.InlineError),
		},
	), nil
}

// CreateExportAutomaton creates the export automaton
func (f *AutomationFactory) CreateExportAutomaton(probe *core.SelectorProbe) (*core.ExportAutomaton, error) {
	ac, err := f.cfg.GetAutomation()
	if err != nil {
		return nil, fmt.Errorf("invalid automation configuration: %w", err)
	}
	sel := f.cfg.GetSelectors()

	return core.NewExportAutomaton(probe, f.logger.Named("export"),
		core.ExportSettings{
			HistoryURL:           f.cfg.GetLinxo().HistoryURL,
			NavigationTimeout:    ac.NavigationTimeout,
			NetworkIdleTimeout:   ac.NetworkIdleTimeout,
			ExportProbeTimeout:   ac.ExportProbeTimeout,
			OptionalProbeTimeout: ac.OptionalProbeTimeout,
			DownloadTimeout:      ac.DownloadTimeout,
			Format:               ac.ExportFormat,
		},
		core.ExportSelectors{
			Export:  candidates("export", sel.Export),
			Format:  candidates("export_format", sel.ExportFormat),
			Confirm: candidates("export_confirm", sel.ExportConfirm),
		},
	), nil
}

// CreateOrchestrator wires the automatons around one browser session per run
func (f *AutomationFactory) CreateOrchestrator(
	browser core.Browser,
	diagnostics core.Diagnostics,
	login *core.LoginAutomaton,
	export *core.ExportAutomaton,
) (*core.Orchestrator, error) {
	ac, err := f.cfg.GetAutomation()
	if err != nil {
		return nil, fmt.Errorf("invalid automation configuration: %w", err)
	}
	return core.NewOrchestrator(browser, login, export, diagnostics, f.logger.Named("orchestrator"), ac.DiagnosticsTimeout), nil
}
