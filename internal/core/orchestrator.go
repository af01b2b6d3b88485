package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator owns one browser session per call and runs login then export in it
type Orchestrator struct {
	browser            Browser
	login              *LoginAutomaton
	export             *ExportAutomaton
	diagnostics        Diagnostics
	logger             *zap.Logger
	diagnosticsTimeout time.Duration
}

// NewOrchestrator creates a new orchestrator. diagnostics may be nil.
func NewOrchestrator(
	browser Browser,
	login *LoginAutomaton,
	export *ExportAutomaton,
	diagnostics Diagnostics,
	logger *zap.Logger,
	diagnosticsTimeout time.Duration,
) *Orchestrator {
	if diagnosticsTimeout <= 0 {
		diagnosticsTimeout = 10 * time.Second
	}
	return &Orchestrator{
		browser:            browser,
		login:              login,
		export:             export,
		diagnostics:        diagnostics,
		logger:             logger,
		diagnosticsTimeout: diagnosticsTimeout,
	}
}

// Run signs in and exports the history. The session is closed exactly once before
// Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, cred Credential) (*ExportArtifact, error) {
	session, err := o.browser.Open(ctx)
	if err != nil {
		var ae *AutomationError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, newError(KindBrowser, nil, "open browser session", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Error("Failed to tear down browser session", zap.Error(err))
		}
	}()

	page := session.Page()

	outcome, err := o.login.Run(ctx, page, cred)
	if err != nil {
		o.capture(ctx, page, "login", err)
		return nil, err
	}
	o.logger.Debug("Login trace", zap.Stringers("states", outcome.Trace))

	artifact, err := o.export.Run(ctx, page)
	if err != nil {
		o.capture(ctx, page, "export", err)
		return nil, err
	}
	return artifact, nil
}

// capture sends a full-page screenshot to the diagnostics collaborator. Failures are
// logged and never replace the original error.
func (o *Orchestrator) capture(ctx context.Context, page Page, stage string, cause error) {
	if o.diagnostics == nil {
		return
	}
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.diagnosticsTimeout)
	defer cancel()

	png, err := page.Screenshot(diagCtx)
	if err != nil {
		o.logger.Warn("Failed to capture diagnostic screenshot", zap.Error(err))
		return
	}
	label := fmt.Sprintf("%s_%s", stage, KindOf(cause))
	if err := o.diagnostics.Capture(diagCtx, label, png); err != nil {
		o.logger.Warn("Failed to store diagnostic screenshot", zap.String("label", label), zap.Error(err))
	}
}
