package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ProbeResult is either Found (Element set) or NotFound
type ProbeResult struct {
	Element  Element
	Locator  string
	Index    int
	Attempts int
}

// Found reports whether a candidate resolved
func (r ProbeResult) Found() bool {
	return r.Element != nil
}

// SelectorProbe resolves the first usable element from an ordered candidate list
type SelectorProbe struct {
	logger *zap.Logger
}

// NewSelectorProbe creates a new selector probe
func NewSelectorProbe(logger *zap.Logger) *SelectorProbe {
	return &SelectorProbe{logger: logger}
}

// Resolve tries each candidate in list order, waiting up to timeout for each one to
// become visible, and returns the first that is visible and enabled. It never
// retries and never mutates the page. A cancelled ctx ends the probe with NotFound
// and the context error.
func (p *SelectorProbe) Resolve(ctx context.Context, page Page, candidates SelectorCandidates, timeout time.Duration) (ProbeResult, error) {
	result := ProbeResult{Index: -1}

	for i, locator := range candidates.Locators {
		if err := ctx.Err(); err != nil {
			return ProbeResult{Index: -1, Attempts: result.Attempts}, err
		}
		result.Attempts++

		el, err := page.WaitVisible(ctx, locator, timeout)
		if err != nil {
			if !errors.Is(err, ErrNoMatch) {
				p.logger.Debug("Candidate lookup failed",
					zap.String("target", candidates.Name),
					zap.String("locator", locator),
					zap.Error(err))
			}
			continue
		}

		if ok := p.usable(ctx, el); !ok {
			p.logger.Debug("Candidate resolved but is not usable",
				zap.String("target", candidates.Name),
				zap.String("locator", locator))
			continue
		}

		p.logger.Debug("Candidate resolved",
			zap.String("target", candidates.Name),
			zap.String("locator", locator),
			zap.Int("index", i))
		result.Element = el
		result.Locator = locator
		result.Index = i
		return result, nil
	}

	p.logger.Debug("No candidate resolved",
		zap.String("target", candidates.Name),
		zap.Int("candidates", len(candidates.Locators)))
	return result, nil
}

// usable re-checks visibility and enablement of a resolved element
func (p *SelectorProbe) usable(ctx context.Context, el Element) bool {
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false
	}
	enabled, err := el.Enabled(ctx)
	if err != nil || !enabled {
		return false
	}
	return true
}
