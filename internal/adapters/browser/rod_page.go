package browser

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

const xpathPrefix = "xpath="

// stableWindow is how long the DOM must stay unchanged to count as idle
const stableWindow = time.Second

// parseLocator splits a locator into its XPath or CSS form
func parseLocator(locator string) (expr string, isXPath bool) {
	if strings.HasPrefix(locator, xpathPrefix) {
		return strings.TrimPrefix(locator, xpathPrefix), true
	}
	return locator, false
}

func keyFor(key core.Key) input.Key {
	switch key {
	case core.KeyTab:
		return input.Tab
	default:
		return input.Enter
	}
}

// noMatch maps a timed-out lookup to core.ErrNoMatch unless the caller's ctx ended
func noMatch(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var notFound *rod.ElementNotFoundError
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &notFound) {
		return core.ErrNoMatch
	}
	return err
}

type rodPage struct {
	page    *rod.Page
	browser *rod.Browser
	logger  *zap.Logger
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, locator string, timeout time.Duration) (core.Element, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	expr, isXPath := parseLocator(locator)

	var el *rod.Element
	var err error
	if isXPath {
		el, err = page.ElementX(expr)
	} else {
		el, err = page.Element(expr)
	}
	if err != nil {
		return nil, noMatch(ctx, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, noMatch(ctx, err)
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) QueryAll(ctx context.Context, locator string) ([]core.Element, error) {
	page := p.page.Context(ctx)
	expr, isXPath := parseLocator(locator)

	var els rod.Elements
	var err error
	if isXPath {
		els, err = page.ElementsX(expr)
	} else {
		els, err = page.Elements(expr)
	}
	if err != nil {
		return nil, err
	}

	out := make([]core.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return p.page.Context(ctx).Timeout(timeout).WaitStable(stableWindow)
}

// ExpectDownload arms the download listener on the incognito context before running
// trigger. Chromium saves the file under dir named by the download GUID.
func (p *rodPage) ExpectDownload(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (*core.Download, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := p.browser.Context(waitCtx).WaitDownload(dir)
	if err := trigger(ctx); err != nil {
		return nil, err
	}

	info := wait()
	if waitCtx.Err() != nil || info == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrDownloadTimeout
	}

	p.logger.Debug("Download completed",
		zap.String("guid", info.GUID),
		zap.String("suggested_filename", info.SuggestedFilename))

	return &core.Download{
		Path:              filepath.Join(dir, info.GUID),
		SuggestedFilename: info.SuggestedFilename,
	}, nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, nil)
}

// rodElement binds the caller's ctx on every call, never the probe timeout it was found with
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Focus(ctx context.Context) error {
	return e.el.Context(ctx).Focus()
}

func (e *rodElement) Press(ctx context.Context, key core.Key) error {
	return e.el.Context(ctx).Type(keyFor(key))
}

func (e *rodElement) Blur(ctx context.Context) error {
	return e.el.Context(ctx).Blur()
}

func (e *rodElement) SelectOption(ctx context.Context, label string) error {
	return e.el.Context(ctx).Select([]string{label}, true, rod.SelectorTypeText)
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	v, err := e.el.Context(ctx).Property("value")
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Enabled(ctx context.Context) (bool, error) {
	disabled, err := e.el.Context(ctx).Property("disabled")
	if err != nil {
		return false, err
	}
	return !disabled.Bool(), nil
}
