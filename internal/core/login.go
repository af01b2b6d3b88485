package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LoginSettings holds the portal URLs and the bounded waits of the login automaton
type LoginSettings struct {
	LoginURL                 string
	ChallengeURLMarkers      []string
	SuccessURLPatterns       []string
	AuthenticatedURLPatterns []string

	NavigationTimeout time.Duration
	EmailTimeout      time.Duration
	ContinueTimeout   time.Duration
	PasswordTimeout   time.Duration
	SettleDelay       time.Duration
	CodeDeadline      time.Duration
	CodeInputTimeout  time.Duration
	CodeLength        int
	ValidationTimeout time.Duration
	ErrorProbeTimeout time.Duration
	URLPollInterval   time.Duration
}

// LoginSelectors holds the candidate lists for every login UI target
type LoginSelectors struct {
	Email       SelectorCandidates
	Continue    SelectorCandidates
	Password    SelectorCandidates
	Login       SelectorCandidates
	CodeBank    string
	CodeSingle  SelectorCandidates
	CodeSubmit  SelectorCandidates
	InlineError SelectorCandidates
}

// LoginAutomaton drives a page through credential entry and the OTP challenge
type LoginAutomaton struct {
	probe     *SelectorProbe
	retriever *CodeRetriever
	logger    *zap.Logger
	settings  LoginSettings
	selectors LoginSelectors
}

// NewLoginAutomaton creates a new login automaton
func NewLoginAutomaton(
	probe *SelectorProbe,
	retriever *CodeRetriever,
	logger *zap.Logger,
	settings LoginSettings,
	selectors LoginSelectors,
) *LoginAutomaton {
	if settings.CodeLength <= 0 {
		settings.CodeLength = 6
	}
	if settings.URLPollInterval <= 0 {
		settings.URLPollInterval = 500 * time.Millisecond
	}
	if settings.NavigationTimeout <= 0 {
		settings.NavigationTimeout = 30 * time.Second
	}
	return &LoginAutomaton{
		probe:     probe,
		retriever: retriever,
		logger:    logger,
		settings:  settings,
		selectors: selectors,
	}
}

// loginRun carries the request-scoped state of one automaton run
type loginRun struct {
	page     Page
	cred     Credential
	outcome  *LoginOutcome
	consumed []VerificationCode
}

func (r *loginRun) enter(state LoginState) {
	r.outcome.State = state
	r.outcome.Trace = append(r.outcome.Trace, state)
}

// Run signs in with cred. The returned outcome is never nil; on failure its state is
// StateFailed and the error is an *AutomationError. Nothing is retried.
func (a *LoginAutomaton) Run(ctx context.Context, page Page, cred Credential) (*LoginOutcome, error) {
	run := &loginRun{
		page:    page,
		cred:    cred,
		outcome: &LoginOutcome{},
	}
	run.enter(StateUnauthenticated)

	a.logger.Info("Starting login", zap.String("identity", maskIdentity(cred.Identity)))

	if err := a.submitEmail(ctx, run); err != nil {
		return run.outcome, err
	}

	pageState, err := a.submitPassword(ctx, run)
	if err != nil {
		return run.outcome, err
	}

	switch pageState {
	case PageChallengeRequired:
		if err := a.resolveChallenge(ctx, run); err != nil {
			return run.outcome, err
		}
		run.outcome.Path = PathCodeSubmitted
	case PageUnknown:
		a.logger.Warn("Page state after credentials is unknown, assuming no challenge")
		fallthrough
	default:
		run.outcome.Path = PathSkipChallenge
	}

	run.enter(StateAuthenticated)
	a.logger.Info("Login completed", zap.String("path", string(run.outcome.Path)))
	return run.outcome, nil
}

// submitEmail performs Unauthenticated -> EmailSubmitted
func (a *LoginAutomaton) submitEmail(ctx context.Context, run *loginRun) error {
	navCtx, cancel := context.WithTimeout(ctx, a.settings.NavigationTimeout)
	err := run.page.Navigate(navCtx, a.settings.LoginURL)
	cancel()
	if err != nil {
		return a.fail(ctx, run, KindBrowser, "navigate to login page", err)
	}

	field, err := a.probe.Resolve(ctx, run.page, a.selectors.Email, a.settings.EmailTimeout)
	if err != nil || !field.Found() {
		return a.fail(ctx, run, KindElementNotFound, "email field", err)
	}
	if err := field.Element.Fill(ctx, run.cred.Identity); err != nil {
		return a.fail(ctx, run, KindBrowser, "fill email field", err)
	}
	if err := a.clickOrEnter(ctx, run, a.selectors.Continue, field.Element); err != nil {
		return a.fail(ctx, run, KindBrowser, "submit email", err)
	}

	run.enter(StateEmailSubmitted)
	return nil
}

// submitPassword performs the password entry and classifies the page reached
func (a *LoginAutomaton) submitPassword(ctx context.Context, run *loginRun) (PageState, error) {
	field, err := a.probe.Resolve(ctx, run.page, a.selectors.Password, a.settings.PasswordTimeout)
	if err != nil || !field.Found() {
		return PageUnknown, a.fail(ctx, run, KindElementNotFound, "password field", err)
	}
	if err := field.Element.Fill(ctx, run.cred.Secret); err != nil {
		return PageUnknown, a.fail(ctx, run, KindBrowser, "fill password field", err)
	}
	if err := a.clickOrEnter(ctx, run, a.selectors.Login, field.Element); err != nil {
		return PageUnknown, a.fail(ctx, run, KindBrowser, "submit password", err)
	}

	if err := sleepContext(ctx, a.settings.SettleDelay); err != nil {
		return PageUnknown, a.fail(ctx, run, KindChallengeTimeout, "settle after password", err)
	}

	state := a.classify(ctx, run.page)
	a.logger.Debug("Page classified after credentials", zap.Stringer("page_state", state))
	return state, nil
}

// classify inspects the current page and tags it as challenge, authenticated or unknown
func (a *LoginAutomaton) classify(ctx context.Context, page Page) PageState {
	url, err := page.URL(ctx)
	if err != nil {
		a.logger.Debug("Failed to read page URL", zap.Error(err))
		return PageUnknown
	}
	if containsAny(url, a.settings.ChallengeURLMarkers) {
		return PageChallengeRequired
	}
	if bank := a.visibleBank(ctx, page); len(bank) == a.settings.CodeLength {
		return PageChallengeRequired
	}
	if containsAny(url, a.settings.AuthenticatedURLPatterns) {
		return PageAuthenticated
	}
	return PageUnknown
}

// resolveChallenge performs ChallengeRequired -> CodeSubmitted -> Authenticated
func (a *LoginAutomaton) resolveChallenge(ctx context.Context, run *loginRun) error {
	run.enter(StateChallengeRequired)

	lookup, err := a.retriever.FetchCode(ctx, a.settings.CodeDeadline, run.consumed...)
	if err != nil {
		return a.fail(ctx, run, KindChallengeTimeout, "waiting for verification code", err)
	}
	if !lookup.Available() {
		return a.fail(ctx, run, KindCodeUnavailable,
			fmt.Sprintf("no code within %s", a.settings.CodeDeadline), nil)
	}
	run.consumed = append(run.consumed, lookup.Code)

	last, err := a.enterCode(ctx, run.page, lookup.Code)
	if err != nil {
		return a.fail(ctx, run, KindInputNotFound, "verification code input", err)
	}
	if last == nil {
		return a.fail(ctx, run, KindInputNotFound, "no code bank or single code field", nil)
	}
	run.enter(StateCodeSubmitted)

	if err := a.clickOrEnter(ctx, run, a.selectors.CodeSubmit, last); err != nil {
		return a.fail(ctx, run, KindBrowser, "submit verification code", err)
	}

	return a.awaitValidation(ctx, run)
}

// enterCode fills the code bank, or a single code field when no bank is present. It
// returns the last field written, or nil when neither input shape resolved.
func (a *LoginAutomaton) enterCode(ctx context.Context, page Page, code VerificationCode) (Element, error) {
	bank := a.waitBank(ctx, page)
	if len(bank) == len(code) {
		return a.fillBank(ctx, bank, code)
	}
	a.logger.Info("Code bank not found, trying single code field", zap.Int("fields", len(bank)))

	field, err := a.probe.Resolve(ctx, page, a.selectors.CodeSingle, a.settings.CodeInputTimeout)
	if err != nil {
		return nil, err
	}
	if !field.Found() {
		return nil, nil
	}
	if err := field.Element.Fill(ctx, string(code)); err != nil {
		return nil, fmt.Errorf("failed to fill code field: %w", err)
	}
	return field.Element, nil
}

// fillBank writes one digit per field, confirming each value and retrying once
func (a *LoginAutomaton) fillBank(ctx context.Context, bank []Element, code VerificationCode) (Element, error) {
	for i, field := range bank {
		digit := string(code[i])
		if err := field.Focus(ctx); err != nil {
			a.logger.Debug("Failed to focus code field", zap.Int("field", i), zap.Error(err))
		}
		if err := field.Fill(ctx, digit); err != nil {
			return nil, fmt.Errorf("failed to fill code field %d: %w", i, err)
		}
		if got, _ := field.Value(ctx); got == digit {
			continue
		}
		if err := field.Fill(ctx, digit); err != nil {
			return nil, fmt.Errorf("failed to refill code field %d: %w", i, err)
		}
		if got, _ := field.Value(ctx); got != digit {
			a.logger.Warn("Code field did not keep its digit", zap.Int("field", i))
		}
	}

	last := bank[len(bank)-1]
	if err := last.Press(ctx, KeyTab); err != nil {
		a.logger.Debug("Failed to move focus past code bank", zap.Error(err))
	}
	if err := last.Blur(ctx); err != nil {
		a.logger.Debug("Failed to blur code bank", zap.Error(err))
	}
	return last, nil
}

// waitBank polls for the bank of single character inputs until CodeInputTimeout
func (a *LoginAutomaton) waitBank(ctx context.Context, page Page) []Element {
	deadline := time.Now().Add(a.settings.CodeInputTimeout)
	for {
		bank := a.visibleBank(ctx, page)
		if len(bank) == a.settings.CodeLength || time.Now().After(deadline) {
			return bank
		}
		if err := sleepContext(ctx, a.settings.URLPollInterval); err != nil {
			return bank
		}
	}
}

func (a *LoginAutomaton) visibleBank(ctx context.Context, page Page) []Element {
	if a.selectors.CodeBank == "" {
		return nil
	}
	els, err := page.QueryAll(ctx, a.selectors.CodeBank)
	if err != nil {
		return nil
	}
	visible := make([]Element, 0, len(els))
	for _, el := range els {
		if ok, err := el.Visible(ctx); err == nil && ok {
			visible = append(visible, el)
		}
	}
	return visible
}

// awaitValidation waits for the success URL, then falls back to the fuzzy
// authenticated patterns and finally to the inline error text
func (a *LoginAutomaton) awaitValidation(ctx context.Context, run *loginRun) error {
	waitCtx, cancel := context.WithTimeout(ctx, a.settings.ValidationTimeout)
	defer cancel()

	for {
		if url, err := run.page.URL(waitCtx); err == nil && containsAny(url, a.settings.SuccessURLPatterns) {
			return nil
		}
		if err := sleepContext(waitCtx, a.settings.URLPollInterval); err != nil {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return a.fail(ctx, run, KindChallengeTimeout, "waiting for code validation", err)
	}

	url, err := run.page.URL(ctx)
	if err == nil && containsAny(url, a.settings.AuthenticatedURLPatterns) && !containsAny(url, a.settings.ChallengeURLMarkers) {
		a.logger.Info("Success URL not reached but page looks authenticated", zap.String("url", url))
		return nil
	}

	detail := "code was not accepted"
	if msg := a.inlineError(ctx, run.page); msg != "" {
		detail = msg
	}
	return a.fail(ctx, run, KindValidationRejected, detail, nil)
}

// inlineError returns the text of the first visible inline error element
func (a *LoginAutomaton) inlineError(ctx context.Context, page Page) string {
	res, err := a.probe.Resolve(ctx, page, a.selectors.InlineError, a.settings.ErrorProbeTimeout)
	if err != nil || !res.Found() {
		return ""
	}
	text, err := res.Element.Text(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// clickOrEnter clicks the first resolving control, or presses Enter on field
func (a *LoginAutomaton) clickOrEnter(ctx context.Context, run *loginRun, control SelectorCandidates, field Element) error {
	res, err := a.probe.Resolve(ctx, run.page, control, a.settings.ContinueTimeout)
	if err != nil {
		return err
	}
	if res.Found() {
		return res.Element.Click(ctx)
	}
	a.logger.Debug("No control resolved, pressing Enter", zap.String("target", control.Name))
	return field.Press(ctx, KeyEnter)
}

// fail moves the run to StateFailed. Any failure after ctx ended is reported as a
// challenge timeout so cancellation always maps to the gateway-timeout class.
func (a *LoginAutomaton) fail(ctx context.Context, run *loginRun, kind ErrorKind, detail string, err error) error {
	if ctx.Err() != nil {
		kind = KindChallengeTimeout
		if err == nil {
			err = ctx.Err()
		}
	}
	from := run.outcome.State
	run.enter(StateFailed)

	a.logger.Error("Login failed",
		zap.String("kind", string(kind)),
		zap.Stringer("state", from),
		zap.String("detail", detail),
		zap.Error(err))
	return newError(kind, from, detail, err)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
