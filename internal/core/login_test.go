package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testLoginURL     = "https://web.linxo.com/"
	testChallengeURL = "https://auth.linxo.com/otp"
	testDashboardURL = "https://web.linxo.com/dashboard"
	testBank         = "input.digit"
)

var testCredential = Credential{Identity: "jane@example.com", Secret: "s3cret"}

func candidates(name string, locators ...string) SelectorCandidates {
	return SelectorCandidates{Name: name, Locators: locators}
}

func testLoginSettings() LoginSettings {
	return LoginSettings{
		LoginURL:                 testLoginURL,
		ChallengeURLMarkers:      []string{"auth.linxo.com"},
		SuccessURLPatterns:       []string{"/dashboard"},
		AuthenticatedURLPatterns: []string{"/dashboard", "/historique"},
		NavigationTimeout:        time.Second,
		EmailTimeout:             10 * time.Millisecond,
		ContinueTimeout:          10 * time.Millisecond,
		PasswordTimeout:          20 * time.Millisecond,
		SettleDelay:              time.Millisecond,
		CodeDeadline:             200 * time.Millisecond,
		CodeInputTimeout:         30 * time.Millisecond,
		CodeLength:               6,
		ValidationTimeout:        60 * time.Millisecond,
		ErrorProbeTimeout:        10 * time.Millisecond,
		URLPollInterval:          5 * time.Millisecond,
	}
}

func testLoginSelectors() LoginSelectors {
	return LoginSelectors{
		Email:       candidates("email", "#email"),
		Continue:    candidates("continue", "#continue"),
		Password:    candidates("password", "#password"),
		Login:       candidates("login", "#login"),
		CodeBank:    testBank,
		CodeSingle:  candidates("code", "#otp"),
		CodeSubmit:  candidates("validate", "#validate"),
		InlineError: candidates("error", "#error"),
	}
}

func newTestLogin(mailbox Mailbox) *LoginAutomaton {
	logger := zap.NewNop()
	settings := testSettings()
	settings.PollInterval = 10 * time.Millisecond
	return NewLoginAutomaton(
		NewSelectorProbe(logger),
		NewCodeRetriever(mailbox, logger, settings),
		logger,
		testLoginSettings(),
		testLoginSelectors(),
	)
}

func otpMailbox(code string) *fakeMailbox {
	return newFakeMailbox(&MailMessage{ID: "otp", Subject: "Votre code de vérification", Body: "Your code: " + code})
}

// portal scripts a login page whose login button leads to a six field challenge and
// whose validate button leads to the dashboard
type portal struct {
	page     *fakePage
	bank     []*fakeElement
	validate *fakeElement
}

func newChallengePortal() *portal {
	p := &portal{page: newFakePage("about:blank")}
	p.page.add("#email", "email")
	p.page.add("#continue", "continue")
	p.page.add("#password", "password")
	p.page.add("#login", "login").onClick = func() {
		p.page.url = testChallengeURL
		p.bank = p.page.addGroup(testBank, 6)
		p.validate = p.page.add("#validate", "validate")
		p.validate.onClick = func() { p.page.url = testDashboardURL }
	}
	return p
}

func newDirectPortal(landing string) *fakePage {
	page := newFakePage("about:blank")
	page.add("#email", "email")
	page.add("#continue", "continue")
	page.add("#password", "password")
	page.add("#login", "login").onClick = func() { page.url = landing }
	return page
}

func bankValues(t *testing.T, bank []*fakeElement) string {
	t.Helper()
	var s string
	for _, el := range bank {
		s += el.value
	}
	return s
}

func TestLoginWithChallengeBank(t *testing.T) {
	p := newChallengePortal()
	login := newTestLogin(otpMailbox("482913"))

	outcome, err := login.Run(context.Background(), p.page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.Equal(t, PathCodeSubmitted, outcome.Path)
	assert.Equal(t, []LoginState{
		StateUnauthenticated,
		StateEmailSubmitted,
		StateChallengeRequired,
		StateCodeSubmitted,
		StateAuthenticated,
	}, outcome.Trace)

	assert.Equal(t, "482913", bankValues(t, p.bank))
	assert.Equal(t, "jane@example.com", p.page.elements["#email"].value)
	assert.Equal(t, "s3cret", p.page.elements["#password"].value)
	assert.True(t, p.page.did("press Tab "+p.bank[5].name))
	assert.True(t, p.page.did("blur "+p.bank[5].name))
	// Leaving the bank never clicks anything, so the code is submitted exactly once
	assert.Equal(t, []string{"click validate"}, p.page.clicksAfter("fill "+p.bank[5].name))
	assert.Equal(t, 1, p.validate.clicks)
}

func TestLoginSkipsChallenge(t *testing.T) {
	page := newDirectPortal(testDashboardURL)
	mailbox := newFakeMailbox()
	login := newTestLogin(mailbox)

	outcome, err := login.Run(context.Background(), page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.Equal(t, PathSkipChallenge, outcome.Path)
	assert.Equal(t, []LoginState{StateUnauthenticated, StateEmailSubmitted, StateAuthenticated}, outcome.Trace)
	assert.Zero(t, mailbox.searches)
}

func TestLoginUnknownPageTakesSkipPath(t *testing.T) {
	page := newDirectPortal("https://web.linxo.com/welcome")
	login := newTestLogin(newFakeMailbox())

	outcome, err := login.Run(context.Background(), page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, PathSkipChallenge, outcome.Path)
}

func TestLoginPressesEnterWithoutControls(t *testing.T) {
	page := newFakePage("about:blank")
	page.add("#email", "email")
	page.add("#password", "password").onKey = func(k Key) {
		if k == KeyEnter {
			page.url = testDashboardURL
		}
	}
	login := newTestLogin(newFakeMailbox())

	outcome, err := login.Run(context.Background(), page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.True(t, page.did("press Enter email"))
	assert.True(t, page.did("press Enter password"))
}

func TestLoginSingleCodeFieldFallback(t *testing.T) {
	page := newFakePage("about:blank")
	page.add("#email", "email")
	page.add("#password", "password")
	otp := &fakeElement{}
	page.add("#login", "login").onClick = func() {
		page.url = testChallengeURL
		otp = page.add("#otp", "otp")
		page.add("#validate", "validate").onClick = func() { page.url = testDashboardURL }
	}
	login := newTestLogin(otpMailbox("114477"))

	outcome, err := login.Run(context.Background(), page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, PathCodeSubmitted, outcome.Path)
	assert.Equal(t, "114477", otp.value)
}

func TestLoginRefillsDroppedDigit(t *testing.T) {
	p := newChallengePortal()
	p.page.elements["#login"].onClick = func() {
		p.page.url = testChallengeURL
		p.bank = p.page.addGroup(testBank, 6)
		p.bank[2].dropFills = 1
		p.page.add("#validate", "validate").onClick = func() { p.page.url = testDashboardURL }
	}
	login := newTestLogin(otpMailbox("482913"))

	_, err := login.Run(context.Background(), p.page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, "482913", bankValues(t, p.bank))
	assert.Equal(t, 2, p.page.countPrefix("fill "+p.bank[2].name))
}

func TestLoginEnterOnLastFieldWithoutValidateControl(t *testing.T) {
	p := newChallengePortal()
	p.page.elements["#login"].onClick = func() {
		p.page.url = testChallengeURL
		p.bank = p.page.addGroup(testBank, 6)
		p.bank[5].onKey = func(k Key) {
			if k == KeyEnter {
				p.page.url = testDashboardURL
			}
		}
	}
	login := newTestLogin(otpMailbox("482913"))

	outcome, err := login.Run(context.Background(), p.page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.True(t, p.page.did("press Enter "+p.bank[5].name))
}

func TestLoginFuzzyAuthenticatedURL(t *testing.T) {
	p := newChallengePortal()
	p.page.elements["#login"].onClick = func() {
		p.page.url = testChallengeURL
		p.bank = p.page.addGroup(testBank, 6)
		p.page.add("#validate", "validate").onClick = func() { p.page.url = "https://web.linxo.com/historique" }
	}
	login := newTestLogin(otpMailbox("482913"))

	outcome, err := login.Run(context.Background(), p.page, testCredential)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.Equal(t, PathCodeSubmitted, outcome.Path)
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func() *fakePage
		mailbox   *fakeMailbox
		kind      ErrorKind
		lastState LoginState
		detail    string
	}{
		{
			name: "email field missing",
			setup: func() *fakePage {
				return newFakePage("about:blank")
			},
			mailbox:   newFakeMailbox(),
			kind:      KindElementNotFound,
			lastState: StateUnauthenticated,
		},
		{
			name: "password field missing",
			setup: func() *fakePage {
				page := newDirectPortal(testDashboardURL)
				page.remove("#password")
				return page
			},
			mailbox:   newFakeMailbox(),
			kind:      KindElementNotFound,
			lastState: StateEmailSubmitted,
		},
		{
			name: "no code in mailbox",
			setup: func() *fakePage {
				return newChallengePortal().page
			},
			mailbox:   newFakeMailbox(),
			kind:      KindCodeUnavailable,
			lastState: StateChallengeRequired,
		},
		{
			name: "no code input",
			setup: func() *fakePage {
				return newDirectPortal(testChallengeURL)
			},
			mailbox:   otpMailbox("482913"),
			kind:      KindInputNotFound,
			lastState: StateChallengeRequired,
		},
		{
			name: "code rejected",
			setup: func() *fakePage {
				p := newChallengePortal()
				p.page.elements["#login"].onClick = func() {
					p.page.url = testChallengeURL
					p.page.addGroup(testBank, 6)
					p.page.add("#validate", "validate")
					p.page.add("#error", "error").text = "  Code invalide  "
				}
				return p.page
			},
			mailbox:   otpMailbox("482913"),
			kind:      KindValidationRejected,
			lastState: StateCodeSubmitted,
			detail:    "Code invalide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			login := newTestLogin(tt.mailbox)

			outcome, err := login.Run(context.Background(), tt.setup(), testCredential)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, StateFailed, outcome.State)
			assert.Equal(t, PathNone, outcome.Path)
			require.GreaterOrEqual(t, len(outcome.Trace), 2)
			assert.Equal(t, tt.lastState, outcome.Trace[len(outcome.Trace)-2])
			assert.NotContains(t, outcome.Trace, StateAuthenticated)

			var ae *AutomationError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tt.lastState.String(), ae.State)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, ae.Detail)
			}
		})
	}
}

func TestLoginCancelledDuringChallenge(t *testing.T) {
	p := newChallengePortal()
	settings := testLoginSettings()
	settings.CodeDeadline = time.Minute
	logger := zap.NewNop()
	login := NewLoginAutomaton(
		NewSelectorProbe(logger),
		NewCodeRetriever(newFakeMailbox(), logger, testSettings()),
		logger,
		settings,
		testLoginSelectors(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := login.Run(ctx, p.page, testCredential)
	assert.ErrorIs(t, err, ErrChallengeTimeout)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, StateFailed, outcome.State)
}

func TestAuthenticatedOnlyThroughOnePath(t *testing.T) {
	pages := map[string]func() *fakePage{
		"challenge":   func() *fakePage { return newChallengePortal().page },
		"direct":      func() *fakePage { return newDirectPortal(testDashboardURL) },
		"unknown":     func() *fakePage { return newDirectPortal("https://web.linxo.com/x") },
		"no password": func() *fakePage { p := newDirectPortal(testDashboardURL); p.remove("#password"); return p },
		"no input":    func() *fakePage { return newDirectPortal(testChallengeURL) },
	}

	for name, setup := range pages {
		t.Run(name, func(t *testing.T) {
			outcome, err := newTestLogin(otpMailbox("482913")).Run(context.Background(), setup(), testCredential)
			if err != nil {
				assert.Equal(t, StateFailed, outcome.State)
				assert.NotContains(t, outcome.Trace, StateAuthenticated)
				return
			}

			assert.Equal(t, StateAuthenticated, outcome.State)
			submitted := 0
			for _, s := range outcome.Trace {
				if s == StateCodeSubmitted {
					submitted++
				}
			}
			switch outcome.Path {
			case PathSkipChallenge:
				assert.Zero(t, submitted)
				assert.NotContains(t, outcome.Trace, StateChallengeRequired)
			case PathCodeSubmitted:
				assert.Equal(t, 1, submitted)
			default:
				t.Fatalf("authenticated without a path: %v", outcome.Trace)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	login := newTestLogin(newFakeMailbox())

	page := newFakePage(testChallengeURL)
	assert.Equal(t, PageChallengeRequired, login.classify(context.Background(), page))

	page = newFakePage("https://web.linxo.com/secure")
	page.addGroup(testBank, 6)
	assert.Equal(t, PageChallengeRequired, login.classify(context.Background(), page))

	page = newFakePage(testDashboardURL)
	assert.Equal(t, PageAuthenticated, login.classify(context.Background(), page))

	page = newFakePage("https://web.linxo.com/welcome")
	assert.Equal(t, PageUnknown, login.classify(context.Background(), page))
}
