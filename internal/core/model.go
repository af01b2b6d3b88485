package core

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// Credential is the portal identity and secret for one export run
type Credential struct {
	Identity string
	Secret   string
}

// String redacts the secret so a credential can never leak through a log line
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Identity: %s, Secret: [redacted]}", maskIdentity(c.Identity))
}

// Empty reports whether either half of the credential is missing
func (c Credential) Empty() bool {
	return c.Identity == "" || c.Secret == ""
}

func maskIdentity(id string) string {
	if len(id) <= 3 {
		return "***"
	}
	return id[:3] + "***"
}

// SelectorCandidates is an ordered list of locators for one logical UI target.
// A locator is a CSS selector, or an XPath expression prefixed with "xpath=".
type SelectorCandidates struct {
	Name     string
	Locators []string
}

// MailMessage represents an email fetched from the OTP mailbox
type MailMessage struct {
	ID         string
	From       string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// MailQuery scopes a mailbox search
type MailQuery struct {
	SenderDomain string
	Subject      string
	NewerThan    time.Time
	MaxResults   int
}

// VerificationCode is a 6-digit one-time passcode
type VerificationCode string

// Masked returns the code with all but the last two digits hidden
func (c VerificationCode) Masked() string {
	if len(c) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(c)-2) + string(c[len(c)-2:])
}

// ExportArtifact is the downloaded transaction history
type ExportArtifact struct {
	Data        []byte
	ContentType string
	Filename    string
	Encoding    string
}

// MediaType returns the content type with a single utf-8 charset parameter. The
// payload is normalized to UTF-8 before it leaves the service.
func (a *ExportArtifact) MediaType() string {
	mediaType, params, err := mime.ParseMediaType(a.ContentType)
	if err != nil || mediaType == "" {
		mediaType, params = "text/csv", nil
	}
	if params == nil {
		params = map[string]string{}
	}
	params["charset"] = "utf-8"
	return mime.FormatMediaType(mediaType, params)
}

// Size returns the artifact payload size in bytes
func (a *ExportArtifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// LoginState is a state of the login automaton
type LoginState int

const (
	StateUnauthenticated LoginState = iota
	StateEmailSubmitted
	StateChallengeRequired
	StateCodeSubmitted
	StateAuthenticated
	StateFailed
)

func (s LoginState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateEmailSubmitted:
		return "email_submitted"
	case StateChallengeRequired:
		return "challenge_required"
	case StateCodeSubmitted:
		return "code_submitted"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("login_state(%d)", int(s))
	}
}

// PageState is the classification of the page reached after credential entry
type PageState int

const (
	PageUnknown PageState = iota
	PageChallengeRequired
	PageAuthenticated
)

func (p PageState) String() string {
	switch p {
	case PageChallengeRequired:
		return "challenge_required"
	case PageAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// LoginPath records how the automaton reached the authenticated state
type LoginPath string

const (
	PathNone          LoginPath = ""
	PathSkipChallenge LoginPath = "skip_challenge"
	PathCodeSubmitted LoginPath = "code_submitted"
)

// LoginOutcome is the result of one login automaton run
type LoginOutcome struct {
	State LoginState
	Path  LoginPath
	Trace []LoginState
}

// ExportReport is the status document returned for one export request
type ExportReport struct {
	RunID            string `json:"run_id"`
	DeliverySuccess  bool   `json:"delivery_success"`
	DeliveryError    string `json:"delivery_error,omitempty"`
	LocalSaveSuccess bool   `json:"local_save_success"`
	LocalSaveError   string `json:"local_save_error,omitempty"`
	ArtifactSize     int    `json:"artifact_size"`
	SavedPath        string `json:"saved_path,omitempty"`
	Encoding         string `json:"source_encoding,omitempty"`
}

// RunOutcome summarises how an export run ended
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
)

// RunRecord is one row of the export run history
type RunRecord struct {
	ID           string     `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Outcome      RunOutcome `json:"outcome"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	Error        string     `json:"error,omitempty"`
	ArtifactSize int        `json:"artifact_size"`
	Delivered    bool       `json:"delivered"`
	Saved        bool       `json:"saved"`
}
