package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/utils"
	"github.com/mikey/linxo-exporter/internal/whitelist"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// maxBodySize bounds the mail body handed to the code extractor
const maxBodySize = 64 << 10

// GmailOptions holds the Gmail API credentials
type GmailOptions struct {
	UserID             string
	TokenJSON          string
	TokenFile          string
	ServiceAccountJSON string
	Impersonate        string
}

// authorizedUser is the token document written by the Google OAuth installed-app flow
type authorizedUser struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
	Expiry       string   `json:"expiry"`
}

// GmailMailbox reads verification emails through the Gmail API
type GmailMailbox struct {
	svc     *gmail.Service
	userID  string
	checker *whitelist.Checker
	text    *utils.TextProcessor
	logger  *zap.Logger
}

// NewGmailMailbox authenticates against Gmail with either a service account key
// (domain-wide delegation) or an authorized-user token
func NewGmailMailbox(ctx context.Context, opts GmailOptions, checker *whitelist.Checker, text *utils.TextProcessor, logger *zap.Logger) (*GmailMailbox, error) {
	auth, err := gmailAuth(ctx, opts)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return newGmailMailbox(svc, opts.UserID, checker, text, logger), nil
}

func newGmailMailbox(svc *gmail.Service, userID string, checker *whitelist.Checker, text *utils.TextProcessor, logger *zap.Logger) *GmailMailbox {
	if userID == "" {
		userID = "me"
	}
	return &GmailMailbox{
		svc:     svc,
		userID:  userID,
		checker: checker,
		text:    text,
		logger:  logger,
	}
}

func gmailAuth(ctx context.Context, opts GmailOptions) (option.ClientOption, error) {
	if opts.ServiceAccountJSON != "" {
		creds, err := decodeCredentials(opts.ServiceAccountJSON)
		if err != nil {
			return nil, err
		}
		conf, err := google.JWTConfigFromJSON(creds, gmail.GmailReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Gmail service account key: %w", err)
		}
		conf.Subject = opts.Impersonate
		return option.WithTokenSource(conf.TokenSource(ctx)), nil
	}

	raw := []byte(opts.TokenJSON)
	if len(raw) == 0 && opts.TokenFile != "" {
		b, err := os.ReadFile(opts.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read Gmail token file: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no Gmail credentials configured")
	}

	ts, err := authorizedUserTokenSource(ctx, raw)
	if err != nil {
		return nil, err
	}
	return option.WithTokenSource(ts), nil
}

// decodeCredentials accepts a JSON key either raw or base64 encoded
func decodeCredentials(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	creds, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Gmail service account key: %w", err)
	}
	return creds, nil
}

// authorizedUserTokenSource builds a refreshing token source from an authorized-user token
func authorizedUserTokenSource(ctx context.Context, raw []byte) (oauth2.TokenSource, error) {
	var user authorizedUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to parse Gmail token: %w", err)
	}
	if user.RefreshToken == "" || user.ClientID == "" || user.ClientSecret == "" {
		return nil, fmt.Errorf("gmail token is missing refresh_token, client_id or client_secret")
	}

	tokenURI := user.TokenURI
	if tokenURI == "" {
		tokenURI = google.Endpoint.TokenURL
	}
	scopes := user.Scopes
	if len(scopes) == 0 {
		scopes = []string{gmail.GmailReadonlyScope}
	}

	conf := &oauth2.Config{
		ClientID:     user.ClientID,
		ClientSecret: user.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: google.Endpoint.AuthURL, TokenURL: tokenURI},
		Scopes:       scopes,
	}

	return conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  user.Token,
		RefreshToken: user.RefreshToken,
		Expiry:       parseExpiry(user.Expiry),
	}), nil
}

// parseExpiry reads the token expiry. An unreadable expiry is treated as already
// expired so the first call refreshes the token.
func parseExpiry(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Unix(1, 0)
}

// BuildGmailQuery renders a mail query in Gmail search syntax
func BuildGmailQuery(q core.MailQuery) string {
	var parts []string
	if q.SenderDomain != "" {
		parts = append(parts, "from:"+q.SenderDomain)
	}
	if q.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", strings.ReplaceAll(q.Subject, `"`, "")))
	}
	if !q.NewerThan.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", q.NewerThan.Unix()))
	}
	return strings.Join(parts, " ")
}

// Search lists the ids of the messages matching query
func (m *GmailMailbox) Search(ctx context.Context, query core.MailQuery) ([]string, error) {
	q := BuildGmailQuery(query)
	call := m.svc.Users.Messages.List(m.userID).Q(q).Context(ctx)
	if query.MaxResults > 0 {
		call = call.MaxResults(int64(query.MaxResults))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list Gmail messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		ids = append(ids, msg.Id)
	}

	m.logger.Debug("Gmail search completed", zap.String("query", q), zap.Int("matches", len(ids)))
	return ids, nil
}

// Fetch retrieves a message and decodes its plain-text body
func (m *GmailMailbox) Fetch(ctx context.Context, id string) (*core.MailMessage, error) {
	msg, err := m.svc.Users.Messages.Get(m.userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get Gmail message %s: %w", id, err)
	}

	out := &core.MailMessage{ID: msg.Id}
	if msg.InternalDate > 0 {
		out.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				out.Subject = h.Value
			case "from":
				out.From = h.Value
			}
		}
	}

	if !m.checker.Allows(out.From) {
		return nil, fmt.Errorf("message %s sender %q is not trusted", id, out.From)
	}

	body, err := messageBody(msg.Payload)
	if err != nil {
		m.logger.Warn("Failed to decode Gmail message body", zap.String("message_id", id), zap.Error(err))
	}
	if body == "" {
		body = msg.Snippet
	}
	out.Body = m.text.ProcessText(body, maxBodySize)

	return out, nil
}

// Close releases nothing; the Gmail service holds no connection of its own
func (m *GmailMailbox) Close() error {
	return nil
}

// messageBody returns the first text/plain part, or the payload body of a
// single-part message whatever its type
func messageBody(payload *gmail.MessagePart) (string, error) {
	if payload == nil {
		return "", nil
	}
	if len(payload.Parts) == 0 {
		if payload.Body == nil {
			return "", nil
		}
		return decodeBase64URL(payload.Body.Data)
	}
	return plainTextPart(payload)
}

func plainTextPart(part *gmail.MessagePart) (string, error) {
	for _, child := range part.Parts {
		if len(child.Parts) > 0 {
			body, err := plainTextPart(child)
			if err != nil || body != "" {
				return body, err
			}
			continue
		}
		if strings.HasPrefix(child.MimeType, "text/plain") && child.Body != nil && child.Body.Data != "" {
			return decodeBase64URL(child.Body.Data)
		}
	}
	return "", nil
}

func decodeBase64URL(data string) (string, error) {
	if data == "" {
		return "", nil
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return "", fmt.Errorf("failed to decode message body: %w", err)
		}
	}
	return string(decoded), nil
}
