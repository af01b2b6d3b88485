package mailbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/utils"
	"github.com/mikey/linxo-exporter/internal/whitelist"
	"go.uber.org/zap"
)

const defaultDialTimeout = 15 * time.Second

// IMAPOptions holds the IMAP server and account settings
type IMAPOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	UseTLS      bool
	Mailbox     string
	DialTimeout time.Duration
}

// IMAPMailbox reads verification emails from an IMAP folder. Each operation opens
// its own connection, so the mailbox is safe for concurrent requests.
type IMAPMailbox struct {
	opts    IMAPOptions
	checker *whitelist.Checker
	text    *utils.TextProcessor
	logger  *zap.Logger
}

// NewIMAPMailbox creates a new IMAP mailbox
func NewIMAPMailbox(opts IMAPOptions, checker *whitelist.Checker, text *utils.TextProcessor, logger *zap.Logger) (*IMAPMailbox, error) {
	if opts.Host == "" || opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("IMAP not configured")
	}
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &IMAPMailbox{
		opts:    opts,
		checker: checker,
		text:    text,
		logger:  logger,
	}, nil
}

// connect dials, logs in and selects the folder read-only
func (m *IMAPMailbox) connect(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	dialer := &net.Dialer{Timeout: m.opts.DialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var c *client.Client
	var err error
	if m.opts.UseTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = m.opts.DialTimeout

	if err := c.Login(m.opts.Username, m.opts.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("IMAP login failed: %w", err)
	}

	if _, err := c.Select(m.opts.Mailbox, true); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", m.opts.Mailbox, err)
	}

	return c, nil
}

// Search returns the UIDs of trusted messages received after the query cutoff,
// newest first
func (m *IMAPMailbox) Search(ctx context.Context, query core.MailQuery) ([]string, error) {
	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	if query.SenderDomain != "" {
		criteria.Header.Add("From", query.SenderDomain)
	}
	if query.Subject != "" {
		criteria.Header.Add("Subject", query.Subject)
	}
	if !query.NewerThan.IsZero() {
		// SINCE has day granularity; the exact cutoff is applied below
		criteria.Since = query.NewerThan.Add(-24 * time.Hour)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search IMAP messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate}, messages)
	}()

	var matched []*imap.Message
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		if !query.NewerThan.IsZero() && msg.InternalDate.Before(query.NewerThan) {
			continue
		}
		if !m.checker.Allows(envelopeSender(msg.Envelope)) {
			continue
		}
		matched = append(matched, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch IMAP envelopes: %w", err)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Uid > matched[j].Uid
	})
	if query.MaxResults > 0 && len(matched) > query.MaxResults {
		matched = matched[:query.MaxResults]
	}

	ids := make([]string, 0, len(matched))
	for _, msg := range matched {
		ids = append(ids, strconv.FormatUint(uint64(msg.Uid), 10))
	}

	m.logger.Debug("IMAP search completed",
		zap.String("mailbox", m.opts.Mailbox),
		zap.Int("candidates", len(uids)),
		zap.Int("matches", len(ids)))
	return ids, nil
}

// Fetch retrieves a message by UID without marking it as seen
func (m *IMAPMailbox) Fetch(ctx context.Context, id string) (*core.MailMessage, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}

	c, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}, messages)
	}()

	var msg *imap.Message
	for fetched := range messages {
		if fetched != nil {
			msg = fetched
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch IMAP message %s: %w", id, err)
	}
	if msg == nil || msg.Envelope == nil {
		return nil, fmt.Errorf("IMAP message %s not found", id)
	}

	out := &core.MailMessage{
		ID:         id,
		From:       envelopeSender(msg.Envelope),
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.InternalDate,
	}
	if !m.checker.Allows(out.From) {
		return nil, fmt.Errorf("message %s sender %q is not trusted", id, out.From)
	}

	body, err := parseMessageBody(msg, section)
	if err != nil {
		m.logger.Warn("Failed to parse IMAP message body", zap.String("message_id", id), zap.Error(err))
	}
	out.Body = m.text.ProcessText(body, maxBodySize)

	return out, nil
}

// Close releases nothing; connections are per operation
func (m *IMAPMailbox) Close() error {
	return nil
}

func envelopeSender(env *imap.Envelope) string {
	if len(env.From) == 0 {
		return ""
	}
	return env.From[0].Address()
}

// parseMessageBody extracts the first text/plain part of a fetched message
func parseMessageBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" || strings.HasPrefix(contentType, "text/plain") {
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read body: %w", err)
			}
			return strings.TrimSpace(string(b)), nil
		}
	}

	return "", nil
}
