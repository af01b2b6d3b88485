package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetrieverSettings scopes the mailbox search and the poll cadence
type RetrieverSettings struct {
	SenderDomain  string
	Subject       string
	RecencyWindow time.Duration
	PollInterval  time.Duration
	MaxResults    int
}

// CodeLookup is the outcome of FetchCode. A lookup without a code is Unavailable.
type CodeLookup struct {
	Code      VerificationCode
	MessageID string
	Polls     int
}

// Available reports whether a code was found before the deadline
func (l CodeLookup) Available() bool {
	return l.Code != ""
}

// CodeRetriever polls a mailbox for a verification code
type CodeRetriever struct {
	mailbox  Mailbox
	logger   *zap.Logger
	settings RetrieverSettings
	now      func() time.Time
}

// NewCodeRetriever creates a new code retriever
func NewCodeRetriever(mailbox Mailbox, logger *zap.Logger, settings RetrieverSettings) *CodeRetriever {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if settings.MaxResults <= 0 {
		settings.MaxResults = 10
	}
	return &CodeRetriever{
		mailbox:  mailbox,
		logger:   logger,
		settings: settings,
		now:      time.Now,
	}
}

// FetchCode polls until a code not listed in consumed is found or deadline elapses.
// Running out of time is a normal outcome reported as an Unavailable lookup; the error
// is only set when ctx itself is cancelled.
func (r *CodeRetriever) FetchCode(ctx context.Context, deadline time.Duration, consumed ...VerificationCode) (CodeLookup, error) {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var lookup CodeLookup
	for {
		lookup.Polls++
		if code, id, ok := r.poll(pollCtx, consumed); ok {
			lookup.Code = code
			lookup.MessageID = id
			r.logger.Info("Verification code retrieved",
				zap.String("code", code.Masked()),
				zap.String("message_id", id),
				zap.Int("polls", lookup.Polls))
			return lookup, nil
		}

		timer := time.NewTimer(r.settings.PollInterval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return lookup, err
			}
			r.logger.Warn("No verification code before deadline",
				zap.Duration("deadline", deadline),
				zap.Int("polls", lookup.Polls))
			return lookup, nil
		case <-timer.C:
		}
	}
}

// poll runs one mailbox search, inspects every returned message and keeps the code
// of the most recently received one. Result order is not trusted.
func (r *CodeRetriever) poll(ctx context.Context, consumed []VerificationCode) (VerificationCode, string, bool) {
	query := MailQuery{
		SenderDomain: r.settings.SenderDomain,
		Subject:      r.settings.Subject,
		NewerThan:    r.now().Add(-r.settings.RecencyWindow),
		MaxResults:   r.settings.MaxResults,
	}

	ids, err := r.mailbox.Search(ctx, query)
	if err != nil {
		r.logger.Warn("Mailbox search failed", zap.Error(err))
		return "", "", false
	}
	r.logger.Debug("Mailbox search returned", zap.Int("messages", len(ids)))

	var (
		best     VerificationCode
		bestID   string
		bestTime time.Time
	)
	for _, id := range ids {
		msg, err := r.mailbox.Fetch(ctx, id)
		if err != nil {
			r.logger.Warn("Failed to fetch message", zap.String("message_id", id), zap.Error(err))
			continue
		}
		code, ok := ExtractCode(msg)
		if !ok {
			continue
		}
		if isConsumed(code, consumed) {
			r.logger.Debug("Skipping already used code", zap.String("code", code.Masked()))
			continue
		}
		if best == "" || msg.ReceivedAt.After(bestTime) {
			best, bestID, bestTime = code, id, msg.ReceivedAt
		}
	}
	return best, bestID, best != ""
}

func isConsumed(code VerificationCode, consumed []VerificationCode) bool {
	for _, c := range consumed {
		if c == code {
			return true
		}
	}
	return false
}
