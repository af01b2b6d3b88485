package factory

import (
	"context"
	"fmt"

	"github.com/mikey/linxo-exporter/internal/adapters/mailbox"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/ports"
	"github.com/mikey/linxo-exporter/internal/utils"
	"github.com/mikey/linxo-exporter/internal/whitelist"
	"go.uber.org/zap"
)

// MailboxFactory creates the mailbox holding the verification emails
type MailboxFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewMailboxFactory creates a new mailbox factory
func NewMailboxFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *MailboxFactory {
	return &MailboxFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateMailbox creates a mailbox client based on the configuration
func (f *MailboxFactory) CreateMailbox() (ports.MailboxClient, error) {
	mc, err := f.cfg.GetMailbox()
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox configuration: %w", err)
	}

	logger := f.logger.Named("mailbox")
	checker := whitelist.NewChecker([]string{mc.SenderDomain}, logger)

	switch mc.Type {
	case "gmail":
		gc := f.cfg.GetGmail()
		// The token source outlives any single request
		return mailbox.NewGmailMailbox(context.Background(), mailbox.GmailOptions{
			UserID:             gc.UserID,
			TokenJSON:          gc.TokenJSON,
			TokenFile:          gc.TokenFile,
			ServiceAccountJSON: gc.ServiceAccountJSON,
			Impersonate:        gc.Impersonate,
		}, checker, f.textProcessor, logger)
	case "imap":
		ic := f.cfg.GetIMAP()
		return mailbox.NewIMAPMailbox(mailbox.IMAPOptions{
			Host:     ic.Host,
			Port:     ic.Port,
			Username: ic.Username,
			Password: ic.Password,
			UseTLS:   ic.UseTLS,
			Mailbox:  ic.Mailbox,
		}, checker, f.textProcessor, logger)
	default:
		return nil, fmt.Errorf("unsupported mailbox type: %s", mc.Type)
	}
}
