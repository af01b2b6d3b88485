package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dustin/go-humanize"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/mikey/linxo-exporter/internal/core"
	"go.uber.org/zap"
)

const smtpTimeout = 30 * time.Second

// SMTPOptions configures the SMTP deliverer
type SMTPOptions struct {
	Address    string
	Port       int
	Username   string
	Password   string
	From       string
	To         []string
	Subject    string
	Attempts   int
	RetryDelay time.Duration
}

// SMTPDeliverer mails the artifact as an attachment
type SMTPDeliverer struct {
	opts   SMTPOptions
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPDeliverer creates a new SMTP deliverer
func NewSMTPDeliverer(opts SMTPOptions, logger *zap.Logger) (*SMTPDeliverer, error) {
	if opts.From == "" || len(opts.To) == 0 {
		return nil, fmt.Errorf("SMTP delivery needs a sender and at least one recipient")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &SMTPDeliverer{
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Deliver builds the message once and sends it, retrying transient failures
func (d *SMTPDeliverer) Deliver(ctx context.Context, artifact *core.ExportArtifact) error {
	msg, err := d.compose(artifact)
	if err != nil {
		return err
	}

	return retry.Do(func() error {
		err := d.send(ctx, msg)
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
			// Permanent rejection
			return retry.Unrecoverable(err)
		}
		return err
	},
		retry.Attempts(uint(d.opts.Attempts)),
		retry.Delay(d.opts.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("Retrying SMTP delivery", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

// compose renders a multipart message with a short text part and the artifact attached
func (d *SMTPDeliverer) compose(artifact *core.ExportArtifact) ([]byte, error) {
	to := make([]*mail.Address, 0, len(d.opts.To))
	for _, addr := range d.opts.To {
		to = append(to, &mail.Address{Address: addr})
	}

	var h mail.Header
	h.SetDate(d.now())
	h.SetAddressList("From", []*mail.Address{{Address: d.opts.From}})
	h.SetAddressList("To", to)
	h.SetSubject(d.opts.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}

	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	fmt.Fprintf(tw, "Transactions export attached (%s).\r\n", humanize.Bytes(uint64(artifact.Size())))
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", artifact.MediaType())
	ah.SetFilename(artifact.Filename)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	if _, err := aw.Write(artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

// send runs one SMTP transaction
func (d *SMTPDeliverer) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(d.opts.Address, strconv.Itoa(d.opts.Port))

	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(smtpTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: d.opts.Address}); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	if d.opts.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", d.opts.Username, d.opts.Password)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := c.Mail(d.opts.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range d.opts.To {
		if err := c.Rcpt(recipient, nil); err != nil {
			d.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return retry.Unrecoverable(fmt.Errorf("all recipients were rejected"))
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := io.Copy(wc, bytes.NewReader(msg)); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		d.logger.Warn("QUIT command failed", zap.Error(err))
	}

	d.logger.Info("Artifact delivered by mail",
		zap.Strings("recipients", d.opts.To),
		zap.String("size", humanize.Bytes(uint64(len(msg)))))
	return nil
}
