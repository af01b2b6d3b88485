package delivery

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testArtifact() *core.ExportArtifact {
	return &core.ExportArtifact{
		Data:        []byte("date;label;amount\n2024-01-02;Café;-3,50\n"),
		ContentType: "text/csv",
		Filename:    "linxo_transactions.csv",
		Encoding:    "utf-8",
	}
}

func TestWebhookDeliver(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d, err := NewWebhookDeliverer(WebhookOptions{
		URL:          srv.URL,
		SecretHeader: "X-Webhook-Secret",
		Secret:       "s3cret",
		Timeout:      5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Deliver(context.Background(), testArtifact()))
	assert.Equal(t, testArtifact().Data, gotBody)
	assert.Equal(t, "text/csv; charset=utf-8", gotHeader.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=linxo_transactions.csv", gotHeader.Get("Content-Disposition"))
	assert.Equal(t, "s3cret", gotHeader.Get("X-Webhook-Secret"))

	// A type that already carries a charset keeps a single parameter
	withCharset := testArtifact()
	withCharset.ContentType = "text/csv; charset=utf-8"
	require.NoError(t, d.Deliver(context.Background(), withCharset))
	assert.Equal(t, "text/csv; charset=utf-8", gotHeader.Get("Content-Type"))
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewWebhookDeliverer(WebhookOptions{
		URL:          srv.URL,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, d.Deliver(context.Background(), testArtifact()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookFailures(t *testing.T) {
	_, err := NewWebhookDeliverer(WebhookOptions{}, zap.NewNop())
	assert.Error(t, err)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer rejecting.Close()

	d, err := NewWebhookDeliverer(WebhookOptions{URL: rejecting.URL}, zap.NewNop())
	require.NoError(t, err)
	err = d.Deliver(context.Background(), testArtifact())
	assert.ErrorContains(t, err, "status 400")

	// Nothing listens on a closed server's address
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	d, err = NewWebhookDeliverer(WebhookOptions{URL: closed.URL, RetryMax: 1, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	err = d.Deliver(context.Background(), testArtifact())
	assert.ErrorContains(t, err, "failed to deliver artifact to webhook")
}

// mailSink is a go-smtp backend recording every accepted message
type mailSink struct {
	mu       sync.Mutex
	sessions int
	messages [][]byte
	rcptErr  error
	dataErrs []error
}

func (b *mailSink) snapshot() (int, [][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions, b.messages
}

func (b *mailSink) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &sinkSession{sink: b}, nil
}

type sinkSession struct {
	sink *mailSink
}

func (s *sinkSession) Reset() {}

func (s *sinkSession) Logout() error { return nil }

func (s *sinkSession) AuthPlain(string, string) error { return smtp.ErrAuthUnsupported }

func (s *sinkSession) Mail(string, *smtp.MailOptions) error { return nil }

func (s *sinkSession) Rcpt(string, *smtp.RcptOptions) error { return s.sink.rcptErr }

func (s *sinkSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	if len(s.sink.dataErrs) > 0 {
		err := s.sink.dataErrs[0]
		s.sink.dataErrs = s.sink.dataErrs[1:]
		return err
	}
	s.sink.messages = append(s.sink.messages, data)
	return nil
}

func startSMTPServer(t *testing.T, sink *mailSink) *net.TCPAddr {
	t.Helper()
	s := smtp.NewServer(sink)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return l.Addr().(*net.TCPAddr)
}

func newTestSMTP(t *testing.T, addr *net.TCPAddr, attempts int) *SMTPDeliverer {
	t.Helper()
	d, err := NewSMTPDeliverer(SMTPOptions{
		Address:    addr.IP.String(),
		Port:       addr.Port,
		From:       "exporter@example.com",
		To:         []string{"owner@example.com"},
		Subject:    "Linxo transactions export",
		Attempts:   attempts,
		RetryDelay: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestSMTPDeliverAttachesArtifact(t *testing.T) {
	sink := &mailSink{}
	d := newTestSMTP(t, startSMTPServer(t, sink), 1)

	require.NoError(t, d.Deliver(context.Background(), testArtifact()))
	_, messages := sink.snapshot()
	require.Len(t, messages, 1)

	mr, err := mail.CreateReader(bytes.NewReader(messages[0]))
	require.NoError(t, err)
	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Linxo transactions export", subject)

	var attachment []byte
	var filename string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if h, ok := p.Header.(*mail.AttachmentHeader); ok {
			filename, _ = h.Filename()
			attachment, err = io.ReadAll(p.Body)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, "linxo_transactions.csv", filename)
	assert.Equal(t, testArtifact().Data, attachment)
}

func TestSMTPRetriesTransientFailure(t *testing.T) {
	sink := &mailSink{dataErrs: []error{&smtp.SMTPError{Code: 451, Message: "try again later"}}}
	d := newTestSMTP(t, startSMTPServer(t, sink), 3)

	require.NoError(t, d.Deliver(context.Background(), testArtifact()))
	sessions, messages := sink.snapshot()
	assert.Len(t, messages, 1)
	assert.Equal(t, 2, sessions)
}

func TestSMTPPermanentRejectionIsNotRetried(t *testing.T) {
	sink := &mailSink{rcptErr: &smtp.SMTPError{Code: 550, Message: "no such user"}}
	d := newTestSMTP(t, startSMTPServer(t, sink), 3)

	err := d.Deliver(context.Background(), testArtifact())
	assert.ErrorContains(t, err, "all recipients were rejected")
	sessions, _ := sink.snapshot()
	assert.Equal(t, 1, sessions)
}

func TestNewSMTPDelivererValidates(t *testing.T) {
	_, err := NewSMTPDeliverer(SMTPOptions{From: "a@example.com"}, zap.NewNop())
	assert.Error(t, err)
}
