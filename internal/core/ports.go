package core

import (
	"context"
	"time"
)

// Key is a keyboard key the automatons may press
type Key string

const (
	KeyEnter Key = "Enter"
	KeyTab   Key = "Tab"
)

// Mailbox defines the interface for the mailbox that receives OTP emails
type Mailbox interface {
	// Search returns the ids of messages matching the query, in no particular order
	Search(ctx context.Context, query MailQuery) ([]string, error)

	// Fetch retrieves one message with its plain-text body decoded
	Fetch(ctx context.Context, id string) (*MailMessage, error)
}

// Browser opens isolated browser sessions
type Browser interface {
	// Open launches a browser process with one browsing context and one page
	Open(ctx context.Context) (Session, error)
}

// Session is one browser process owned by a single request
type Session interface {
	Page() Page

	// Close tears down context, browser and driver. Safe to call more than once;
	// only the first call does any work.
	Close() error
}

// Download describes a file the browser finished downloading
type Download struct {
	Path              string
	SuggestedFilename string
}

// Page is the single page of a browser session
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	// WaitVisible waits up to timeout for an element matching locator to be visible.
	// It returns ErrNoMatch when nothing became visible in time.
	WaitVisible(ctx context.Context, locator string, timeout time.Duration) (Element, error)

	// QueryAll returns the elements currently matching locator without waiting
	QueryAll(ctx context.Context, locator string) ([]Element, error)

	// WaitNetworkIdle waits for the page to stop loading resources
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	// ExpectDownload arms a download listener saving into dir, runs trigger and waits
	// for the download to complete. It returns ErrDownloadTimeout on expiry.
	ExpectDownload(ctx context.Context, dir string, timeout time.Duration, trigger func(ctx context.Context) error) (*Download, error)

	// Screenshot captures a full-page PNG
	Screenshot(ctx context.Context) ([]byte, error)
}

// Element is a handle to a resolved DOM element
type Element interface {
	Fill(ctx context.Context, value string) error
	Click(ctx context.Context) error
	Focus(ctx context.Context) error
	Press(ctx context.Context, key Key) error
	Blur(ctx context.Context) error
	SelectOption(ctx context.Context, label string) error
	Value(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
}

// Diagnostics receives failure snapshots for offline debugging
type Diagnostics interface {
	Capture(ctx context.Context, label string, png []byte) error
}

// RunRepository defines the interface for the export run history
type RunRepository interface {
	// Record inserts or replaces a run
	Record(ctx context.Context, run *RunRecord) error

	// Recent returns up to limit runs, newest first
	Recent(ctx context.Context, limit int) ([]*RunRecord, error)

	// Cleanup removes runs older than the retention window
	Cleanup(ctx context.Context) error
}

// ArtifactDeliverer sends the exported artifact downstream
type ArtifactDeliverer interface {
	Deliver(ctx context.Context, artifact *ExportArtifact) error
}

// ArtifactStore persists the exported artifact locally
type ArtifactStore interface {
	// Save writes the artifact and returns where it was written
	Save(ctx context.Context, artifact *ExportArtifact) (string, error)
}

// TextNormalizer re-encodes a payload to UTF-8
type TextNormalizer interface {
	// NormalizeEncoding returns the UTF-8 payload and the name of the detected source encoding
	NormalizeEncoding(data []byte) ([]byte, string, error)
}
