package ports

import (
	"context"

	"github.com/mikey/linxo-exporter/internal/core"
)

// ArtifactDeliverer defines the interface for sending the export downstream
type ArtifactDeliverer interface {
	// Deliver sends the artifact, already normalized to UTF-8
	Deliver(ctx context.Context, artifact *core.ExportArtifact) error
}

// ArtifactStore defines the interface for persisting the export locally
type ArtifactStore interface {
	// Save writes the artifact and returns its path
	Save(ctx context.Context, artifact *core.ExportArtifact) (string, error)
}

// MailboxClient defines the interface for the mailbox holding verification emails
type MailboxClient interface {
	core.Mailbox

	// Close releases the connection
	Close() error
}
