package ports

// ExportServer defines the interface for the inbound surface that triggers exports
type ExportServer interface {
	// Start starts serving in the background
	Start() error

	// Stop gracefully stops the server
	Stop() error
}
