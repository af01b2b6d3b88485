package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ScreenshotDir writes failure screenshots as PNG files into a directory
type ScreenshotDir struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewScreenshotDir creates a new screenshot directory collaborator
func NewScreenshotDir(dir string, logger *zap.Logger) *ScreenshotDir {
	return &ScreenshotDir{
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// Capture stores png as <timestamp>_<label>.png
func (d *ScreenshotDir) Capture(ctx context.Context, label string, png []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create diagnostics directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.png", d.now().UTC().Format("20060102T150405.000Z"), unsafeLabel.ReplaceAllString(label, "_"))
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}

	d.logger.Info("Diagnostic screenshot saved",
		zap.String("path", path),
		zap.String("size", humanize.Bytes(uint64(len(png)))))
	return nil
}
