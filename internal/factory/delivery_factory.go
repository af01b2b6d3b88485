package factory

import (
	"fmt"

	"github.com/mikey/linxo-exporter/internal/adapters/delivery"
	"github.com/mikey/linxo-exporter/internal/adapters/storage"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/ports"
	"go.uber.org/zap"
)

// DeliveryFactory creates the downstream collaborators of an export
type DeliveryFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDeliveryFactory creates a new delivery factory
func NewDeliveryFactory(cfg *config.Config, logger *zap.Logger) *DeliveryFactory {
	return &DeliveryFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDeliverer creates the artifact deliverer. It returns nil for the none type.
func (f *DeliveryFactory) CreateDeliverer() (ports.ArtifactDeliverer, error) {
	dc, err := f.cfg.GetDelivery()
	if err != nil {
		return nil, err
	}

	logger := f.logger.Named("delivery")
	switch dc.Type {
	case "webhook":
		wc, err := f.cfg.GetWebhook()
		if err != nil {
			return nil, fmt.Errorf("invalid webhook configuration: %w", err)
		}
		return delivery.NewWebhookDeliverer(delivery.WebhookOptions{
			URL:          wc.URL,
			SecretHeader: wc.SecretHeader,
			Secret:       wc.Secret,
			Timeout:      wc.Timeout,
			RetryMax:     wc.RetryMax,
		}, logger)
	case "smtp":
		sc := f.cfg.GetSMTP()
		return delivery.NewSMTPDeliverer(delivery.SMTPOptions{
			Address:  sc.Address,
			Port:     sc.Port,
			Username: sc.Username,
			Password: sc.Password,
			From:     sc.From,
			To:       sc.To,
			Subject:  sc.Subject,
			Attempts: sc.Attempts,
		}, logger)
	case "none":
		logger.Info("Artifact delivery disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported delivery type: %s", dc.Type)
	}
}

// CreateArtifactStore creates the local artifact store
func (f *DeliveryFactory) CreateArtifactStore() (ports.ArtifactStore, error) {
	sc, err := f.cfg.GetStorage()
	if err != nil {
		return nil, err
	}
	return storage.NewFileStore(sc.ArtifactPath, f.logger.Named("storage")), nil
}
