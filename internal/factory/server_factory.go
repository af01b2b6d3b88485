package factory

import (
	"fmt"
	"net"
	"strconv"

	"github.com/mikey/linxo-exporter/internal/adapters/httpapi"
	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/ports"
	"go.uber.org/zap"
)

// ServerFactory creates the inbound export surface based on configuration
type ServerFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	exportService *core.ExportService
}

// NewServerFactory creates a new server factory
func NewServerFactory(cfg *config.Config, logger *zap.Logger, exportService *core.ExportService) *ServerFactory {
	return &ServerFactory{
		cfg:           cfg,
		logger:        logger,
		exportService: exportService,
	}
}

// CreateExportServer creates an export server based on the configuration
func (f *ServerFactory) CreateExportServer() (ports.ExportServer, error) {
	sc, err := f.cfg.GetServer()
	if err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	switch sc.Type {
	case "http":
		if sc.APIKey == "" {
			f.logger.Warn("No API key configured, every export request will be refused")
		}
		return httpapi.NewServer(
			f.exportService,
			f.credentials,
			httpapi.Options{
				Addr:           net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)),
				APIKey:         sc.APIKey,
				APIKeyHeader:   sc.APIKeyHeader,
				RequestTimeout: sc.RequestTimeout,
				RateLimit:      sc.RateLimit,
				RateBurst:      sc.RateBurst,
			},
			f.logger.Named("http"),
		), nil
	default:
		return nil, fmt.Errorf("unsupported server type: %s", sc.Type)
	}
}

// credentials reads the portal account for one request
func (f *ServerFactory) credentials() core.Credential {
	return Credential(f.cfg)
}

// Credential returns the configured portal account, or an empty credential when
// either half is missing
func Credential(cfg *config.Config) core.Credential {
	linxo := cfg.GetLinxo()
	if linxo.Email == "" || linxo.Password == "" {
		return core.Credential{}
	}
	return core.Credential{Identity: linxo.Email, Secret: linxo.Password}
}
