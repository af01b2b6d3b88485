package core

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Exporter produces the artifact for one credential
type Exporter interface {
	Run(ctx context.Context, cred Credential) (*ExportArtifact, error)
}

// ExportService is the core service that runs an export and hands the artifact to
// the delivery and persistence collaborators
type ExportService struct {
	exporter   Exporter
	normalizer TextNormalizer
	deliverer  ArtifactDeliverer
	store      ArtifactStore
	history    RunRepository
	logger     *zap.Logger
}

// NewExportService creates a new export service. deliverer and history may be nil.
func NewExportService(
	exporter Exporter,
	normalizer TextNormalizer,
	deliverer ArtifactDeliverer,
	store ArtifactStore,
	history RunRepository,
	logger *zap.Logger,
) *ExportService {
	return &ExportService{
		exporter:   exporter,
		normalizer: normalizer,
		deliverer:  deliverer,
		store:      store,
		history:    history,
		logger:     logger,
	}
}

// Export runs one export. Automaton and configuration failures are returned as errors;
// delivery and persistence failures are reported in the returned report.
func (s *ExportService) Export(ctx context.Context, cred Credential) (*ExportReport, *ExportArtifact, error) {
	run := &RunRecord{ID: uuid.NewString(), StartedAt: time.Now()}
	logger := s.logger.With(zap.String("run_id", run.ID))

	if cred.Empty() {
		err := newError(KindConfiguration, nil, "portal credential is missing", nil)
		s.record(ctx, logger, run, err)
		return nil, nil, err
	}

	logger.Info("Starting export", zap.String("identity", maskIdentity(cred.Identity)))
	artifact, err := s.exporter.Run(ctx, cred)
	if err != nil {
		s.record(ctx, logger, run, err)
		return nil, nil, err
	}

	if s.normalizer != nil {
		data, encoding, err := s.normalizer.NormalizeEncoding(artifact.Data)
		if err != nil {
			logger.Warn("Failed to normalize artifact encoding, keeping raw bytes", zap.Error(err))
		} else {
			artifact.Data = data
			artifact.Encoding = encoding
		}
	}

	report := &ExportReport{
		RunID:        run.ID,
		ArtifactSize: artifact.Size(),
		Encoding:     artifact.Encoding,
	}

	if s.deliverer != nil {
		if err := s.deliverer.Deliver(ctx, artifact); err != nil {
			derr := newError(KindDelivery, nil, "artifact delivery", err)
			logger.Error("Delivery failed", zap.Error(derr))
			report.DeliveryError = derr.Error()
		} else {
			report.DeliverySuccess = true
		}
	}

	path, err := s.store.Save(ctx, artifact)
	if err != nil {
		logger.Error("Failed to save artifact locally", zap.Error(err))
		report.LocalSaveError = err.Error()
	} else {
		report.LocalSaveSuccess = true
		report.SavedPath = path
	}

	run.ArtifactSize = report.ArtifactSize
	run.Delivered = report.DeliverySuccess
	run.Saved = report.LocalSaveSuccess
	s.record(ctx, logger, run, nil)

	logger.Info("Export finished",
		zap.String("size", humanize.Bytes(uint64(report.ArtifactSize))),
		zap.Bool("delivered", report.DeliverySuccess),
		zap.Bool("saved", report.LocalSaveSuccess))
	return report, artifact, nil
}

// Recent returns the latest runs, or nothing when history is disabled
func (s *ExportService) Recent(ctx context.Context, limit int) ([]*RunRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Recent(ctx, limit)
}

// record stores the run outcome. The caller's ctx may already be done.
func (s *ExportService) record(ctx context.Context, logger *zap.Logger, run *RunRecord, cause error) {
	run.FinishedAt = time.Now()
	run.Outcome = RunSucceeded
	if cause != nil {
		run.Outcome = RunFailed
		run.ErrorKind = string(KindOf(cause))
		run.Error = cause.Error()
	}
	if s.history == nil {
		return
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Record(recCtx, run); err != nil {
		logger.Error("Failed to record export run", zap.Error(err))
	}
}
