package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/linxo-exporter/internal/config"
	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/mikey/linxo-exporter/internal/factory"
	"github.com/mikey/linxo-exporter/internal/logging"
	"github.com/mikey/linxo-exporter/internal/ports"
	"github.com/mikey/linxo-exporter/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideExportPipeline(container); err != nil {
		return nil, err
	}

	// Register server factory and export server
	if err := container.Provide(factory.NewServerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.ServerFactory) (ports.ExportServer, error) {
		return f.CreateExportServer()
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideExportPipeline registers everything from the factories to the export
// service. It expects *config.Config and *zap.Logger to be provided already.
func provideExportPipeline(container *dig.Container) error {
	// Register factories
	for _, ctor := range []interface{}{
		factory.NewTextProcessorFactory,
		factory.NewBrowserFactory,
		factory.NewMailboxFactory,
		factory.NewDeliveryFactory,
		factory.NewHistoryFactory,
		factory.NewAutomationFactory,
	} {
		if err := container.Provide(ctor); err != nil {
			return err
		}
	}

	// Register text processor
	if err := container.Provide(func(f *factory.TextProcessorFactory) *utils.TextProcessor {
		return f.CreateTextProcessor()
	}); err != nil {
		return err
	}

	// Register browser and diagnostics
	if err := container.Provide(func(f *factory.BrowserFactory) (core.Browser, error) {
		return f.CreateBrowser()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.BrowserFactory) core.Diagnostics {
		return f.CreateDiagnostics()
	}); err != nil {
		return err
	}

	// Register mailbox
	if err := container.Provide(func(f *factory.MailboxFactory) (ports.MailboxClient, error) {
		return f.CreateMailbox()
	}); err != nil {
		return err
	}

	// Register automatons
	if err := container.Provide(func(logger *zap.Logger) *core.SelectorProbe {
		return core.NewSelectorProbe(logger.Named("probe"))
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.AutomationFactory, mailbox ports.MailboxClient) (*core.CodeRetriever, error) {
		return f.CreateCodeRetriever(mailbox)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.AutomationFactory, probe *core.SelectorProbe, retriever *core.CodeRetriever) (*core.LoginAutomaton, error) {
		return f.CreateLoginAutomaton(probe, retriever)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.AutomationFactory, probe *core.SelectorProbe) (*core.ExportAutomaton, error) {
		return f.CreateExportAutomaton(probe)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(
		f *factory.AutomationFactory,
		browser core.Browser,
		diagnostics core.Diagnostics,
		login *core.LoginAutomaton,
		export *core.ExportAutomaton,
	) (*core.Orchestrator, error) {
		return f.CreateOrchestrator(browser, diagnostics, login, export)
	}); err != nil {
		return err
	}

	// Register downstream collaborators
	if err := container.Provide(func(f *factory.DeliveryFactory) (ports.ArtifactDeliverer, error) {
		return f.CreateDeliverer()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.DeliveryFactory) (ports.ArtifactStore, error) {
		return f.CreateArtifactStore()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.HistoryFactory) (ports.RunRepository, error) {
		return f.CreateRunRepository()
	}); err != nil {
		return err
	}

	// Register export service
	return container.Provide(func(
		orchestrator *core.Orchestrator,
		textProcessor *utils.TextProcessor,
		deliverer ports.ArtifactDeliverer,
		store ports.ArtifactStore,
		history ports.RunRepository,
		logger *zap.Logger,
	) *core.ExportService {
		return core.NewExportService(orchestrator, textProcessor, deliverer, store, history, logger.Named("export"))
	})
}
