// Package main is the entry point for the cadence CLI application.
// cadence watches a set of Git repositories and runs a build script once for
// every new commit, recording outcomes in a local ledger.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/MyCarrier-DevOps/goLibMyCarrier/logger"
	"github.com/google/uuid"

	"github.com/MyCarrier-DevOps/cadence/cmd"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/git"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/ledger"
	logadapter "github.com/MyCarrier-DevOps/cadence/internal/adapters/logger"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/metrics"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/output"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/process"
	"github.com/MyCarrier-DevOps/cadence/internal/domain"
	"github.com/MyCarrier-DevOps/cadence/internal/infrastructure/config"
)

func main() {
	// The zap logger reads LOG_LEVEL when it is built, so it is created on
	// first use, after --verbose has been applied.
	var (
		once    sync.Once
		adapter *logadapter.ZapAdapter
	)
	baseLogger := func() *logadapter.ZapAdapter {
		once.Do(func() {
			adapter = logadapter.NewZapAdapter(logger.NewZapLoggerFromConfig())
		})
		return adapter
	}

	deps := &cmd.Dependencies{
		LoggerFactory: func(fields map[string]interface{}) cmd.Logger {
			return baseLogger().With(fields)
		},

		ConfigLoader: func() (*cmd.AppConfig, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			return appConfigFrom(cfg), nil
		},

		DocumentLoader: loadDocument,

		DocumentInitializer: func(path string) error {
			_, err := config.InitDocumentFile(path)
			return err
		},

		SeedAdder: addSeed,

		LedgerFactory: func(cfg *cmd.AppConfig, readOnly bool) (domain.Ledger, error) {
			store, err := ledger.Open(cfg.LedgerPath, ledger.Options{
				Timeout:  cfg.LedgerTimeout,
				ReadOnly: readOnly,
			})
			if err != nil {
				return nil, err
			}
			return store, nil
		},

		VCSFactory: func(log cmd.Logger) domain.VersionControl {
			return git.NewGoGit(log)
		},

		RunnerFactory: func(runID string) domain.ProcessRunner {
			return process.NewRunner("CADENCE_RUN_ID=" + runID)
		},

		MetricsFactory: func() cmd.MetricsRecorder {
			return metrics.NewRecorder()
		},

		OutputWriterFactory: func(out io.Writer) domain.ReportWriter {
			return output.NewWriterWithOutput(out)
		},

		RunIDGenerator: uuid.NewString,

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}

// appConfigFrom maps loaded settings onto the command configuration.
func appConfigFrom(cfg *config.Config) *cmd.AppConfig {
	return &cmd.AppConfig{
		ConfigFile:      cfg.ConfigFile,
		WorkDir:         cfg.WorkDir,
		LedgerPath:      cfg.LedgerPath,
		LedgerTimeout:   cfg.LedgerTimeout,
		BuildRoot:       cfg.BuildRoot(),
		CrawlRoot:       cfg.CrawlRoot(),
		Script:          cfg.Script,
		Branch:          cfg.Branch,
		Crawler:         domain.CrawlerKind(cfg.Crawler),
		MetricsTextfile: cfg.MetricsTextfile,
		LogLevel:        cfg.LogLevel,
		LogAppName:      cfg.LogAppName,
		Source:          cfg,
	}
}

// loadDocument loads the seeds document from the source the settings name.
func loadDocument(ctx context.Context, app *cmd.AppConfig) (*cmd.SeedsDocument, error) {
	cfg, ok := app.Source.(*config.Config)
	if !ok {
		return nil, newConfigTypeError("*config.Config")
	}

	doc, err := cfg.LoadDocument(ctx, config.DefaultVaultClientFactory)
	if err != nil {
		return nil, err
	}
	return seedsDocumentFrom(doc), nil
}

func seedsDocumentFrom(doc *config.Document) *cmd.SeedsDocument {
	return &cmd.SeedsDocument{
		Crawler: doc.Crawler,
		Seeds:   []domain.Seed(doc.Seeds),
		Rules:   doc.Rules,
	}
}

// addSeed appends seed to the seeds file at path, creating the file if needed.
func addSeed(path string, seed domain.Seed) (bool, error) {
	doc, err := config.LoadDocumentFile(path)
	if errors.Is(err, config.ErrSeedsNotFound) {
		doc, err = config.DefaultDocument(), nil
	}
	if err != nil {
		return false, err
	}

	if !doc.AddSeed(seed) {
		return false, nil
	}
	if err := config.WriteDocumentFile(path, doc); err != nil {
		return false, err
	}
	return true, nil
}

func newConfigTypeError(expected string) error {
	return &configTypeError{expected: expected}
}

// configTypeError is returned when configuration type assertion fails.
type configTypeError struct {
	expected string
}

func (e *configTypeError) Error() string {
	return "invalid configuration type: expected " + e.expected
}
