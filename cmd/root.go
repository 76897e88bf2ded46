// Package cmd provides the CLI commands for cadence.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
	"github.com/MyCarrier-DevOps/cadence/internal/usecases"
)

// Logger defines the logging interface used by the commands.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// MetricsRecorder is a domain.Metrics that can be flushed to a textfile.
type MetricsRecorder interface {
	domain.Metrics
	WriteTextfile(path string) error
}

// Dependencies holds all injectable dependencies for the commands.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger that adds fields to every entry.
	LoggerFactory func(fields map[string]interface{}) Logger

	// ConfigLoader loads application settings.
	ConfigLoader func() (*AppConfig, error)

	// DocumentLoader loads the seeds document for cfg.
	DocumentLoader func(ctx context.Context, cfg *AppConfig) (*SeedsDocument, error)

	// DocumentInitializer writes a default seeds document at path.
	DocumentInitializer func(path string) error

	// SeedAdder appends seed to the seeds document at path and reports
	// whether it was added.
	SeedAdder func(path string, seed domain.Seed) (bool, error)

	// LedgerFactory opens the build ledger.
	LedgerFactory func(cfg *AppConfig, readOnly bool) (domain.Ledger, error)

	// VCSFactory creates the version control adapter.
	VCSFactory func(log Logger) domain.VersionControl

	// RunnerFactory creates the build process runner for a run.
	RunnerFactory func(runID string) domain.ProcessRunner

	// MetricsFactory creates the metrics recorder. May be nil.
	MetricsFactory func() MetricsRecorder

	// OutputWriterFactory creates a ReportWriter on out.
	OutputWriterFactory func(out io.Writer) domain.ReportWriter

	// RunIDGenerator returns a unique identifier for each run.
	RunIDGenerator func() string

	// Stdout is the writer for command output.
	Stdout io.Writer

	// Stderr is the writer for standard error (for warnings/errors).
	Stderr io.Writer
}

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	// ConfigFile is the seeds document path.
	ConfigFile string

	// WorkDir holds the ledger, build directories and crawl scratch space.
	WorkDir string

	// LedgerPath is the ledger database file.
	LedgerPath string

	// LedgerTimeout bounds the wait for the ledger file lock.
	LedgerTimeout time.Duration

	// BuildRoot holds one directory per built commit.
	BuildRoot string

	// CrawlRoot holds the crawler's scratch working copies.
	CrawlRoot string

	// Script is the default build script.
	Script string

	// Branch is the default branch for the simple crawler.
	Branch string

	// Crawler is the default crawler kind.
	Crawler domain.CrawlerKind

	// MetricsTextfile, when set, receives the run metrics.
	MetricsTextfile string

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string

	// Source is passed back to the DocumentLoader.
	Source any
}

// SeedsDocument is the set of seeds and rules one run works from.
type SeedsDocument struct {
	Crawler domain.CrawlerKind  `yaml:"crawler,omitempty"`
	Seeds   []domain.Seed       `yaml:"seeds"`
	Rules   []domain.RuleConfig `yaml:"rules,omitempty"`
}

// Command-line flags.
var verbose bool

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for cadence.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cadence",
		Short: "Build every new commit of a set of Git repositories",
		Long: `cadence is a minimal continuous-delivery orchestrator.

Each run crawls the configured seed repositories, matches every discovered
commit against the build rules and runs the build script for commits that
have not been built successfully before. Outcomes are kept in a local
ledger so that a commit is built at most once, even across restarts.

Running cadence without a subcommand performs one run.

Examples:
  # Create a seeds file and add a repository
  CADENCE_CONFIG=seeds.yaml cadence init
  CADENCE_CONFIG=seeds.yaml cadence seed add https://example.com/org/api.git

  # Run once
  CADENCE_CONFIG=seeds.yaml cadence run

  # Inspect the ledger
  cadence list
  cadence show 3f9a2c1`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			applyVerbose(stderrOf(deps))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, deps)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose/debug logging")

	rootCmd.AddCommand(
		newRunCmd(deps),
		newListCmd(deps),
		newShowCmd(deps),
		newInitCmd(deps),
		newSeedCmd(deps),
		newConfigCmd(deps),
	)

	return rootCmd
}

func newRunCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          "run",
		Short:        "Crawl the seeds and build new commits once",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, deps)
		},
	}
}

// runOnce performs one orchestrator pass with injected dependencies.
func runOnce(cmd *cobra.Command, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	ctx := commandContext(cmd)
	runID := deps.RunIDGenerator()
	log := deps.LoggerFactory(map[string]interface{}{"run_id": runID})

	cfg, err := deps.ConfigLoader()
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return fmt.Errorf("configuration error: %w", err)
	}

	doc, err := deps.DocumentLoader(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to load seeds", err, map[string]interface{}{
			"config": cfg.ConfigFile,
		})
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := deps.LedgerFactory(cfg, false)
	if err != nil {
		log.Error(ctx, "failed to open ledger", err, map[string]interface{}{
			"path": cfg.LedgerPath,
		})
		return fmt.Errorf("ledger error: %w", err)
	}
	defer closeLedger(ctx, store, log)

	env := &usecases.BuildEnv{
		Ledger:    store,
		VCS:       deps.VCSFactory(log),
		Runner:    deps.RunnerFactory(runID),
		Logger:    log,
		BuildRoot: cfg.BuildRoot,
		RunID:     runID,
	}

	crawler, err := newCrawler(doc.Crawler, cfg, env.VCS, log)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	rules, err := usecases.NewRules(doc.Rules, cfg.Script, env)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	var recorder MetricsRecorder
	if deps.MetricsFactory != nil {
		recorder = deps.MetricsFactory()
	}
	var metrics domain.Metrics
	if recorder != nil {
		metrics = recorder
	}

	summary, runErr := usecases.NewOrchestrator(runID, doc.Seeds, crawler, rules, metrics, log).Run(ctx)

	if recorder != nil && cfg.MetricsTextfile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn(ctx, "failed to write metrics", map[string]interface{}{
				"path":  cfg.MetricsTextfile,
				"error": err.Error(),
			})
		}
	}

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}

	writer := deps.OutputWriterFactory(stdoutOf(deps))
	if err := writer.WriteSummary(summary); err != nil {
		log.Error(ctx, "failed to write output", err, nil)
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}

// newCrawler selects the crawler for kind, falling back to the configured default.
func newCrawler(
	kind domain.CrawlerKind,
	cfg *AppConfig,
	vcs domain.VersionControl,
	log Logger,
) (domain.Crawler, error) {
	if kind == "" {
		kind = cfg.Crawler
	}
	switch kind {
	case "", domain.CrawlerSimple:
		return usecases.NewSimpleCrawler(vcs, cfg.CrawlRoot, cfg.Branch, log), nil
	case domain.CrawlerBranches:
		return usecases.NewBranchesCrawler(vcs, cfg.CrawlRoot, log), nil
	default:
		return nil, fmt.Errorf("unknown crawler %q", kind)
	}
}

func closeLedger(ctx context.Context, store domain.Ledger, log Logger) {
	if err := store.Close(); err != nil {
		log.Warn(ctx, "failed to close ledger", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Execute runs the root command. SIGINT and SIGTERM request a cooperative
// shutdown: the build in progress finishes and no further build starts.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// applyVerbose sets the log level based on the verbose flag (best-effort).
func applyVerbose(stderr io.Writer) {
	if !verbose {
		return
	}
	if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
		// Best-effort warning: ignore fprintf error as this is non-critical
		writeWarningf(stderr, "warning: could not set log level: %v\n", err)
	}
}

func stdoutOf(deps *Dependencies) io.Writer {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}

func stderrOf(deps *Dependencies) io.Writer {
	if deps != nil && deps.Stderr != nil {
		return deps.Stderr
	}
	return os.Stderr
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		// Intentionally ignored: no recovery action for failed stderr writes
		return
	}
}
