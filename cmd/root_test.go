package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/MyCarrier-DevOps/cadence/internal/adapters/ledger"
	"github.com/MyCarrier-DevOps/cadence/internal/adapters/output"
	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu     sync.Mutex
	fields []map[string]interface{}
	errors []string
	warns  []string
}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]interface{})  {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]interface{}) {}

func (m *mockLogger) Warn(_ context.Context, msg string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func (m *mockLogger) Error(_ context.Context, msg string, _ error, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// fakeVCS resolves every branch of a URI to one tip.
type fakeVCS struct {
	tips map[string]string
}

func (f *fakeVCS) Clone(_ context.Context, uri, destDir string) (*domain.WorkingCopy, error) {
	if _, ok := f.tips[uri]; !ok {
		return nil, domain.ErrClone
	}
	return &domain.WorkingCopy{URI: uri, Dir: destDir}, nil
}

func (f *fakeVCS) Fetch(context.Context, *domain.WorkingCopy) error            { return nil }
func (f *fakeVCS) Pull(context.Context, *domain.WorkingCopy) error             { return nil }
func (f *fakeVCS) Checkout(context.Context, *domain.WorkingCopy, string) error { return nil }

func (f *fakeVCS) ResolveTip(_ context.Context, wc *domain.WorkingCopy) (string, error) {
	return f.tips[wc.URI], nil
}

func (f *fakeVCS) Branches(context.Context, *domain.WorkingCopy) ([]string, error) {
	return []string{"main", "release"}, nil
}

// fakeRunner records the working copies it was asked to build.
type fakeRunner struct {
	dirs []string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, dir, _, _, _ string) error {
	f.dirs = append(f.dirs, dir)
	return f.err
}

// fakeRecorder is a MetricsRecorder that remembers where it was written.
type fakeRecorder struct {
	outcomes []domain.Outcome
	written  string
	err      error
}

func (f *fakeRecorder) DiscoveredCommits(int)          {}
func (f *fakeRecorder) DiscoveryFailed(domain.Seed)    {}
func (f *fakeRecorder) RunFinished(*domain.RunSummary) {}

func (f *fakeRecorder) BuildFinished(o domain.Outcome) { f.outcomes = append(f.outcomes, o) }

func (f *fakeRecorder) WriteTextfile(path string) error {
	f.written = path
	return f.err
}

// testEnv bundles the fakes behind a Dependencies value.
type testEnv struct {
	deps     *Dependencies
	cfg      *AppConfig
	doc      *SeedsDocument
	vcs      *fakeVCS
	runner   *fakeRunner
	recorder *fakeRecorder
	log      *mockLogger
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	verbose = false
	t.Cleanup(func() { verbose = false })

	work := t.TempDir()
	e := &testEnv{
		cfg: &AppConfig{
			ConfigFile:    filepath.Join(work, "seeds.yaml"),
			WorkDir:       work,
			LedgerPath:    filepath.Join(work, "ledger.db"),
			LedgerTimeout: time.Second,
			BuildRoot:     filepath.Join(work, "builds"),
			CrawlRoot:     filepath.Join(work, "crawl"),
			Script:        domain.DefaultScript,
			Branch:        domain.DefaultBranch,
			Crawler:       domain.CrawlerSimple,
			LogLevel:      "info",
		},
		doc:      &SeedsDocument{Seeds: []domain.Seed{{URI: "repoA"}}},
		vcs:      &fakeVCS{tips: map[string]string{"repoA": "abc123"}},
		runner:   &fakeRunner{},
		recorder: &fakeRecorder{},
		log:      &mockLogger{},
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
	}

	e.deps = &Dependencies{
		LoggerFactory: func(fields map[string]interface{}) Logger {
			e.log.fields = append(e.log.fields, fields)
			return e.log
		},
		ConfigLoader: func() (*AppConfig, error) { return e.cfg, nil },
		DocumentLoader: func(context.Context, *AppConfig) (*SeedsDocument, error) {
			return e.doc, nil
		},
		DocumentInitializer: func(string) error { return nil },
		SeedAdder:           func(string, domain.Seed) (bool, error) { return true, nil },
		LedgerFactory: func(cfg *AppConfig, readOnly bool) (domain.Ledger, error) {
			return ledger.Open(cfg.LedgerPath, ledger.Options{Timeout: cfg.LedgerTimeout, ReadOnly: readOnly})
		},
		VCSFactory:          func(Logger) domain.VersionControl { return e.vcs },
		RunnerFactory:       func(string) domain.ProcessRunner { return e.runner },
		MetricsFactory:      func() MetricsRecorder { return e.recorder },
		OutputWriterFactory: func(out io.Writer) domain.ReportWriter { return output.NewWriterWithOutput(out) },
		RunIDGenerator:      func() string { return "run-1" },
		Stdout:              e.stdout,
		Stderr:              e.stderr,
	}
	return e
}

func (e *testEnv) execute(args ...string) error {
	if args == nil {
		args = []string{}
	}
	root := NewRootCmdWithDeps(e.deps)
	root.SetArgs(args)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	return root.Execute()
}

func TestRun_BuildsNewCommit(t *testing.T) {
	e := newTestEnv(t)

	err := e.execute("run")

	require.NoError(t, err)
	assert.Equal(t, "run run-1 complete: 1 commits, 1 jobs, 1 succeeded, 0 failed, 0 skipped\n", e.stdout.String())
	assert.Equal(t, []string{filepath.Join(e.cfg.BuildRoot, "abc123", "src")}, e.runner.dirs)
	assert.Equal(t, []domain.Outcome{domain.OutcomeSuccess}, e.recorder.outcomes)
	assert.Equal(t, map[string]interface{}{"run_id": "run-1"}, e.log.fields[0])

	store, err := ledger.Open(e.cfg.LedgerPath, ledger.Options{ReadOnly: true})
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Lookup(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuccess, rec.State)
}

func TestRun_IsRootDefault(t *testing.T) {
	e := newTestEnv(t)

	require.NoError(t, e.execute())

	assert.Len(t, e.runner.dirs, 1)
}

func TestRun_SecondRunSkips(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.execute("run"))
	e.stdout.Reset()

	require.NoError(t, e.execute("run"))

	assert.Len(t, e.runner.dirs, 1)
	assert.Contains(t, e.stdout.String(), "0 succeeded, 0 failed, 1 skipped")
}

func TestRun_BuildFailureIsNotFatal(t *testing.T) {
	e := newTestEnv(t)
	e.runner.err = domain.ErrBuildFailed

	err := e.execute("run")

	require.NoError(t, err)
	assert.Contains(t, e.stdout.String(), "0 succeeded, 1 failed")
}

func TestRun_BranchesCrawler(t *testing.T) {
	e := newTestEnv(t)
	e.doc.Crawler = domain.CrawlerBranches

	require.NoError(t, e.execute("run"))

	// main and release share a tip, so one job results
	assert.Contains(t, e.stdout.String(), "1 commits, 1 jobs")
}

func TestRun_UsesRules(t *testing.T) {
	e := newTestEnv(t)
	e.doc.Rules = []domain.RuleConfig{{Name: "others", Kind: domain.RuleRepository, Pattern: "other-*"}}

	require.NoError(t, e.execute("run"))

	assert.Empty(t, e.runner.dirs)
	assert.Contains(t, e.stdout.String(), "1 commits, 0 jobs")
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.MetricsTextfile = filepath.Join(t.TempDir(), "cadence.prom")

	require.NoError(t, e.execute("run"))

	assert.Equal(t, e.cfg.MetricsTextfile, e.recorder.written)
}

func TestRun_MetricsWriteFailureOnlyWarns(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.MetricsTextfile = "/unwritable/cadence.prom"
	e.recorder.err = errors.New("permission denied")

	require.NoError(t, e.execute("run"))

	assert.Equal(t, []string{"failed to write metrics"}, e.log.warns)
}

func TestRun_WithoutMetrics(t *testing.T) {
	e := newTestEnv(t)
	e.deps.MetricsFactory = nil
	e.cfg.MetricsTextfile = filepath.Join(t.TempDir(), "cadence.prom")

	require.NoError(t, e.execute("run"))

	assert.Empty(t, e.recorder.written)
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(e *testEnv)
		wantErr string
	}{
		{
			name: "config fails",
			setup: func(e *testEnv) {
				e.deps.ConfigLoader = func() (*AppConfig, error) { return nil, errors.New("bad env") }
			},
			wantErr: "configuration error: bad env",
		},
		{
			name: "seeds fail",
			setup: func(e *testEnv) {
				e.deps.DocumentLoader = func(context.Context, *AppConfig) (*SeedsDocument, error) {
					return nil, errors.New("no seeds")
				}
			},
			wantErr: "configuration error: no seeds",
		},
		{
			name:    "unknown crawler",
			setup:   func(e *testEnv) { e.doc.Crawler = "deep" },
			wantErr: `configuration error: unknown crawler "deep"`,
		},
		{
			name:    "unknown rule kind",
			setup:   func(e *testEnv) { e.doc.Rules = []domain.RuleConfig{{Name: "x", Kind: "magic"}} },
			wantErr: "configuration error",
		},
		{
			name: "ledger cannot open",
			setup: func(e *testEnv) {
				e.deps.LedgerFactory = func(*AppConfig, bool) (domain.Ledger, error) {
					return nil, domain.ErrLedger
				}
			},
			wantErr: "ledger error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			tt.setup(e)

			err := e.execute("run")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, e.runner.dirs)
		})
	}
}

func TestRun_LedgerLockedByAnotherProcess(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.LedgerTimeout = 50 * time.Millisecond
	require.NoError(t, os.MkdirAll(filepath.Dir(e.cfg.LedgerPath), 0o755))
	holder, err := bolt.Open(e.cfg.LedgerPath, 0o600, nil)
	require.NoError(t, err)
	defer holder.Close()

	err = e.execute("run")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedger)
	assert.Empty(t, e.runner.dirs)
}

func TestRun_Interrupted(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := NewRootCmdWithDeps(e.deps)
	root.SetArgs([]string{"run"})
	err := root.ExecuteContext(ctx)

	require.NoError(t, err)
	assert.Empty(t, e.runner.dirs)
	assert.Equal(t, "run run-1 interrupted: 1 commits, 1 jobs, 0 succeeded, 0 failed, 0 skipped\n", e.stdout.String())
}

func TestRun_NilDependencies(t *testing.T) {
	root := NewRootCmdWithDeps(nil)
	root.SetArgs([]string{"run"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependencies not configured")
}

func TestVerboseSetsDebugLevel(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("LOG_LEVEL", "info")

	require.NoError(t, e.execute("--verbose", "list"))

	assert.Equal(t, "debug", os.Getenv("LOG_LEVEL"))
}

func TestWriteWarningf(t *testing.T) {
	var buf bytes.Buffer
	writeWarningf(&buf, "warning: %s\n", "careful")
	assert.Equal(t, "warning: careful\n", buf.String())
}
