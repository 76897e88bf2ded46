package usecases

import (
	"context"
	"errors"
	"iter"
	"maps"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
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

// mockLedger is an in-memory domain.Ledger that keeps every saved state.
type mockLedger struct {
	records map[string]domain.BuildRecord
	history map[string][]domain.State

	wasBuiltErr error
	saveErr     error
	// failSaveOn makes SaveBuild fail when the record reaches this state.
	failSaveOn domain.State
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		records: map[string]domain.BuildRecord{},
		history: map[string][]domain.State{},
	}
}

func (m *mockLedger) WasBuilt(_ context.Context, hash string) (bool, error) {
	if m.wasBuiltErr != nil {
		return false, m.wasBuiltErr
	}
	rec, ok := m.records[hash]
	return ok && rec.State == domain.StateSuccess, nil
}

func (m *mockLedger) SaveBuild(_ context.Context, record *domain.BuildRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.failSaveOn != "" && record.State == m.failSaveOn {
		return errors.New("disk full")
	}
	stored := *record
	stored.Data = maps.Clone(record.Data)
	m.records[record.Commit] = stored
	m.history[record.Commit] = append(m.history[record.Commit], record.State)
	return nil
}

func (m *mockLedger) Lookup(_ context.Context, hash string) (*domain.BuildRecord, error) {
	rec, ok := m.records[hash]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &rec, nil
}

func (m *mockLedger) AllBuilds(_ context.Context) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		keys := make([]string, 0, len(m.records))
		for k := range m.records {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !yield(domain.LedgerEntry{Key: k, Record: m.records[k]}, nil) {
				return
			}
		}
	}
}

func (m *mockLedger) Close() error { return nil }

// mockVCS implements domain.VersionControl over a table of branch tips.
type mockVCS struct {
	// tips maps "uri#branch" to the tip hash.
	tips map[string]string
	// branches maps uri to its remote branches.
	branches map[string][]string

	cloneErr    map[string]error
	fetchErr    map[string]error
	checkoutErr map[string]error

	checkedOut map[string]string
	clones     []string
}

func newMockVCS() *mockVCS {
	return &mockVCS{
		tips:        map[string]string{},
		branches:    map[string][]string{},
		cloneErr:    map[string]error{},
		fetchErr:    map[string]error{},
		checkoutErr: map[string]error{},
		checkedOut:  map[string]string{},
	}
}

func (m *mockVCS) Clone(_ context.Context, uri, destDir string) (*domain.WorkingCopy, error) {
	if err := m.cloneErr[uri]; err != nil {
		return nil, err
	}
	m.clones = append(m.clones, destDir)
	return &domain.WorkingCopy{URI: uri, Dir: destDir}, nil
}

func (m *mockVCS) Fetch(_ context.Context, wc *domain.WorkingCopy) error {
	return m.fetchErr[wc.URI]
}

func (m *mockVCS) Pull(_ context.Context, _ *domain.WorkingCopy) error {
	return nil
}

func (m *mockVCS) Checkout(_ context.Context, wc *domain.WorkingCopy, ref string) error {
	if err := m.checkoutErr[wc.URI+"#"+ref]; err != nil {
		return err
	}
	m.checkedOut[wc.Dir] = ref
	return nil
}

func (m *mockVCS) ResolveTip(_ context.Context, wc *domain.WorkingCopy) (string, error) {
	ref := m.checkedOut[wc.Dir]
	if tip, ok := m.tips[wc.URI+"#"+ref]; ok {
		return tip, nil
	}
	return "", domain.ErrResolveTip
}

func (m *mockVCS) Branches(_ context.Context, wc *domain.WorkingCopy) ([]string, error) {
	return m.branches[wc.URI], nil
}

// mockRunner implements domain.ProcessRunner, keyed by the commit hash
// encoded in the build directory (<root>/<hash>/src).
type mockRunner struct {
	fail  map[string]error
	calls []string
	// onRun runs before the build returns, e.g. to request shutdown mid-build.
	onRun func(hash string)
	// panicOn makes the build panic for this hash.
	panicOn string
}

func newMockRunner() *mockRunner {
	return &mockRunner{fail: map[string]error{}}
}

func (m *mockRunner) Run(_ context.Context, dir, _, _, _ string) error {
	hash := filepath.Base(filepath.Dir(dir))
	m.calls = append(m.calls, hash)
	if m.onRun != nil {
		m.onRun(hash)
	}
	if hash == m.panicOn {
		panic("segfault in build tool")
	}
	return m.fail[hash]
}

func (m *mockRunner) count(hash string) int {
	n := 0
	for _, c := range m.calls {
		if c == hash {
			n++
		}
	}
	return n
}

// mockMetrics records what the orchestrator reports.
type mockMetrics struct {
	discovered int
	failures   []string
	outcomes   []domain.Outcome
	summary    *domain.RunSummary
}

func (m *mockMetrics) DiscoveredCommits(n int)          { m.discovered = n }
func (m *mockMetrics) DiscoveryFailed(seed domain.Seed) { m.failures = append(m.failures, seed.URI) }
func (m *mockMetrics) BuildFinished(o domain.Outcome)   { m.outcomes = append(m.outcomes, o) }
func (m *mockMetrics) RunFinished(s *domain.RunSummary) { m.summary = s }

// stubCrawler returns fixed commits per seed URI.
type stubCrawler struct {
	commits map[string][]domain.Commit
	errs    map[string]error
}

func (s *stubCrawler) Crawl(_ context.Context, seed domain.Seed) ([]domain.Commit, error) {
	if err := s.errs[seed.URI]; err != nil {
		return nil, err
	}
	return s.commits[seed.URI], nil
}

// stubRule matches from a fixed predicate and records Get calls.
type stubRule struct {
	name  string
	match func(domain.Commit) bool
	env   *BuildEnv
	gets  []string
}

func (s *stubRule) Name() string               { return s.name }
func (s *stubRule) Match(c domain.Commit) bool { return s.match(c) }
func (s *stubRule) Get(c domain.Commit) domain.Build {
	s.gets = append(s.gets, c.Hash)
	return NewExecutor(s.env, c, s.name, domain.DefaultScript)
}

func commitOf(hash, uri string) domain.Commit {
	return domain.Commit{
		Hash: hash,
		Repository: domain.Repository{
			Name: domain.NameFromURI(uri),
			URI:  uri,
		},
	}
}
