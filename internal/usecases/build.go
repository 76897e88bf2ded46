package usecases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// Build directory layout under BuildEnv.BuildRoot/<hash>/.
const (
	SourceDirName = "src"
	StdoutLogName = "stdout.log"
	StderrLogName = "stderr.log"
)

// BuildEnv holds the collaborators every build job shares.
type BuildEnv struct {
	Ledger domain.Ledger
	VCS    domain.VersionControl
	Runner domain.ProcessRunner
	Logger Logger

	// BuildRoot contains one directory per commit hash, distinct from the crawl scratch root.
	BuildRoot string

	// RunID tags the records written during one orchestrator pass.
	RunID string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *BuildEnv) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Executor drives one build job through created -> running -> success|error,
// persisting every transition to the ledger.
type Executor struct {
	env    *BuildEnv
	commit domain.Commit
	rule   string
	script string
	record *domain.BuildRecord
}

// NewExecutor binds a build job to commit.
func NewExecutor(env *BuildEnv, commit domain.Commit, rule, script string) *Executor {
	return &Executor{
		env:    env,
		commit: commit,
		rule:   rule,
		script: script,
	}
}

// Commit returns the commit this job builds.
func (e *Executor) Commit() domain.Commit {
	return e.commit
}

// Rule returns the name of the rule that produced this job.
func (e *Executor) Rule() string {
	return e.rule
}

// Record returns the record of the last Execute call, or nil if it was skipped.
func (e *Executor) Record() *domain.BuildRecord {
	return e.record
}

// Dir returns the build directory of this job. The working copy lives in its
// src subdirectory and the logs sit beside it.
func (e *Executor) Dir() string {
	return filepath.Join(e.env.BuildRoot, e.commit.Hash)
}

// Execute runs the job once. Build failures, including panics, end in state
// error and are not returned; only ledger failures are. The job ignores
// cancellation of ctx so that an attempt always reaches a terminal state.
func (e *Executor) Execute(ctx context.Context) (domain.Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	fields := map[string]interface{}{
		"commit":     e.commit.Hash,
		"repository": e.commit.Repository.URI,
		"rule":       e.rule,
	}

	built, err := e.env.Ledger.WasBuilt(ctx, e.commit.Hash)
	if err != nil {
		return "", ledgerError(err)
	}
	if built {
		e.env.Logger.Debug(ctx, "commit already built, skipping", fields)
		return domain.OutcomeSkipped, nil
	}

	dir := e.Dir()
	rec := domain.NewBuildRecord(e.commit)
	rec.Repo.CloneDir = filepath.Join(dir, SourceDirName)
	rec.Set(domain.DataRule, e.rule)
	rec.Set(domain.DataStdoutLog, filepath.Join(dir, StdoutLogName))
	rec.Set(domain.DataStderrLog, filepath.Join(dir, StderrLogName))
	if e.env.RunID != "" {
		rec.Set(domain.DataRunID, e.env.RunID)
	}
	e.record = rec

	if err := e.save(ctx, rec); err != nil {
		return "", err
	}

	if err := e.advance(ctx, rec, domain.StateRunning); err != nil {
		return "", err
	}
	e.env.Logger.Info(ctx, "build started", fields)

	bodyErr := e.run(ctx, rec)
	rec.SetTime(domain.DataFinishedAt, e.env.now())

	if bodyErr != nil {
		rec.Set(domain.DataError, bodyErr.Error())
		if err := e.advance(ctx, rec, domain.StateError); err != nil {
			return "", err
		}
		e.env.Logger.Error(ctx, "build failed", bodyErr, fields)
		return domain.OutcomeError, nil
	}

	if err := e.advance(ctx, rec, domain.StateSuccess); err != nil {
		return "", err
	}
	e.env.Logger.Info(ctx, "build succeeded", fields)
	return domain.OutcomeSuccess, nil
}

// run performs the side effects of the build. It is only entered once the
// record has been persisted as running.
func (e *Executor) run(ctx context.Context, rec *domain.BuildRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build panicked: %v", r)
		}
	}()

	if err := os.MkdirAll(e.Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to prepare build directory: %w", err)
	}

	wc, err := e.env.VCS.Clone(ctx, e.commit.Repository.URI, rec.Repo.CloneDir)
	if err != nil {
		return err
	}
	if err := e.env.VCS.Fetch(ctx, wc); err != nil {
		return err
	}
	if err := e.env.VCS.Checkout(ctx, wc, e.commit.Hash); err != nil {
		return err
	}

	return e.env.Runner.Run(ctx, wc.Dir, e.script,
		rec.Data[domain.DataStdoutLog], rec.Data[domain.DataStderrLog])
}

func (e *Executor) advance(ctx context.Context, rec *domain.BuildRecord, to domain.State) error {
	if err := rec.Advance(to); err != nil {
		return err
	}
	if to == domain.StateRunning {
		rec.SetTime(domain.DataStartedAt, e.env.now())
	}
	return e.save(ctx, rec)
}

func (e *Executor) save(ctx context.Context, rec *domain.BuildRecord) error {
	if err := e.env.Ledger.SaveBuild(ctx, rec); err != nil {
		return ledgerError(err)
	}
	return nil
}

// ledgerError makes sure a ledger failure carries domain.ErrLedger.
func ledgerError(err error) error {
	if errors.Is(err, domain.ErrLedger) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrLedger, err)
}
