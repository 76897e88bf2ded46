// Package domain defines the core business entities and interfaces for cadence.
// This package contains no external dependencies and represents the innermost layer
// of the CLEAN architecture.
package domain

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// Domain errors for version control, ledger and build operations.
var (
	// ErrClone indicates the repository could not be cloned or opened.
	ErrClone = errors.New("clone failed")

	// ErrRemoteMismatch indicates a reused working copy points at a different remote.
	ErrRemoteMismatch = errors.New("working copy origin does not match requested URI")

	// ErrFetch indicates fetching from the remote failed.
	ErrFetch = errors.New("fetch failed")

	// ErrPull indicates pulling into the working copy failed.
	ErrPull = errors.New("pull failed")

	// ErrCheckout indicates the requested ref could not be checked out.
	ErrCheckout = errors.New("checkout failed")

	// ErrResolveTip indicates HEAD could not be resolved to a revision.
	ErrResolveTip = errors.New("could not resolve tip revision")

	// ErrLedger indicates the build ledger could not be opened, read or written.
	// Ledger errors are fatal to a run.
	ErrLedger = errors.New("build ledger failure")

	// ErrRecordNotFound indicates no ledger entry exists for a commit hash.
	ErrRecordNotFound = errors.New("build record not found")

	// ErrInvalidTransition indicates a disallowed build state change.
	ErrInvalidTransition = errors.New("invalid build state transition")

	// ErrBuildFailed indicates the build process exited unsuccessfully.
	ErrBuildFailed = errors.New("build process failed")

	// ErrScriptNotFound indicates the build script does not exist in the working copy.
	ErrScriptNotFound = errors.New("build script not found")
)

// DiscoveryError reports that a seed could not be resolved into commits.
// The orchestrator skips the seed for this pass.
type DiscoveryError struct {
	Seed Seed
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for %s: %v", e.Seed.URI, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// WorkingCopy is a local checkout of a repository.
type WorkingCopy struct {
	// URI is the remote the working copy was cloned from.
	URI string

	// Dir is the working-copy root on disk.
	Dir string
}

// VersionControl clones and updates repositories. All operations block and may
// fail with an error wrapping one of ErrClone, ErrFetch, ErrPull, ErrCheckout
// or ErrResolveTip.
type VersionControl interface {
	// Clone clones uri into destDir, reusing destDir if it is already a clone of uri.
	Clone(ctx context.Context, uri, destDir string) (*WorkingCopy, error)

	// Fetch updates remote-tracking refs.
	Fetch(ctx context.Context, wc *WorkingCopy) error

	// Pull fast-forwards the checked-out branch.
	Pull(ctx context.Context, wc *WorkingCopy) error

	// Checkout checks out a branch name or a full commit hash.
	Checkout(ctx context.Context, wc *WorkingCopy, ref string) error

	// ResolveTip returns the hash HEAD points at.
	ResolveTip(ctx context.Context, wc *WorkingCopy) (string, error)

	// Branches lists the remote branch names known to the working copy.
	Branches(ctx context.Context, wc *WorkingCopy) ([]string, error)
}

// ProcessRunner executes a build script inside a working copy.
type ProcessRunner interface {
	// Run executes script with dir as working directory, appending standard
	// output and standard error to the given log files. A non-zero exit
	// returns an error wrapping ErrBuildFailed.
	Run(ctx context.Context, dir, script, stdoutPath, stderrPath string) error
}

// Ledger is the durable mapping from commit hash to its latest build record.
type Ledger interface {
	// WasBuilt reports whether the commit's latest record is a completed success.
	WasBuilt(ctx context.Context, hash string) (bool, error)

	// SaveBuild atomically overwrites the record for record.Commit.
	SaveBuild(ctx context.Context, record *BuildRecord) error

	// Lookup returns the record for hash or ErrRecordNotFound.
	Lookup(ctx context.Context, hash string) (*BuildRecord, error)

	// AllBuilds enumerates every entry in store key order. Each call opens a fresh cursor.
	AllBuilds(ctx context.Context) iter.Seq2[LedgerEntry, error]

	// Close releases the underlying store.
	Close() error
}

// Crawler discovers the commits of a seed that are available to build.
type Crawler interface {
	// Crawl resolves seed into zero or more commits. Failures are returned
	// as *DiscoveryError.
	Crawl(ctx context.Context, seed Seed) ([]Commit, error)
}

// Build is a runnable job bound to one commit.
type Build interface {
	// Commit returns the commit this job builds.
	Commit() Commit

	// Execute drives the job to a terminal state. Only ledger failures are
	// returned; build failures are recorded and reported via the outcome.
	Execute(ctx context.Context) (Outcome, error)
}

// BuildRule decides whether it applies to a commit and produces its job.
type BuildRule interface {
	// Name identifies the rule in logs and build records.
	Name() string

	// Match reports whether the rule applies to commit.
	Match(commit Commit) bool

	// Get returns a job for commit.
	Get(commit Commit) Build
}

// Metrics records orchestrator activity.
type Metrics interface {
	DiscoveredCommits(n int)
	DiscoveryFailed(seed Seed)
	BuildFinished(outcome Outcome)
	RunFinished(summary *RunSummary)
}

// BuildReport is one row of the ledger listing.
type BuildReport struct {
	State      State
	Commit     string
	Repository string
}

// ReportWriter renders ledger listings and run results.
type ReportWriter interface {
	WriteBuilds(rows []BuildReport) error
	WriteRecord(record *BuildRecord) error
	WriteSummary(summary *RunSummary) error
}
