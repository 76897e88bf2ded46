// Package domain defines the core business entities and interfaces for cadence.
package domain

import (
	"path"
	"strings"
	"time"
)

// DefaultBranch is the branch the simple crawler resolves when a seed does not name one.
const DefaultBranch = "main"

// DefaultScript is the build script invoked at the working-copy root.
const DefaultScript = "ci.sh"

// Build record data keys.
const (
	DataRunID      = "run_id"
	DataRule       = "rule"
	DataStdoutLog  = "stdout_log"
	DataStderrLog  = "stderr_log"
	DataStartedAt  = "started_at"
	DataFinishedAt = "finished_at"
	DataError      = "error"
)

// Seed identifies one source repository to monitor.
type Seed struct {
	// URI is the clone location of the repository.
	URI string `yaml:"uri" json:"uri"`

	// Name is a human-assignable label. Derived from URI when empty.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Branch overrides the branch the simple crawler resolves.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`
}

// RepositoryName returns the seed name, falling back to the URI's last path element.
func (s Seed) RepositoryName() string {
	if s.Name != "" {
		return s.Name
	}
	return NameFromURI(s.URI)
}

// NameFromURI derives a repository name from a clone URI:
//   - https://github.com/owner/repo.git -> repo
//   - git@github.com:owner/repo -> repo
//   - /srv/git/repo.git -> repo
func NameFromURI(uri string) string {
	u := strings.TrimRight(strings.TrimSpace(uri), "/")
	name := strings.TrimSuffix(path.Base(strings.ReplaceAll(u, ":", "/")), ".git")
	if name == "" || name == "." || name == "/" {
		return "repository"
	}
	return name
}

// Repository is a source location plus the path of its local working copy.
// CloneDir is empty until the repository has been cloned.
type Repository struct {
	Name     string
	URI      string
	CloneDir string
}

// Commit is an immutable revision of a repository. Hash is the sole identity key.
type Commit struct {
	Hash       string
	Repository Repository
}

// Equal reports whether two commits have the same hash.
func (c Commit) Equal(other Commit) bool {
	return c.Hash == other.Hash
}

// Short returns an abbreviated hash for logging.
func (c Commit) Short() string {
	if len(c.Hash) > 12 {
		return c.Hash[:12]
	}
	return c.Hash
}

// RepoDescriptor is the persisted view of the repository a build came from.
type RepoDescriptor struct {
	URI      string `json:"uri"`
	CloneDir string `json:"clonedir"`
}

// BuildRecord is the persisted state of one build attempt for one commit.
type BuildRecord struct {
	Commit string            `json:"commit"`
	Repo   RepoDescriptor    `json:"repo"`
	State  State             `json:"state"`
	Data   map[string]string `json:"data"`
}

// NewBuildRecord returns a record in state created for the given commit.
func NewBuildRecord(c Commit) *BuildRecord {
	return &BuildRecord{
		Commit: c.Hash,
		Repo: RepoDescriptor{
			URI:      c.Repository.URI,
			CloneDir: c.Repository.CloneDir,
		},
		State: StateCreated,
		Data:  map[string]string{},
	}
}

// Set stores a data value, allocating the bag if needed.
func (r *BuildRecord) Set(key, value string) {
	if r.Data == nil {
		r.Data = map[string]string{}
	}
	r.Data[key] = value
}

// SetTime stores a timestamp in RFC 3339 form.
func (r *BuildRecord) SetTime(key string, t time.Time) {
	r.Set(key, t.UTC().Format(time.RFC3339Nano))
}

// LedgerEntry is one key/record pair enumerated from the ledger.
type LedgerEntry struct {
	Key    string
	Record BuildRecord
}

// RuleKind selects a BuildRule variant.
type RuleKind string

// Rule kinds.
const (
	RuleSimple     RuleKind = "simple"
	RuleRepository RuleKind = "repository"
)

// RuleConfig configures one build rule.
type RuleConfig struct {
	Name string   `yaml:"name" json:"name"`
	Kind RuleKind `yaml:"kind" json:"kind"`

	// Pattern is a path.Match glob over the repository name (repository rules only).
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// Script overrides the build script for this rule.
	Script string `yaml:"script,omitempty" json:"script,omitempty"`
}

// CrawlerKind selects a Crawler variant.
type CrawlerKind string

// Crawler kinds.
const (
	CrawlerSimple   CrawlerKind = "simple"
	CrawlerBranches CrawlerKind = "branches"
)

// Outcome is the result of executing one build job.
type Outcome string

// Build outcomes.
const (
	OutcomeSkipped Outcome = "skipped"
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// RunSummary describes one orchestrator pass.
type RunSummary struct {
	RunID       string
	Seeds       int
	Commits     int
	Jobs        int
	Succeeded   int
	Failed      int
	Skipped     int
	Interrupted bool
	Duration    time.Duration
}
