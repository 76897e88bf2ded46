package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// unsafePathChars matches characters not allowed in a scratch directory name.
var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScratchDir returns the crawl working directory for a seed under root.
// The URI digest keeps two seeds with the same name apart.
func ScratchDir(root string, seed domain.Seed) string {
	sum := sha256.Sum256([]byte(seed.URI))
	name := unsafePathChars.ReplaceAllString(seed.RepositoryName(), "_")
	return filepath.Join(root, name+"-"+hex.EncodeToString(sum[:4]))
}

// SimpleCrawler resolves a seed to the tip of a single branch.
type SimpleCrawler struct {
	vcs        domain.VersionControl
	scratchDir string
	branch     string
	logger     Logger
}

// NewSimpleCrawler creates a crawler that clones seeds under scratchDir and
// resolves branch, unless the seed names its own branch.
func NewSimpleCrawler(vcs domain.VersionControl, scratchDir, branch string, log Logger) *SimpleCrawler {
	if branch == "" {
		branch = domain.DefaultBranch
	}
	return &SimpleCrawler{
		vcs:        vcs,
		scratchDir: scratchDir,
		branch:     branch,
		logger:     log,
	}
}

// Crawl clones (or reuses) the seed's scratch working copy, fetches, checks
// out the branch, pulls and returns its tip.
func (c *SimpleCrawler) Crawl(ctx context.Context, seed domain.Seed) ([]domain.Commit, error) {
	wc, err := openScratch(ctx, c.vcs, c.scratchDir, seed)
	if err != nil {
		return nil, err
	}

	branch := seed.Branch
	if branch == "" {
		branch = c.branch
	}

	commit, err := tipOf(ctx, c.vcs, wc, seed, branch)
	if err != nil {
		return nil, &domain.DiscoveryError{Seed: seed, Err: err}
	}

	c.logger.Debug(ctx, "resolved branch tip", map[string]interface{}{
		"seed":   seed.URI,
		"branch": branch,
		"commit": commit.Hash,
	})

	return []domain.Commit{commit}, nil
}

// BranchesCrawler resolves a seed to the tip of every branch on its origin.
type BranchesCrawler struct {
	vcs        domain.VersionControl
	scratchDir string
	logger     Logger
}

// NewBranchesCrawler creates a crawler that reports every remote branch tip.
func NewBranchesCrawler(vcs domain.VersionControl, scratchDir string, log Logger) *BranchesCrawler {
	return &BranchesCrawler{
		vcs:        vcs,
		scratchDir: scratchDir,
		logger:     log,
	}
}

// Crawl returns one commit per distinct branch tip, in branch-name order.
// A branch that cannot be resolved is logged and left out.
func (c *BranchesCrawler) Crawl(ctx context.Context, seed domain.Seed) ([]domain.Commit, error) {
	wc, err := openScratch(ctx, c.vcs, c.scratchDir, seed)
	if err != nil {
		return nil, err
	}

	branches, err := c.vcs.Branches(ctx, wc)
	if err != nil {
		return nil, &domain.DiscoveryError{Seed: seed, Err: err}
	}

	seen := make(map[string]struct{}, len(branches))
	commits := make([]domain.Commit, 0, len(branches))
	for _, branch := range branches {
		commit, err := tipOf(ctx, c.vcs, wc, seed, branch)
		if err != nil {
			c.logger.Warn(ctx, "skipping unresolvable branch", map[string]interface{}{
				"seed":   seed.URI,
				"branch": branch,
				"error":  err.Error(),
			})
			continue
		}
		if _, dup := seen[commit.Hash]; dup {
			continue
		}
		seen[commit.Hash] = struct{}{}
		commits = append(commits, commit)
	}

	c.logger.Debug(ctx, "resolved branch tips", map[string]interface{}{
		"seed":     seed.URI,
		"branches": len(branches),
		"commits":  len(commits),
	})

	return commits, nil
}

// openScratch clones or reuses the seed's scratch working copy and fetches it.
func openScratch(
	ctx context.Context,
	vcs domain.VersionControl,
	root string,
	seed domain.Seed,
) (*domain.WorkingCopy, error) {
	wc, err := vcs.Clone(ctx, seed.URI, ScratchDir(root, seed))
	if err != nil {
		return nil, &domain.DiscoveryError{Seed: seed, Err: err}
	}
	if err := vcs.Fetch(ctx, wc); err != nil {
		return nil, &domain.DiscoveryError{Seed: seed, Err: err}
	}
	return wc, nil
}

// tipOf checks out branch, brings it level with origin and returns its tip commit.
func tipOf(
	ctx context.Context,
	vcs domain.VersionControl,
	wc *domain.WorkingCopy,
	seed domain.Seed,
	branch string,
) (domain.Commit, error) {
	if err := vcs.Checkout(ctx, wc, branch); err != nil {
		return domain.Commit{}, err
	}
	if err := vcs.Pull(ctx, wc); err != nil {
		return domain.Commit{}, err
	}
	hash, err := vcs.ResolveTip(ctx, wc)
	if err != nil {
		return domain.Commit{}, err
	}
	return domain.Commit{
		Hash: hash,
		Repository: domain.Repository{
			Name:     seed.RepositoryName(),
			URI:      seed.URI,
			CloneDir: wc.Dir,
		},
	}, nil
}
