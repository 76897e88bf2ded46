// Package git provides the version control adapter for cadence.
// This package implements the domain.VersionControl interface using go-git/v5.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// DefaultRemote is the remote every working copy is cloned with.
const DefaultRemote = "origin"

// Logger defines the logging interface for the git adapter.
// This interface enables dependency injection and testability.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// GoGit implements domain.VersionControl using go-git/v5.
type GoGit struct {
	logger Logger
}

// NewGoGit creates a new go-git backed version control adapter.
func NewGoGit(log Logger) *GoGit {
	return &GoGit{logger: log}
}

// fullHashPattern matches a full SHA-1 (40) or SHA-256 (64) commit hash.
var fullHashPattern = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// Clone clones uri into destDir. An existing repository at destDir is reused
// without cloning again, provided its origin remote points at uri.
func (g *GoGit) Clone(ctx context.Context, uri, destDir string) (*domain.WorkingCopy, error) {
	repo, err := git.PlainOpen(destDir)
	switch {
	case err == nil:
		if err := verifyOrigin(repo, uri); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrClone, destDir, err)
		}
		g.logger.Debug(ctx, "reusing existing working copy", map[string]interface{}{
			"uri": uri,
			"dir": destDir,
		})
		return &domain.WorkingCopy{URI: uri, Dir: destDir}, nil
	case !errors.Is(err, git.ErrRepositoryNotExists):
		return nil, fmt.Errorf("%w: failed to open %s: %w", domain.ErrClone, destDir, err)
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrClone, err)
	}

	g.logger.Debug(ctx, "cloning repository", map[string]interface{}{
		"uri": uri,
		"dir": destDir,
	})

	_, err = git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL:        uri,
		RemoteName: DefaultRemote,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrClone, uri, err)
	}

	return &domain.WorkingCopy{URI: uri, Dir: destDir}, nil
}

// Fetch updates the remote-tracking refs of the working copy.
func (g *GoGit) Fetch(ctx context.Context, wc *domain.WorkingCopy) error {
	repo, err := open(wc)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: DefaultRemote,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %s: %w", domain.ErrFetch, wc.URI, err)
	}
	return nil
}

// Pull updates the checked-out branch from its remote counterpart. Working
// copies are never committed to locally, so when the remote history was
// rewritten or rewound the branch is reset onto the remote-tracking ref.
func (g *GoGit) Pull(ctx context.Context, wc *domain.WorkingCopy) error {
	repo, err := open(wc)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPull, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("%w: failed to get HEAD: %w", domain.ErrPull, err)
	}
	if !head.Name().IsBranch() {
		return fmt.Errorf("%w: HEAD is detached in %s", domain.ErrPull, wc.Dir)
	}
	branch := head.Name().Short()

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPull, err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    DefaultRemote,
		ReferenceName: head.Name(),
		SingleBranch:  true,
		Force:         true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) && !errors.Is(err, git.ErrNonFastForwardUpdate) {
		return fmt.Errorf("%w: %s: %w", domain.ErrPull, branch, err)
	}

	remote, err := repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemote, branch), true)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPull, branch, err)
	}
	local, err := repo.Head()
	if err != nil {
		return fmt.Errorf("%w: failed to get HEAD: %w", domain.ErrPull, err)
	}
	if local.Hash() == remote.Hash() {
		return nil
	}

	if err := wt.Reset(&git.ResetOptions{Commit: remote.Hash(), Mode: git.HardReset}); err != nil {
		return fmt.Errorf("%w: %s: reset to %s: %w", domain.ErrPull, branch, remote.Hash(), err)
	}

	g.logger.Warn(ctx, "branch diverged from origin, reset to remote", map[string]interface{}{
		"dir":    wc.Dir,
		"branch": branch,
		"from":   local.Hash().String(),
		"to":     remote.Hash().String(),
	})
	return nil
}

// Checkout checks out ref, which is either a full commit hash (detached HEAD)
// or a branch name. A branch that exists only on the remote is created locally.
func (g *GoGit) Checkout(ctx context.Context, wc *domain.WorkingCopy, ref string) error {
	repo, err := open(wc)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCheckout, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCheckout, err)
	}

	if fullHashPattern.MatchString(ref) {
		hash := plumbing.NewHash(ref)
		if hash.String() != ref {
			return fmt.Errorf("%w: commit %s: object format not supported", domain.ErrCheckout, ref)
		}
		if _, err := repo.CommitObject(hash); err != nil {
			return fmt.Errorf("%w: commit %s: %w", domain.ErrCheckout, ref, err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
			return fmt.Errorf("%w: commit %s: %w", domain.ErrCheckout, ref, err)
		}
		g.logger.Debug(ctx, "checked out commit", map[string]interface{}{
			"dir":    wc.Dir,
			"commit": ref,
		})
		return nil
	}

	local := plumbing.NewBranchReferenceName(ref)
	opts := &git.CheckoutOptions{Branch: local, Force: true}
	if _, err := repo.Reference(local, true); err != nil {
		remote, rerr := repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemote, ref), true)
		if rerr != nil {
			return fmt.Errorf("%w: branch %s: %w", domain.ErrCheckout, ref, rerr)
		}
		opts.Create = true
		opts.Hash = remote.Hash()
	}

	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("%w: branch %s: %w", domain.ErrCheckout, ref, err)
	}

	g.logger.Debug(ctx, "checked out branch", map[string]interface{}{
		"dir":     wc.Dir,
		"branch":  ref,
		"created": opts.Create,
	})
	return nil
}

// ResolveTip returns the full hash HEAD points at.
func (g *GoGit) ResolveTip(_ context.Context, wc *domain.WorkingCopy) (string, error) {
	repo, err := open(wc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrResolveTip, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrResolveTip, err)
	}
	return head.Hash().String(), nil
}

// Branches lists the branch names tracked under the origin remote, sorted.
func (g *GoGit) Branches(_ context.Context, wc *domain.WorkingCopy) ([]string, error) {
	repo, err := open(wc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrResolveTip, err)
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list references: %w", domain.ErrResolveTip, err)
	}
	defer refs.Close()

	prefix := DefaultRemote + "/"
	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsRemote() || ref.Type() != plumbing.HashReference {
			return nil
		}
		short := ref.Name().Short()
		if !strings.HasPrefix(short, prefix) {
			return nil
		}
		name := strings.TrimPrefix(short, prefix)
		if name == "HEAD" {
			return nil
		}
		branches = append(branches, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrResolveTip, err)
	}

	sort.Strings(branches)
	return branches, nil
}

func open(wc *domain.WorkingCopy) (*git.Repository, error) {
	if wc == nil || wc.Dir == "" {
		return nil, errors.New("working copy has no directory")
	}
	repo, err := git.PlainOpen(wc.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", wc.Dir, err)
	}
	return repo, nil
}

// verifyOrigin checks that the repository's origin remote points at uri.
func verifyOrigin(repo *git.Repository, uri string) error {
	remote, err := repo.Remote(DefaultRemote)
	if err != nil {
		return fmt.Errorf("%w: no %s remote: %w", domain.ErrRemoteMismatch, DefaultRemote, err)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return fmt.Errorf("%w: %s remote has no URLs configured", domain.ErrRemoteMismatch, DefaultRemote)
	}

	if normalizeRemote(urls[0]) != normalizeRemote(uri) {
		return fmt.Errorf("%w: have %s, want %s", domain.ErrRemoteMismatch, urls[0], uri)
	}
	return nil
}

// normalizeRemote strips cosmetic differences between equivalent remote URLs:
//   - surrounding whitespace
//   - trailing slashes
//   - a trailing .git suffix
func normalizeRemote(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimRight(url, "/")
	return strings.TrimSuffix(url, ".git")
}
