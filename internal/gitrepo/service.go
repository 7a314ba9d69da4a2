package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/controller"
)

// branchPrefix namespaces every healing branch created by the daemon.
const branchPrefix = "mendd/"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Config configures the repository service.
type Config struct {
	// BaseDir is the parent directory for working copies
	// (default: os.TempDir()/mendd).
	BaseDir string

	// AuthorName and AuthorEmail sign the commits created for fixes.
	AuthorName  string
	AuthorEmail string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseDir:     filepath.Join(os.TempDir(), "mendd"),
		AuthorName:  "mendd",
		AuthorEmail: "mendd@localhost",
	}
}

// Service implements controller.RepoAdapter with go-git.
type Service struct {
	config *Config
	logger *zap.Logger
}

// NewService creates a repository service.
func NewService(cfg *Config, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: cfg, logger: logger}
}

func auth(token string) *githttp.BasicAuth {
	// GitHub accepts any username with a token over HTTPS basic auth.
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

// Clone obtains a working copy under BaseDir. The token never appears in the
// stored remote URL; it is supplied per-operation as basic auth.
func (s *Service) Clone(ctx context.Context, repoURL, token string) (string, error) {
	if err := os.MkdirAll(s.config.BaseDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create base directory: %w", err)
	}
	workdir, err := os.MkdirTemp(s.config.BaseDir, "repo-*")
	if err != nil {
		return "", fmt.Errorf("failed to create workdir: %w", err)
	}

	_, err = git.PlainCloneContext(ctx, workdir, false, &git.CloneOptions{
		URL:   repoURL,
		Auth:  auth(token),
		Depth: 0,
	})
	if err != nil {
		os.RemoveAll(workdir)
		if isAuthErr(err) {
			return "", fmt.Errorf("%w: %v", controller.ErrAuth, err)
		}
		return "", controller.Transient(fmt.Errorf("clone failed: %w", err))
	}

	s.logger.Debug("cloned repository", zap.String("workdir", workdir))
	return workdir, nil
}

// CreateBranch creates and checks out an isolated healing branch named
// mendd/<repo-slug>-<short-uuid>.
func (s *Service) CreateBranch(ctx context.Context, workdir string) (string, error) {
	repo, err := git.PlainOpen(workdir)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	branch := BranchName(filepath.Base(workdir))
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	s.logger.Debug("created branch", zap.String("branch", branch))
	return branch, nil
}

// BranchName builds a filesystem- and ref-safe branch name from a seed.
func BranchName(seed string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(seed), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 30 {
		slug = slug[:30]
	}
	if slug == "" {
		slug = "auto"
	}
	return branchPrefix + slug + "-" + uuid.New().String()[:6]
}

// Commit stages all changes and commits them. A clean worktree returns
// (false, nil).
func (s *Service) Commit(ctx context.Context, workdir, message string) (bool, error) {
	repo, err := git.PlainOpen(workdir)
	if err != nil {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.config.AuthorName,
			Email: s.config.AuthorEmail,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("committed changes", zap.String("message", message))
	return true, nil
}

// Push pushes the branch to origin. Remote auth rejections map to
// controller.ErrAuth; everything else is transient.
func (s *Service) Push(ctx context.Context, workdir, branch, token string) error {
	repo, err := git.PlainOpen(workdir)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	refSpec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(refSpec)},
		Auth:       auth(token),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		if isAuthErr(err) {
			return fmt.Errorf("%w: %v", controller.ErrAuth, err)
		}
		return controller.Transient(fmt.Errorf("push failed: %w", err))
	}

	s.logger.Debug("pushed branch", zap.String("branch", branch))
	return nil
}

// Cleanup removes the working copy.
func (s *Service) Cleanup(workdir string) error {
	if workdir == "" {
		return nil
	}
	return os.RemoveAll(workdir)
}

func isAuthErr(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed)
}
