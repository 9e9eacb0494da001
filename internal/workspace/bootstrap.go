// Package workspace bootstraps the working directory a ticket's Developer
// phase operates in: force-delete any prior checkout, clone the
// configured repository, configure the commit identity, and check out or
// create the ticket's feature branch (spec §4.1 step 4). Grounded on the
// teacher's internal/templates GitSource clone/pull pair, which drives
// git the same way: exec.CommandContext with GIT_TERMINAL_PROMPT=0 and
// CombinedOutput folded into the returned error.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/ticketworker/internal/errs"
	"github.com/haasonsaas/ticketworker/internal/settings"
)

// BranchPrefix names the feature branch every ticket works on.
const BranchPrefix = "feature/ticket-"

// BranchName returns the feature branch name for a ticket.
func BranchName(ticketID string) string {
	return BranchPrefix + ticketID
}

// Result reports what Bootstrap did, so the caller can publish the branch
// name to the ticket if it was newly created (spec §4.1 step 4, "publish
// the branch name if absent").
type Result struct {
	Path          string
	Branch        string
	BranchCreated bool
}

// Bootstrap force-deletes root, clones cfg.RepositoryURL into it,
// configures the commit identity, and checks out (or creates) the
// ticket's feature branch.
func Bootstrap(ctx context.Context, cfg settings.GitConfig, root, ticketID string) (*Result, error) {
	logger := slog.Default().With("component", "workspace", "ticketId", ticketID)

	if cfg.RepositoryURL == "" {
		return nil, errs.NewWorkspaceError("bootstrap workspace", fmt.Errorf("gitConfig.repositoryUrl is not set"))
	}

	logger.Info("removing prior workspace", "path", root)
	if err := forceRemoveAll(root); err != nil {
		return nil, errs.NewWorkspaceError("remove prior workspace", err)
	}
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return nil, errs.NewWorkspaceError("create workspace parent directory", err)
	}

	logger.Info("cloning repository", "url", redactURL(cfg.RepositoryURL), "path", root)
	if err := cloneRepository(ctx, cfg, root); err != nil {
		return nil, errs.NewWorkspaceError("clone repository", err)
	}

	if err := configureIdentity(ctx, cfg, root); err != nil {
		return nil, errs.NewWorkspaceError("configure git identity", err)
	}

	branch := BranchName(ticketID)
	created, err := checkoutOrCreateBranch(ctx, cfg, root, branch)
	if err != nil {
		return nil, errs.NewWorkspaceError("checkout branch", err)
	}
	if created {
		logger.Info("created feature branch", "branch", branch)
	} else {
		logger.Info("checked out existing feature branch", "branch", branch)
	}

	return &Result{Path: root, Branch: branch, BranchCreated: created}, nil
}

// forceRemoveAll clears any read-only attribute on every entry under root
// before removing it (spec Edge Cases: "Force-delete of prior workspace
// on Windows: source clears read-only attributes before deletion. Any
// implementation on filesystems with equivalent semantics must do the
// same.") Walking and chmod'ing first makes the subsequent RemoveAll
// succeed even when a prior git checkout left files without the write
// bit set.
func forceRemoveAll(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if info.Mode().IsDir() {
			_ = os.Chmod(path, 0o755)
		} else {
			_ = os.Chmod(path, 0o644)
		}
		return nil
	})
	return os.RemoveAll(root)
}

func cloneRepository(ctx context.Context, cfg settings.GitConfig, root string) error {
	url := authenticatedURL(cfg)
	cmd := exec.CommandContext(ctx, "git", "clone", url, root)
	cmd.Env = gitEnv(cfg)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func configureIdentity(ctx context.Context, cfg settings.GitConfig, root string) error {
	name := cfg.Username
	if name == "" {
		name = "ticketworker"
	}
	email := cfg.Email
	if email == "" {
		email = "ticketworker@localhost"
	}
	if err := runGit(ctx, cfg, root, "config", "user.name", name); err != nil {
		return err
	}
	return runGit(ctx, cfg, root, "config", "user.email", email)
}

// checkoutOrCreateBranch checks out branch if it exists on the origin
// remote, otherwise creates it from the current HEAD. Reports whether it
// was created.
func checkoutOrCreateBranch(ctx context.Context, cfg settings.GitConfig, root, branch string) (bool, error) {
	if err := runGit(ctx, cfg, root, "fetch", "origin", branch); err == nil {
		if err := runGit(ctx, cfg, root, "checkout", "-B", branch, "origin/"+branch); err == nil {
			return false, nil
		}
	}
	if err := runGit(ctx, cfg, root, "checkout", "-b", branch); err != nil {
		return false, err
	}
	return true, nil
}

func runGit(ctx context.Context, cfg settings.GitConfig, root string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = root
	cmd.Env = gitEnv(cfg)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func gitEnv(cfg settings.GitConfig) []string {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if cfg.SSHKey != nil && *cfg.SSHKey != "" {
		env = append(env, fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o StrictHostKeyChecking=accept-new", sshKeyPath(*cfg.SSHKey)))
	}
	return env
}

// sshKeyPath writes an inline private key to a temp file the first time
// it's needed so GIT_SSH_COMMAND can reference it by path; if the value
// already looks like a path, it's used as-is.
func sshKeyPath(key string) string {
	if strings.HasPrefix(key, "-----BEGIN") {
		f, err := os.CreateTemp("", "ticketworker-deploy-key-*")
		if err != nil {
			return key
		}
		defer f.Close()
		_ = os.Chmod(f.Name(), 0o600)
		_, _ = f.WriteString(key)
		return f.Name()
	}
	return key
}

// authenticatedURL embeds an API token into an https:// repository URL as
// basic-auth credentials, leaving ssh:// URLs untouched (authentication
// for those goes through GIT_SSH_COMMAND instead).
func authenticatedURL(cfg settings.GitConfig) string {
	if cfg.APIToken == nil || *cfg.APIToken == "" {
		return cfg.RepositoryURL
	}
	if !strings.HasPrefix(cfg.RepositoryURL, "https://") {
		return cfg.RepositoryURL
	}
	rest := strings.TrimPrefix(cfg.RepositoryURL, "https://")
	user := cfg.Username
	if user == "" {
		user = "x-access-token"
	}
	return fmt.Sprintf("https://%s:%s@%s", user, *cfg.APIToken, rest)
}

// redactURL strips embedded basic-auth credentials before logging.
func redactURL(url string) string {
	if idx := strings.Index(url, "@"); idx != -1 && strings.Contains(url, "://") {
		schemeEnd := strings.Index(url, "://") + 3
		if idx > schemeEnd {
			return url[:schemeEnd] + "***@" + url[idx+1:]
		}
	}
	return url
}
