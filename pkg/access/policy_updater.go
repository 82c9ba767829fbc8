package access

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
)

const policyPollInterval = time.Minute

// NewPolicyUpdater watches a git repository for .rego files and hands every
// new revision to eventHandler. An empty key means anonymous access.
func NewPolicyUpdater(repository string, repositoryKey string, repositoryBranch string, eventHandler func(context.Context, []PolicyBundle)) *PolicyUpdater {
	var key []byte
	if repositoryKey != "" {
		key = []byte(repositoryKey)
	}

	return &PolicyUpdater{
		project: PolicyProject{
			Url:    repository,
			SSHKey: key,
			Branch: repositoryBranch,
		},
		eventHandlerFunc: eventHandler,
	}
}

func (b *PolicyUpdater) Start(ctx context.Context) {
	ticker := time.NewTicker(policyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = b.RunUpdate(ctx)
		}
	}
}

func (b *PolicyUpdater) RunUpdate(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	update, err := b.CheckForUpdates()
	if err != nil {
		slog.Error("failed to check for policy updates", slog.String("error", err.Error()), slog.String("repo", b.project.Url))
		return err
	}

	slog.Debug(
		"checking for policy updates",
		slog.String("repo", b.project.Url),
		slog.Bool("update_available", update.Available),
		slog.String("new_hash", update.NewHash),
		slog.String("old_hash", update.OldHash),
	)

	if !update.Available {
		return nil
	}

	bundles, err := b.GenerateBundles()
	if err != nil {
		slog.Error("failed to create policy bundles", slog.String("error", err.Error()), slog.String("repo", b.project.Url))
		return err
	}

	b.project.Hash = update.NewHash
	b.project.PolicyBundles = bundles
	b.eventHandlerFunc(ctx, bundles)
	return nil
}

func (b *PolicyUpdater) GenerateBundles() ([]PolicyBundle, error) {
	repo, err := b.getGitRepo()
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to get worktree"))
	}

	var bundles []PolicyBundle
	err = util.Walk(wt.Filesystem, "", func(fileName string, fi os.FileInfo, err error) error {
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}

		// skip tests, they are not meant to be loaded
		if !strings.HasSuffix(fileName, ".rego") || strings.HasSuffix(fileName, "_test.rego") {
			return nil
		}

		file, err := wt.Filesystem.Open(fileName)
		if err != nil {
			return errors.Join(err, errors.New("failed to open file"))
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return errors.Join(err, errors.New("failed to read policy"))
		}

		bundles = append(bundles, PolicyBundle{
			Name: strings.TrimSuffix(fileName, ".rego"),
			Data: data,
		})
		return nil
	})

	if err != nil {
		return nil, errors.Join(err, errors.New("failed to walk fs"))
	}

	return bundles, nil
}

func (b *PolicyUpdater) CheckForUpdates() (*PolicyProjectUpdate, error) {
	update := PolicyProjectUpdate{
		Available: false,
		OldHash:   b.project.Hash,
		NewHash:   b.project.Hash,
	}
	head, err := b.getGitRemoteHead()
	if err != nil {
		return &update, err
	}

	if b.project.Hash != head {
		update.NewHash = head
		update.Available = true
	}

	return &update, nil
}

func (b *PolicyUpdater) getGitRemoteHead() (string, error) {
	auth, err := b.getAuth()
	if err != nil {
		return "", err
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{b.project.Url},
	})

	list, err := remote.List(&git.ListOptions{
		Auth: auth,
	})
	if err != nil {
		return "", errors.Join(err, errors.New("failed to list remote"))
	}

	branch := plumbing.NewBranchReferenceName(b.project.Branch)
	for _, ref := range list {
		if ref.Name() == branch && !ref.Hash().IsZero() {
			return ref.Hash().String(), nil
		}
	}

	return "", errors.New("branch not found on remote: " + b.project.Branch)
}

func (b *PolicyUpdater) getGitRepo() (*git.Repository, error) {
	auth, err := b.getAuth()
	if err != nil {
		return nil, err
	}

	repo, err := git.Clone(memory.NewStorage(), memfs.New(), &git.CloneOptions{
		URL:           b.project.Url,
		ReferenceName: plumbing.NewBranchReferenceName(b.project.Branch),
		Auth:          auth,
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to clone"))
	}

	return repo, nil
}

func (b *PolicyUpdater) getAuth() (transport.AuthMethod, error) {
	if len(b.project.SSHKey) == 0 {
		return nil, nil
	}

	authKey, err := ssh.NewPublicKeys("git", b.project.SSHKey, "")
	if err != nil {
		return nil, errors.Join(err, errors.New("failed to get authkey"))
	}

	return authKey, nil
}
