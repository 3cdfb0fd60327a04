// Package gitsource keeps git-hosted deck package sources up to date: each
// configured repository is cloned or pulled under the data directory and any
// .apkg files it contains join the set of loadable packages.
package gitsource

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Sync clones the repository at repoURL into localPath, or pulls the latest
// changes when a clone already exists there.
func Sync(repoURL, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case os.IsNotExist(err):
		slog.Info("cloning package source", "url", repoURL, "path", localPath)
		if _, err := git.PlainClone(localPath, false, &git.CloneOptions{URL: repoURL}); err != nil {
			return fmt.Errorf("clone %s: %w", repoURL, err)
		}
	case err == nil:
		slog.Info("pulling package source", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("open repo at %s: %w", localPath, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("worktree for %s: %w", localPath, err)
		}
		if err := worktree.Pull(&git.PullOptions{RemoteName: "origin"}); err != nil && err != git.NoErrAlreadyUpToDate {
			return fmt.Errorf("pull %s: %w", localPath, err)
		}
	default:
		return fmt.Errorf("check path %s: %w", localPath, err)
	}
	return nil
}

// SyncAll reconciles every source URL under reposDir and returns the .apkg
// files found across all of them. A failing source is logged and skipped so
// one broken remote does not block the rest.
func SyncAll(sources []string, reposDir string) []string {
	var packages []string
	for _, source := range sources {
		localPath, err := localPathFor(reposDir, source)
		if err != nil {
			slog.Error("cannot determine local path for source", "url", source, "error", err)
			continue
		}
		if err := Sync(source, localPath); err != nil {
			slog.Error("source sync failed", "url", source, "error", err)
			continue
		}
		packages = append(packages, findPackages(localPath)...)
	}
	return packages
}

func findPackages(root string) []string {
	var packages []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".apkg") {
			packages = append(packages, path)
		}
		return nil
	})
	return packages
}

// localPathFor maps a repository URL onto a stable directory under baseDir.
func localPathFor(baseDir, repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		// scp-like syntax: git@host:owner/repo.git
		if strings.Contains(repoURL, "@") {
			parts := strings.SplitN(repoURL, ":", 2)
			if len(parts) == 2 {
				hostParts := strings.SplitN(parts[0], "@", 2)
				if len(hostParts) == 2 {
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, hostParts[1], repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return filepath.Join(baseDir, parsed.Host, strings.TrimSuffix(parsed.Path, ".git")), nil
}
