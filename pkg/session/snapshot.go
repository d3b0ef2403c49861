package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/types"
)

// snapshotArtifacts returns the set of files currently under the session's
// artifact directory, keyed by slash path relative to the session root
// ("artifacts/plot.png"). Bind-mounted sessions are walked on the host;
// tmpfs sessions are listed inside the container.
func (m *Manager) snapshotArtifacts(ctx context.Context, sess *types.Session) (map[string]struct{}, error) {
	if m.cfg.IsBind() {
		return snapshotHostArtifacts(sess.SessionDir)
	}
	return m.snapshotContainerArtifacts(ctx, sess.ContainerID)
}

func (m *Manager) snapshotContainerArtifacts(ctx context.Context, containerID string) (map[string]struct{}, error) {
	rels, err := m.runtime.ListFiles(ctx, containerID, artifactsContainerDir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(rels))
	for _, rel := range rels {
		set[artifactsRelPrefix+rel] = struct{}{}
	}
	return set, nil
}

func snapshotHostArtifacts(sessionDir string) (map[string]struct{}, error) {
	root := filepath.Join(sessionDir, "artifacts")
	set := make(map[string]struct{})

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, rerr := filepath.Rel(sessionDir, p)
		if rerr != nil {
			return rerr
		}
		set[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

// diffSnapshots returns the paths present in after but not before, sorted.
func diffSnapshots(before, after map[string]struct{}) []string {
	var fresh []string
	for rel := range after {
		if _, ok := before[rel]; !ok {
			fresh = append(fresh, rel)
		}
	}
	sort.Strings(fresh)
	return fresh
}

// materialize turns relative artifact paths into host file paths the
// ingestor can read. Bind sessions resolve against the session directory;
// tmpfs sessions copy each file out into a staging directory, which the
// caller must remove. Copy-out failure aborts the whole batch.
func (m *Manager) materialize(ctx context.Context, sess *types.Session, rels []string) ([]string, string, error) {
	if len(rels) == 0 {
		return nil, "", nil
	}

	if m.cfg.IsBind() {
		files := make([]string, 0, len(rels))
		for _, rel := range rels {
			files = append(files, filepath.Join(sess.SessionDir, filepath.FromSlash(rel)))
		}
		return files, "", nil
	}

	staging, err := os.MkdirTemp("", "sbox-artifacts-")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create artifact staging dir: %w", err)
	}

	files := make([]string, 0, len(rels))
	for i, rel := range rels {
		// One subdir per file so equal basenames cannot clobber each other
		sub := filepath.Join(staging, strconv.Itoa(i))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, staging, fmt.Errorf("failed to create artifact staging dir: %w", err)
		}
		src := path.Join(config.ContainerSessionPath, rel)
		hostPath, err := m.runtime.CopyOut(ctx, sess.ContainerID, src, sub)
		if err != nil {
			return nil, staging, fmt.Errorf("failed to copy %s out of container: %w", src, err)
		}
		files = append(files, hostPath)
	}
	return files, staging, nil
}
