package branch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mangamerged/mangamerged/internal/pathutil"
)

// StageBranchLinks realizes plan's link definitions on disk: it creates
// the branch directory if needed, repairs or creates each desired
// symlink, and removes any symlink under the branch directory that is
// no longer desired. Non-symlink stale entries are left in place with a
// returned diagnostic rather than deleted.
func StageBranchLinks(plan Plan) (diagnostics []string, err error) {
	if err := os.MkdirAll(plan.BranchDirectoryPath, 0o750); err != nil {
		return nil, fmt.Errorf("ensure branch directory %s: %w", plan.BranchDirectoryPath, err)
	}

	desired := make(map[string]bool, len(plan.Links))
	for _, link := range plan.Links {
		linkPath := link.LinkPath(plan.BranchDirectoryPath)
		if !pathutil.WithinBase(plan.BranchDirectoryPath, linkPath) {
			return diagnostics, fmt.Errorf("link path %s escapes branch directory %s", linkPath, plan.BranchDirectoryPath)
		}
		desired[pathutil.Normalize(linkPath)] = true

		if err := reconcileLink(linkPath, link.Target); err != nil {
			return diagnostics, fmt.Errorf("stage link %s: %w", linkPath, err)
		}
	}

	entries, err := os.ReadDir(plan.BranchDirectoryPath)
	if err != nil {
		return diagnostics, fmt.Errorf("enumerate branch directory %s: %w", plan.BranchDirectoryPath, err)
	}
	for _, entry := range entries {
		entryPath := filepath.Join(plan.BranchDirectoryPath, entry.Name())
		if desired[pathutil.Normalize(entryPath)] {
			continue
		}

		info, err := os.Lstat(entryPath)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink == 0 {
			diagnostics = append(diagnostics, fmt.Sprintf("stale non-symlink entry preserved: %s", entryPath))
			continue
		}
		if err := os.Remove(entryPath); err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("failed to remove stale link %s: %v", entryPath, err))
		}
	}

	return diagnostics, nil
}

// reconcileLink ensures linkPath is a directory symlink pointing at
// target, replacing whatever currently occupies linkPath if needed.
func reconcileLink(linkPath, target string) error {
	info, err := os.Lstat(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.Symlink(target, linkPath)
		}
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		current, err := os.Readlink(linkPath)
		if err != nil {
			return err
		}
		if pathutil.Normalize(current) == pathutil.Normalize(target) {
			return nil
		}
		if err := os.Remove(linkPath); err != nil {
			return err
		}
		return os.Symlink(target, linkPath)
	}

	return fmt.Errorf("existing non-symlink entry at %s cannot be replaced", linkPath)
}

// CleanupStaleBranchDirectories enumerates direct children of
// branchLinksRoot and removes those whose path is not in activeSet,
// comparing under the platform path comparer.
func CleanupStaleBranchDirectories(branchLinksRoot string, activeSet map[string]bool) ([]string, error) {
	normalizedActive := make(map[string]bool, len(activeSet))
	for path := range activeSet {
		normalizedActive[pathutil.Normalize(path)] = true
	}

	entries, err := os.ReadDir(branchLinksRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("enumerate branch links root %s: %w", branchLinksRoot, err)
	}

	var removed []string
	for _, entry := range entries {
		path := filepath.Join(branchLinksRoot, entry.Name())
		if normalizedActive[pathutil.Normalize(path)] {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove stale branch directory %s: %w", path, err)
		}
		removed = append(removed, path)
	}

	return removed, nil
}
