// Package volumes implements volume discovery: listing the direct child
// directories of the sources and override roots in deterministic order.
package volumes

import (
	"os"
	"path/filepath"
	"sort"
)

// Result is the outcome of one Discover call.
type Result struct {
	SourceVolumePaths   []string
	OverrideVolumePaths []string
	Warnings            []string
}

// Discover lists the direct child directories of sourcesRoot and
// overrideRoot, in deterministic (lexical) order; entries that are not
// directories are skipped. A missing root produces a VOL-DISC-001
// warning but not an error.
func Discover(sourcesRoot, overrideRoot string) Result {
	var result Result

	sources, warning := listChildren(sourcesRoot)
	result.SourceVolumePaths = sources
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	overrides, warning := listChildren(overrideRoot)
	result.OverrideVolumePaths = overrides
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	return result
}

func listChildren(root string) ([]string, string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "VOL-DISC-001: root does not exist: " + root
		}
		return nil, "VOL-DISC-001: failed to enumerate root " + root + ": " + err.Error()
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(root, e.Name()))
	}
	sort.Strings(paths)
	return paths, ""
}
