// Package branch plans and stages the per-title branch-link directories
// that back each mergerfs mount: a read-write override branch plus one
// read-only branch per contributing source, ordered by priority.
package branch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mangamerged/mangamerged/internal/pathutil"
	"github.com/mangamerged/mangamerged/internal/priority"
)

// LinkKind is the access mode a branch link is mounted with.
type LinkKind int

const (
	ReadOnly LinkKind = iota
	ReadWrite
)

func (k LinkKind) String() string {
	if k == ReadWrite {
		return "RW"
	}
	return "RO"
}

// LinkDefinition is one named symlink the stager maintains inside a
// branch directory, pointing at either the override directory or a
// source's per-title directory.
type LinkDefinition struct {
	Name   string
	Target string
	Kind   LinkKind
}

// LinkPath returns the definition's full path under branchDirectoryPath.
func (d LinkDefinition) LinkPath(branchDirectoryPath string) string {
	return filepath.Join(branchDirectoryPath, d.Name)
}

// SourceCandidate is one source volume contributing a branch to a title.
type SourceCandidate struct {
	SourceName string
	SourcePath string
}

// Plan is the pure output of planning one title's branch layout.
type Plan struct {
	CanonicalTitle       string
	OverrideTitlePath    string
	BranchDirectoryPath  string
	BranchSpecification  string
	DesiredIdentity      string
	GroupKey             string
	Links                []LinkDefinition
}

// Input is everything Plan needs to compute one title's branch layout.
type Input struct {
	CanonicalTitle      string
	EquivalentTitles    []string
	SourceVolumePaths   []string
	OverrideVolumePaths []string
	BranchLinksRoot     string
	Priority            *priority.Service
}

var groupKeySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// GroupKey computes the stable, filesystem-safe directory name derived
// from a canonical title.
func GroupKey(canonicalTitle string) string {
	key := groupKeySanitizer.ReplaceAllString(canonicalTitle, "_")
	key = strings.Trim(key, "_")
	if key == "" {
		key = "untitled"
	}
	return key
}

// DesiredIdentity computes the short, stable hash of groupKey used as
// the mergerfs fsname token.
func DesiredIdentity(groupKey string) string {
	return fmt.Sprintf("mm-%016x", xxhash.Sum64String(groupKey))
}

// ComputePlan computes the branch layout for one title. Existence checks
// on source and override paths, and creating the preferred override
// directory when it exists nowhere, are the only impurities; everything
// else is a pure function of in.
func ComputePlan(in Input, exists func(path string) bool) (Plan, error) {
	candidates := collectSourceCandidates(in, exists)
	candidates = orderAndDedupeCandidates(candidates, in.Priority)

	overrideTitlePath, err := resolveOverrideTitlePath(in, exists)
	if err != nil {
		return Plan{}, err
	}

	groupKey := GroupKey(in.CanonicalTitle)
	branchDirectoryPath := filepath.Join(in.BranchLinksRoot, groupKey)

	var links []LinkDefinition
	if overrideTitlePath != "" {
		links = append(links, LinkDefinition{Name: "00_override", Target: overrideTitlePath, Kind: ReadWrite})
	}
	for i, cand := range candidates {
		links = append(links, LinkDefinition{
			Name:   fmt.Sprintf("10_source_%02d", i),
			Target: cand.SourcePath,
			Kind:   ReadOnly,
		})
	}

	specParts := make([]string, 0, len(links))
	for _, l := range links {
		specParts = append(specParts, fmt.Sprintf("%s=%s", l.LinkPath(branchDirectoryPath), l.Kind.String()))
	}

	return Plan{
		CanonicalTitle:      in.CanonicalTitle,
		OverrideTitlePath:   overrideTitlePath,
		BranchDirectoryPath: branchDirectoryPath,
		BranchSpecification: strings.Join(specParts, ":"),
		DesiredIdentity:     DesiredIdentity(groupKey),
		GroupKey:            groupKey,
		Links:               links,
	}, nil
}

func collectSourceCandidates(in Input, exists func(path string) bool) []SourceCandidate {
	var candidates []SourceCandidate
	for _, sourceVolume := range in.SourceVolumePaths {
		sourceName := filepath.Base(sourceVolume)
		for _, title := range in.EquivalentTitles {
			candidatePath := filepath.Join(sourceVolume, title)
			if exists(candidatePath) {
				candidates = append(candidates, SourceCandidate{SourceName: sourceName, SourcePath: candidatePath})
			}
		}
	}
	return candidates
}

func orderAndDedupeCandidates(candidates []SourceCandidate, prio *priority.Service) []SourceCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := priorityRank(prio, candidates[i].SourceName), priorityRank(prio, candidates[j].SourceName)
		if ri != rj {
			return ri < rj
		}
		if candidates[i].SourceName != candidates[j].SourceName {
			return candidates[i].SourceName < candidates[j].SourceName
		}
		return candidates[i].SourcePath < candidates[j].SourcePath
	})

	seen := make(map[string]bool, len(candidates))
	deduped := make([]SourceCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := pathutil.Normalize(c.SourcePath)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, c)
	}
	return deduped
}

func priorityRank(prio *priority.Service, sourceName string) int {
	if prio == nil {
		return priority.DefaultRank
	}
	return prio.GetPriorityOrDefault(sourceName)
}

// resolveOverrideTitlePath finds the first override volume (in the
// preferred, ordinal-first order given) that already contains a
// <volume>/<canonical_title> directory. When absent everywhere, it
// creates the directory in the preferred (ordinal-first) override
// volume and returns that path.
func resolveOverrideTitlePath(in Input, exists func(path string) bool) (string, error) {
	if len(in.OverrideVolumePaths) == 0 {
		return "", nil
	}
	preferred := filepath.Join(in.OverrideVolumePaths[0], in.CanonicalTitle)
	for _, overrideVolume := range in.OverrideVolumePaths {
		candidate := filepath.Join(overrideVolume, in.CanonicalTitle)
		if exists(candidate) {
			return candidate, nil
		}
	}
	if err := os.MkdirAll(preferred, 0o750); err != nil {
		return "", fmt.Errorf("create override title directory %s: %w", preferred, err)
	}
	return preferred, nil
}
