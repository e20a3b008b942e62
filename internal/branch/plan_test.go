package branch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mangamerged/mangamerged/internal/config"
	"github.com/mangamerged/mangamerged/internal/priority"
)

func TestComputePlanOrdersLinksOverrideFirstThenByPriority(t *testing.T) {
	exists := func(path string) bool { return true }
	prio := priority.New(&config.SourcePriority{Sources: []string{"SourceB", "SourceA"}})

	in := Input{
		CanonicalTitle:      "One Piece",
		EquivalentTitles:    []string{"One Piece"},
		SourceVolumePaths:   []string{"/s/SourceA", "/s/SourceB"},
		OverrideVolumePaths: []string{"/o/vol1"},
		BranchLinksRoot:     "/links",
		Priority:            prio,
	}

	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}

	if len(plan.Links) != 3 {
		t.Fatalf("len(Links) = %d, want 3", len(plan.Links))
	}
	if plan.Links[0].Name != "00_override" || plan.Links[0].Kind != ReadWrite {
		t.Errorf("Links[0] = %+v, want 00_override RW", plan.Links[0])
	}
	if plan.Links[1].Name != "10_source_00" || filepath.Base(filepath.Dir(plan.Links[1].Target)) != "SourceB" {
		t.Errorf("Links[1] = %+v, want SourceB ranked first by priority", plan.Links[1])
	}
	if plan.Links[2].Name != "10_source_01" || filepath.Base(filepath.Dir(plan.Links[2].Target)) != "SourceA" {
		t.Errorf("Links[2] = %+v, want SourceA ranked second by priority", plan.Links[2])
	}
}

func TestComputePlanSkipsOverrideWhenNoVolumeConfigured(t *testing.T) {
	exists := func(path string) bool { return true }
	in := Input{
		CanonicalTitle:    "One Piece",
		EquivalentTitles:  []string{"One Piece"},
		SourceVolumePaths: []string{"/s/SourceA"},
		BranchLinksRoot:   "/links",
	}

	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}
	if len(plan.Links) != 1 || plan.Links[0].Name != "10_source_00" {
		t.Fatalf("Links = %+v, want a single source link and no override", plan.Links)
	}
	if plan.OverrideTitlePath != "" {
		t.Errorf("OverrideTitlePath = %q, want empty", plan.OverrideTitlePath)
	}
}

func TestComputePlanSkipsSourceCandidateWhenTitleDirectoryMissing(t *testing.T) {
	exists := func(path string) bool { return false }
	in := Input{
		CanonicalTitle:    "One Piece",
		EquivalentTitles:  []string{"One Piece"},
		SourceVolumePaths: []string{"/s/SourceA"},
		BranchLinksRoot:   "/links",
	}

	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}
	if len(plan.Links) != 0 {
		t.Fatalf("Links = %+v, want none", plan.Links)
	}
}

func TestComputePlanDedupesSourceCandidatesAcrossEquivalentTitles(t *testing.T) {
	exists := func(path string) bool { return true }
	in := Input{
		CanonicalTitle:    "One Piece",
		// An alias spelled the same as the canonical title resolves to the
		// same source path and must not produce a second link.
		EquivalentTitles:  []string{"One Piece", "One Piece"},
		SourceVolumePaths: []string{"/s/SourceA"},
		BranchLinksRoot:   "/links",
	}

	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}
	if len(plan.Links) != 1 {
		t.Fatalf("Links = %+v, want a single deduped source link", plan.Links)
	}
}

func TestComputePlanCreatesPreferredOverrideDirectoryWhenMissingEverywhere(t *testing.T) {
	root := t.TempDir()
	vol1 := filepath.Join(root, "vol1")
	vol2 := filepath.Join(root, "vol2")
	if err := os.MkdirAll(vol1, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(vol2, 0o750); err != nil {
		t.Fatal(err)
	}

	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	in := Input{
		CanonicalTitle:      "One Piece",
		EquivalentTitles:    []string{"One Piece"},
		SourceVolumePaths:   []string{filepath.Join(root, "SourceA")},
		OverrideVolumePaths: []string{vol1, vol2},
		BranchLinksRoot:     filepath.Join(root, "links"),
	}

	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}

	want := filepath.Join(vol1, "One Piece")
	if plan.OverrideTitlePath != want {
		t.Fatalf("OverrideTitlePath = %q, want %q (preferred, ordinal-first volume)", plan.OverrideTitlePath, want)
	}
	info, err := os.Stat(want)
	if err != nil {
		t.Fatalf("preferred override directory was not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("%q exists but is not a directory", want)
	}
	if _, err := os.Stat(filepath.Join(vol2, "One Piece")); !os.IsNotExist(err) {
		t.Fatalf("non-preferred override volume should not get the directory, stat err = %v", err)
	}
}

func TestGroupKeyIsFilesystemSafe(t *testing.T) {
	got := GroupKey("One Piece: Special Edition!")
	if got != "One_Piece_Special_Edition" {
		t.Errorf("GroupKey() = %q, want %q", got, "One_Piece_Special_Edition")
	}
}

func TestDesiredIdentityIsStableAndPrefixed(t *testing.T) {
	a := DesiredIdentity("One_Piece")
	b := DesiredIdentity("One_Piece")
	if a != b {
		t.Errorf("DesiredIdentity is not stable: %q != %q", a, b)
	}
	if a[:3] != "mm-" {
		t.Errorf("DesiredIdentity() = %q, want mm- prefix", a)
	}
}

func TestBranchSpecificationJoinsLinksWithColon(t *testing.T) {
	exists := func(path string) bool { return true }
	in := Input{
		CanonicalTitle:      "One Piece",
		EquivalentTitles:    []string{"One Piece"},
		SourceVolumePaths:   []string{"/s/SourceA"},
		OverrideVolumePaths: []string{"/o/vol1"},
		BranchLinksRoot:     "/links",
	}
	plan, err := ComputePlan(in, exists)
	if err != nil {
		t.Fatalf("ComputePlan() error = %v", err)
	}

	wantOverride := filepath.Join("/links", GroupKey("One Piece"), "00_override") + "=RW"
	wantSource := filepath.Join("/links", GroupKey("One Piece"), "10_source_00") + "=RO"
	want := wantOverride + ":" + wantSource
	if plan.BranchSpecification != want {
		t.Errorf("BranchSpecification = %q, want %q", plan.BranchSpecification, want)
	}
}
