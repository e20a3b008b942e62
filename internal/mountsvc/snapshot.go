// Package mountsvc captures the active mergerfs mount snapshot,
// reconciles it against a set of desired mounts, and applies the
// resulting actions through the external mergerfs/findmnt/fusermount
// commands.
package mountsvc

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mangamerged/mangamerged/internal/execx"
)

// Entry is one observed mount, parsed from one findmnt output line.
type Entry struct {
	MountPoint string
	FSType     string
	Source     string
	Options    string
	IsHealthy  *bool
}

// WarningSeverity classifies how serious a snapshot-capture warning is.
type WarningSeverity int

const (
	NonFatal WarningSeverity = iota
	DegradedVisibility
)

// Snapshot bundles a capture's observed entries with any warnings.
type Snapshot struct {
	Entries           []Entry
	Warnings          []string
	WarningSeverities []WarningSeverity
}

// HasDegradedVisibility reports whether any warning in the snapshot
// carries DegradedVisibility severity, which prohibits destructive
// unmount decisions for the reconciliation pass built from it.
func (s Snapshot) HasDegradedVisibility() bool {
	for _, sev := range s.WarningSeverities {
		if sev == DegradedVisibility {
			return true
		}
	}
	return false
}

// SnapshotService captures the active mount table by invoking an
// external findmnt-equivalent command.
type SnapshotService struct {
	executor execx.Executor
	binary   string
	timeout  time.Duration
}

// NewSnapshotService builds a SnapshotService invoking binary (normally
// "findmnt") through executor.
func NewSnapshotService(executor execx.Executor, binary string, timeout time.Duration) *SnapshotService {
	return &SnapshotService{executor: executor, binary: binary, timeout: timeout}
}

// Capture runs the configured findmnt-equivalent and parses its output.
// Command failure yields an empty entries list plus a DegradedVisibility
// warning, never an error.
func (s *SnapshotService) Capture(ctx context.Context) Snapshot {
	result := s.executor.Run(ctx, execx.Request{
		FileName:            s.binary,
		Arguments:           []string{"-P", "-t", "fuse.mergerfs"},
		Timeout:             s.timeout,
		MaxOutputCharacters: 1 << 20,
	})

	if result.Outcome != execx.Success {
		return Snapshot{
			Warnings:          []string{"findmnt command failed: " + result.Outcome.String()},
			WarningSeverities: []WarningSeverity{DegradedVisibility},
		}
	}

	var snapshot Snapshot
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, ok := parseLine(line)
		if !ok {
			snapshot.Warnings = append(snapshot.Warnings, "malformed findmnt line: "+line)
			snapshot.WarningSeverities = append(snapshot.WarningSeverities, NonFatal)
			continue
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}

	sort.Slice(snapshot.Entries, func(i, j int) bool {
		return snapshot.Entries[i].MountPoint < snapshot.Entries[j].MountPoint
	})

	return snapshot
}

// parseLine parses one key-value line of the form
// TARGET=.. FSTYPE=.. SOURCE=.. OPTIONS=.. (findmnt's -P shell-quoted
// output shape), returning ok=false for any line missing a required key.
func parseLine(line string) (Entry, bool) {
	fields := splitKeyValueFields(line)

	entry := Entry{
		MountPoint: fields["TARGET"],
		FSType:     fields["FSTYPE"],
		Source:     fields["SOURCE"],
		Options:    fields["OPTIONS"],
	}
	if entry.MountPoint == "" || entry.FSType == "" {
		return Entry{}, false
	}
	return entry, true
}

// splitKeyValueFields parses findmnt -P's KEY="value" tokens.
func splitKeyValueFields(line string) map[string]string {
	fields := make(map[string]string)
	var key, value strings.Builder
	inValue, inQuotes := false, false

	flush := func() {
		if key.Len() > 0 {
			fields[key.String()] = value.String()
		}
		key.Reset()
		value.Reset()
		inValue = false
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case !inValue && c == '=':
			inValue = true
		case inValue && c == '"':
			inQuotes = !inQuotes
		case inValue && c == ' ' && !inQuotes:
			flush()
		case inValue:
			value.WriteByte(c)
		default:
			key.WriteByte(c)
		}
	}
	flush()

	return fields
}
