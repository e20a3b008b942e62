package mountsvc

import "sort"

// ActionKind is the kind of reconciliation action planned for one mount
// point.
type ActionKind int

const (
	Mount ActionKind = iota
	Remount
	Unmount
)

func (k ActionKind) String() string {
	switch k {
	case Mount:
		return "mount"
	case Remount:
		return "remount"
	case Unmount:
		return "unmount"
	default:
		return "unknown"
	}
}

// Reason classifies why an action was planned.
type Reason int

const (
	MissingMount Reason = iota
	IdentityMismatch
	UnhealthyMount
	StaleMount
)

// DesiredMount is one title's target mount state for the current pass.
type DesiredMount struct {
	MountPoint      string
	DesiredIdentity string
	MountPayload    string
}

// Action is one planned reconciliation step.
type Action struct {
	Kind            ActionKind
	MountPoint      string
	DesiredIdentity string
	MountPayload    string
	Reason          Reason
}

// Reconcile compares desired mounts against an observed snapshot and
// returns the ordered action list: Unmount actions first, then Remount,
// then Mount, each group ordered by mount point.
func Reconcile(desired []DesiredMount, observed Snapshot, mergedRoot string) []Action {
	observedByPoint := make(map[string]Entry, len(observed.Entries))
	for _, e := range observed.Entries {
		observedByPoint[e.MountPoint] = e
	}

	desiredByPoint := make(map[string]DesiredMount, len(desired))
	var actions []Action

	for _, d := range desired {
		desiredByPoint[d.MountPoint] = d

		observedEntry, present := observedByPoint[d.MountPoint]
		if !present {
			actions = append(actions, Action{
				Kind: Mount, MountPoint: d.MountPoint,
				DesiredIdentity: d.DesiredIdentity, MountPayload: d.MountPayload,
				Reason: MissingMount,
			})
			continue
		}

		if observedEntry.Source != d.DesiredIdentity {
			actions = append(actions, Action{
				Kind: Remount, MountPoint: d.MountPoint,
				DesiredIdentity: d.DesiredIdentity, MountPayload: d.MountPayload,
				Reason: IdentityMismatch,
			})
			continue
		}

		if observedEntry.IsHealthy != nil && !*observedEntry.IsHealthy {
			actions = append(actions, Action{
				Kind: Remount, MountPoint: d.MountPoint,
				DesiredIdentity: d.DesiredIdentity, MountPayload: d.MountPayload,
				Reason: UnhealthyMount,
			})
		}
	}

	if !observed.HasDegradedVisibility() {
		for _, e := range observed.Entries {
			if !underRoot(e.MountPoint, mergedRoot) {
				continue
			}
			if _, desiredHere := desiredByPoint[e.MountPoint]; desiredHere {
				continue
			}
			actions = append(actions, Action{Kind: Unmount, MountPoint: e.MountPoint, Reason: StaleMount})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		ri, rj := actionRank(actions[i].Kind), actionRank(actions[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return actions[i].MountPoint < actions[j].MountPoint
	})

	return actions
}

func actionRank(kind ActionKind) int {
	switch kind {
	case Unmount:
		return 0
	case Remount:
		return 1
	default:
		return 2
	}
}

func underRoot(mountPoint, root string) bool {
	if len(mountPoint) <= len(root) {
		return false
	}
	return mountPoint[:len(root)] == root && mountPoint[len(root)] == '/'
}
