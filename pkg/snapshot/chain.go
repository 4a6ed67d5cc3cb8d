package snapshot

import (
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// NewChain returns an empty snapshot tree for a volume
func NewChain(volumeName string) *types.SnapshotChain {
	return &types.SnapshotChain{
		VolumeName: volumeName,
		Snapshots:  make(map[string]*types.Snapshot),
	}
}

// Create adds a snapshot as the new parent of the volume head
func Create(c *types.SnapshotChain, name string, created time.Time, labels map[string]string) (*types.Snapshot, error) {
	if name == "" || name == types.VolumeHead {
		return nil, errdefs.NewInvalidArgumentError("invalid snapshot name %q", name)
	}
	if c.Snapshots == nil {
		c.Snapshots = make(map[string]*types.Snapshot)
	}
	if _, exists := c.Snapshots[name]; exists {
		return nil, errdefs.NewNameConflictError("snapshot %s already exists in volume %s", name, c.VolumeName)
	}

	snap := &types.Snapshot{
		Name:     name,
		Parent:   c.Head,
		Children: map[string]bool{types.VolumeHead: true},
		Created:  created,
		Labels:   labels,
	}

	if parent, ok := c.Snapshots[c.Head]; ok {
		delete(parent.Children, types.VolumeHead)
		children(parent)[name] = true
	}

	c.Snapshots[name] = snap
	c.Head = name
	return snap, nil
}

// Get returns a snapshot by name
func Get(c *types.SnapshotChain, name string) (*types.Snapshot, error) {
	snap, ok := c.Snapshots[name]
	if !ok {
		return nil, errdefs.NewNotFoundError("snapshot %s not found in volume %s", name, c.VolumeName)
	}
	return snap, nil
}

// List returns every snapshot, removed ones included, ordered by creation
// time and then name
func List(c *types.SnapshotChain) []*types.Snapshot {
	snaps := make([]*types.Snapshot, 0, len(c.Snapshots))
	for _, s := range c.Snapshots {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Created.Equal(snaps[j].Created) {
			return snaps[i].Created.Before(snaps[j].Created)
		}
		return snaps[i].Name < snaps[j].Name
	})
	return snaps
}

// Delete marks a snapshot removed. The tree is left as is until Purge.
func Delete(c *types.SnapshotChain, name string) error {
	snap, ok := c.Snapshots[name]
	if !ok || snap.Removed {
		return errdefs.NewNotFoundError("snapshot %s not found in volume %s", name, c.VolumeName)
	}
	snap.Removed = true
	return nil
}

// Revert moves the volume head under the named snapshot. Removed snapshots
// are valid targets.
func Revert(c *types.SnapshotChain, name string) error {
	target, ok := c.Snapshots[name]
	if !ok {
		return errdefs.NewNotFoundError("snapshot %s not found in volume %s", name, c.VolumeName)
	}

	if current, ok := c.Snapshots[c.Head]; ok {
		delete(current.Children, types.VolumeHead)
	}
	children(target)[types.VolumeHead] = true
	c.Head = name
	return nil
}

// Purgeable returns the names Purge would drop, in purge order, without
// modifying the chain
func Purgeable(c *types.SnapshotChain) []string {
	return Purge(Clone(c))
}

// Purge drops removed snapshots until no rule applies and returns their
// names in purge order. A removed snapshot without children is dropped. One
// with a single child other than the volume head is collapsed into that
// child. One that holds the volume head or has several children is kept.
func Purge(c *types.SnapshotChain) []string {
	var purged []string

	for {
		name, ok := nextPurge(c)
		if !ok {
			return purged
		}

		snap := c.Snapshots[name]
		parent := c.Snapshots[snap.Parent]
		if parent != nil {
			delete(parent.Children, name)
		}

		for child := range snap.Children {
			c.Snapshots[child].Parent = snap.Parent
			if parent != nil {
				children(parent)[child] = true
			}
		}

		delete(c.Snapshots, name)
		purged = append(purged, name)
	}
}

func nextPurge(c *types.SnapshotChain) (string, bool) {
	for _, snap := range List(c) {
		if !snap.Removed || snap.Children[types.VolumeHead] {
			continue
		}
		if len(snap.Children) <= 1 {
			return snap.Name, true
		}
	}
	return "", false
}

// MarkRetained keeps the newest retain live snapshots carrying the label
// key=value and marks the older ones removed, except those in pinned. It
// returns the names marked.
func MarkRetained(c *types.SnapshotChain, key, value string, retain int, pinned map[string]bool) []string {
	var labelled []*types.Snapshot
	for _, snap := range List(c) {
		if !snap.Removed && snap.Labels[key] == value {
			labelled = append(labelled, snap)
		}
	}

	if retain < 0 || len(labelled) <= retain {
		return nil
	}

	var marked []string
	for _, snap := range labelled[:len(labelled)-retain] {
		if pinned[snap.Name] {
			continue
		}
		snap.Removed = true
		marked = append(marked, snap.Name)
	}
	return marked
}

// Clone returns a deep copy of the chain
func Clone(c *types.SnapshotChain) *types.SnapshotChain {
	out := &types.SnapshotChain{
		VolumeName: c.VolumeName,
		Head:       c.Head,
		Snapshots:  make(map[string]*types.Snapshot, len(c.Snapshots)),
	}
	for name, snap := range c.Snapshots {
		cp := *snap
		cp.Children = make(map[string]bool, len(snap.Children))
		for child := range snap.Children {
			cp.Children[child] = true
		}
		if snap.Labels != nil {
			cp.Labels = make(map[string]string, len(snap.Labels))
			for k, v := range snap.Labels {
				cp.Labels[k] = v
			}
		}
		out.Snapshots[name] = &cp
	}
	return out
}

func children(s *types.Snapshot) map[string]bool {
	if s.Children == nil {
		s.Children = make(map[string]bool)
	}
	return s.Children
}

// SortedChildren returns the children of a snapshot in name order
func SortedChildren(s *types.Snapshot) []string {
	children := make([]string, 0, len(s.Children))
	for child := range s.Children {
		children = append(children, child)
	}
	sort.Strings(children)
	return children
}
