package snapshot

import (
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func buildChain(t *testing.T, names ...string) *types.SnapshotChain {
	t.Helper()
	c := NewChain("vol1")
	for i, name := range names {
		_, err := Create(c, name, epoch.Add(time.Duration(i)*time.Minute), nil)
		require.NoError(t, err)
	}
	return c
}

func TestCreateMovesHead(t *testing.T) {
	c := buildChain(t, "snap1", "snap2")

	assert.Equal(t, "snap2", c.Head)
	assert.Equal(t, []string{"snap2"}, SortedChildren(c.Snapshots["snap1"]))
	assert.Equal(t, []string{types.VolumeHead}, SortedChildren(c.Snapshots["snap2"]))
	assert.Equal(t, "", c.Snapshots["snap1"].Parent)
	assert.Equal(t, "snap1", c.Snapshots["snap2"].Parent)

	_, err := Create(c, "snap1", epoch, nil)
	assert.ErrorIs(t, err, errdefs.ErrNameConflict)

	_, err = Create(c, types.VolumeHead, epoch, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestDelete(t *testing.T) {
	c := buildChain(t, "snap1")

	require.NoError(t, Delete(c, "snap1"))
	assert.True(t, c.Snapshots["snap1"].Removed)
	assert.True(t, c.Snapshots["snap1"].Children[types.VolumeHead])

	tests := []string{"snap1", "missing", types.VolumeHead}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Delete(c, name), errdefs.ErrNotFound)
		})
	}
}

func TestRevert(t *testing.T) {
	c := buildChain(t, "snap1", "snap2", "snap3")

	require.NoError(t, Delete(c, "snap3"))
	require.NoError(t, Revert(c, "snap2"))

	assert.Equal(t, "snap2", c.Head)
	assert.Empty(t, c.Snapshots["snap3"].Children)
	assert.Equal(t, []string{"snap3", types.VolumeHead}, SortedChildren(c.Snapshots["snap2"]))

	require.NoError(t, Revert(c, "snap3"), "removed snapshots are valid revert targets")
	assert.Equal(t, "snap3", c.Head)

	assert.ErrorIs(t, Revert(c, "missing"), errdefs.ErrNotFound)
}

func TestPurgeScenario(t *testing.T) {
	c := buildChain(t, "snap1", "snap2", "snap3")

	require.NoError(t, Delete(c, "snap3"))
	require.NoError(t, Revert(c, "snap2"))
	require.NoError(t, Delete(c, "snap1"))
	require.NoError(t, Delete(c, "snap2"))

	assert.Equal(t, []string{"snap1", "snap3"}, Purgeable(c))
	assert.Len(t, c.Snapshots, 3, "Purgeable must not modify the chain")

	purged := Purge(c)
	assert.Equal(t, []string{"snap1", "snap3"}, purged)

	require.Len(t, c.Snapshots, 1)
	snap2 := c.Snapshots["snap2"]
	assert.Equal(t, "", snap2.Parent)
	assert.True(t, snap2.Removed)
	assert.Equal(t, []string{types.VolumeHead}, SortedChildren(snap2))
}

func TestPurgeRules(t *testing.T) {
	tests := []struct {
		name    string
		build   func(t *testing.T) *types.SnapshotChain
		purged  []string
		remains []string
	}{
		{
			name: "nothing removed",
			build: func(t *testing.T) *types.SnapshotChain {
				return buildChain(t, "a", "b")
			},
			remains: []string{"a", "b"},
		},
		{
			name: "head parent retained",
			build: func(t *testing.T) *types.SnapshotChain {
				c := buildChain(t, "a", "b")
				require.NoError(t, Delete(c, "b"))
				return c
			},
			remains: []string{"a", "b"},
		},
		{
			name: "middle node collapsed",
			build: func(t *testing.T) *types.SnapshotChain {
				c := buildChain(t, "a", "b", "c")
				require.NoError(t, Delete(c, "b"))
				return c
			},
			purged:  []string{"b"},
			remains: []string{"a", "c"},
		},
		{
			name: "branch point retained",
			build: func(t *testing.T) *types.SnapshotChain {
				c := buildChain(t, "a", "b")
				require.NoError(t, Revert(c, "a"))
				_, err := Create(c, "c", epoch.Add(time.Hour), nil)
				require.NoError(t, err)
				require.NoError(t, Delete(c, "a"))
				return c
			},
			remains: []string{"a", "b", "c"},
		},
		{
			name: "cascade to fixpoint",
			build: func(t *testing.T) *types.SnapshotChain {
				c := buildChain(t, "a", "b")
				require.NoError(t, Revert(c, "a"))
				_, err := Create(c, "c", epoch.Add(time.Hour), nil)
				require.NoError(t, err)
				require.NoError(t, Delete(c, "a"))
				require.NoError(t, Delete(c, "b"))
				return c
			},
			purged:  []string{"b", "a"},
			remains: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.build(t)
			assert.Equal(t, tt.purged, Purge(c))

			var names []string
			for _, s := range List(c) {
				names = append(names, s.Name)
			}
			assert.Equal(t, tt.remains, names)
		})
	}
}

func TestCollapseRelinksChild(t *testing.T) {
	c := buildChain(t, "a", "b", "c")
	require.NoError(t, Delete(c, "b"))
	Purge(c)

	assert.Equal(t, "a", c.Snapshots["c"].Parent)
	assert.Equal(t, []string{"c"}, SortedChildren(c.Snapshots["a"]))
}

func TestListOrder(t *testing.T) {
	c := NewChain("vol1")
	for _, name := range []string{"b", "a", "c"} {
		_, err := Create(c, name, epoch, nil)
		require.NoError(t, err)
	}
	_, err := Create(c, "z", epoch.Add(-time.Minute), nil)
	require.NoError(t, err)

	var names []string
	for _, s := range List(c) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"z", "a", "b", "c"}, names)

	_, err = Get(c, "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestMarkRetained(t *testing.T) {
	c := NewChain("vol1")
	label := map[string]string{types.LabelRecurringJob: "hourly"}
	for i, name := range []string{"h1", "manual", "h2", "h3"} {
		labels := label
		if name == "manual" {
			labels = nil
		}
		_, err := Create(c, name, epoch.Add(time.Duration(i)*time.Hour), labels)
		require.NoError(t, err)
	}

	marked := MarkRetained(c, types.LabelRecurringJob, "hourly", 2, nil)
	assert.Equal(t, []string{"h1"}, marked)
	assert.True(t, c.Snapshots["h1"].Removed)
	assert.False(t, c.Snapshots["manual"].Removed)

	assert.Empty(t, MarkRetained(c, types.LabelRecurringJob, "hourly", 2, nil))
}

func TestMarkRetainedSkipsPinned(t *testing.T) {
	c := NewChain("vol1")
	label := map[string]string{types.LabelRecurringJob: "hourly"}
	for i, name := range []string{"h1", "h2", "h3", "h4"} {
		_, err := Create(c, name, epoch.Add(time.Duration(i)*time.Hour), label)
		require.NoError(t, err)
	}

	marked := MarkRetained(c, types.LabelRecurringJob, "hourly", 1, map[string]bool{"h2": true, "h4": true})
	assert.Equal(t, []string{"h1", "h3"}, marked)
	assert.False(t, c.Snapshots["h2"].Removed, "pinned snapshots stay live past retain")

	marked = MarkRetained(c, types.LabelRecurringJob, "hourly", 1, nil)
	assert.Equal(t, []string{"h2"}, marked)
	assert.False(t, c.Snapshots["h4"].Removed)
}
