/*
Copyright 2019 Intel Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rowpack

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/jobres"
)

type fakeNodes []collab.NodeAttrs

func (f fakeNodes) NumNodes() int               { return len(f) }
func (f fakeNodes) Node(i int) collab.NodeAttrs { return f[i] }

func fourByTwo() *coremap.Map {
	return coremap.Build(fakeNodes{
		{Sockets: 1, Cores: 2}, {Sockets: 1, Cores: 2},
		{Sockets: 1, Cores: 2}, {Sockets: 1, Cores: 2},
	})
}

func mkJob(id string, cm *coremap.Map, nodes []int, cores []int) *jobres.JobResources {
	j := jobres.New(id, "p", cm)
	for _, n := range nodes {
		j.NodeBitmap.Set(n)
	}
	for _, c := range cores {
		j.CoreBitmap.Set(c)
	}
	j.CPUs = make([]int, len(nodes))
	for i := range j.CPUs {
		j.CPUs[i] = 1
	}
	j.MemoryAllocated = make([]uint64, len(nodes))
	j.RecomputeTotals()
	return j
}

// Scenario 1 (spec §8.1): dense row-packing case.
func TestRowPackingDenseCase(t *testing.T) {
	cm := fourByTwo()
	table := NewTable(1, cm)

	j1 := mkJob("J1", cm, []int{0, 1, 2, 3}, []int{0, 1, 2, 3, 4, 5, 6, 7})
	idx, ok := table.PlaceLowestAdmitting(j1)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	j2 := mkJob("J2", cm, []int{0}, []int{0})
	_, ok = table.PlaceLowestAdmitting(j2)
	require.False(t, ok, "row is full, J2 must be refused")

	// remove J1
	ridx, ok := table.FindJobRow("J1")
	require.True(t, ok)
	require.True(t, table.RemoveJobFromRow(ridx, "J1"))
	applied := table.Rebuild(j1)
	require.True(t, applied)

	idx, ok = table.PlaceLowestAdmitting(j2)
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

// Scenario 2 (spec §8.2): two-row sharing.
func TestTwoRowSharing(t *testing.T) {
	cm := fourByTwo()
	table := NewTable(2, cm)

	j1 := mkJob("J1", cm, []int{0}, []int{0})
	j2 := mkJob("J2", cm, []int{0}, []int{0})

	idx1, ok := table.PlaceLowestAdmitting(j1)
	require.True(t, ok)
	require.Equal(t, 0, idx1)

	idx2, ok := table.PlaceLowestAdmitting(j2)
	require.True(t, ok)
	require.Equal(t, 1, idx2)
}

func TestRebuildSingleRowFastPath(t *testing.T) {
	cm := fourByTwo()
	table := NewTable(1, cm)
	j1 := mkJob("J1", cm, []int{0}, []int{0})
	j2 := mkJob("J2", cm, []int{0}, []int{1})
	table.PlaceLowestAdmitting(j1)
	table.PlaceLowestAdmitting(j2)

	ridx, _ := table.FindJobRow("J1")
	table.RemoveJobFromRow(ridx, "J1")
	table.Rebuild(j1)

	require.Equal(t, "1", table.Rows[0].FirstRowBitmap.String())
}

// Property P3 (spec §8): rebuild never increases non-empty row count.
func TestRebuildNeverIncreasesOccupiedRows(t *testing.T) {
	cm := fourByTwo()
	table := NewTable(3, cm)

	j1 := mkJob("J1", cm, []int{0}, []int{0})
	j2 := mkJob("J2", cm, []int{0}, []int{1})
	j3 := mkJob("J3", cm, []int{1}, []int{2})
	table.PlaceLowestAdmitting(j1)
	table.PlaceLowestAdmitting(j2)
	table.PlaceLowestAdmitting(j3)

	before := table.OccupiedRows()

	ridx, _ := table.FindJobRow("J2")
	table.RemoveJobFromRow(ridx, "J2")
	table.Rebuild(nil)

	after := table.OccupiedRows()
	require.LessOrEqual(t, after, before)
}

// Property (spec §4.2 step 6): a rebuild that cannot place every job
// (a "dangling" job) is discarded entirely and the prior layout restored.
func TestRebuildRollbackOnDanglingJob(t *testing.T) {
	cm := fourByTwo()
	table := NewTable(2, cm)

	jA := mkJob("A", cm, []int{0}, []int{0})
	jB := mkJob("B", cm, []int{0}, []int{0})
	table.PlaceLowestAdmitting(jA) // row 0
	table.PlaceLowestAdmitting(jB) // row 1

	// Inject a third same-core job directly into row 0's job list,
	// without reconciling the bitmap, to construct a genuinely
	// unplaceable (dangling) state: three mutually-conflicting jobs
	// competing for two rows.
	jC := mkJob("C", cm, []int{0}, []int{0})
	table.Rows[0].JobList = append(table.Rows[0].JobList, jC)

	type rowState struct {
		bitmap string
		jobIDs []string
	}
	snapshotStates := func() []rowState {
		out := make([]rowState, len(table.Rows))
		for i, r := range table.Rows {
			ids := make([]string, len(r.JobList))
			for k, j := range r.JobList {
				ids[k] = j.ID
			}
			out[i] = rowState{bitmap: r.FirstRowBitmap.String(), jobIDs: ids}
		}
		return out
	}

	before := snapshotStates()
	ok := table.Rebuild(nil)
	require.False(t, ok, "three mutually-conflicting jobs cannot fit two rows")

	after := snapshotStates()
	require.Empty(t, cmp.Diff(before, after, cmpopts.EquateEmpty()))
}
