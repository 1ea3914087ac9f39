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

package nodeusage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/jobres"
)

func TestAddRemoveMemorySymmetric(t *testing.T) {
	tbl := NewTable(2)
	j := &jobres.JobResources{
		NodeBitmap:      bitset.New(2),
		MemoryAllocated: []uint64{100, 200},
		NodeReq:         jobres.OneRow,
	}
	j.NodeBitmap.Set(0)
	j.NodeBitmap.Set(1)

	tbl.ApplyAdd(j)
	require.Equal(t, uint64(100), tbl.Get(0).AllocMemory)
	require.Equal(t, uint64(200), tbl.Get(1).AllocMemory)
	require.Equal(t, 1, tbl.Get(0).NodeState)

	tbl.ApplyRemove(j)
	require.Equal(t, uint64(0), tbl.Get(0).AllocMemory)
	require.Equal(t, uint64(0), tbl.Get(1).AllocMemory)
	require.Equal(t, 0, tbl.Get(0).NodeState)
}

func TestSubMemorySaturatesAtZero(t *testing.T) {
	tbl := NewTable(1)
	tbl.AddMemory(0, 10)
	tbl.SubMemory(0, 50)
	require.Equal(t, uint64(0), tbl.Get(0).AllocMemory)
}

func TestUnbumpStateSaturatesAtZero(t *testing.T) {
	tbl := NewTable(1)
	tbl.BumpState(0, 1)
	tbl.UnbumpState(0, 5)
	require.Equal(t, 0, tbl.Get(0).NodeState)
}
