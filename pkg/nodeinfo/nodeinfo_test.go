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

package nodeinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/rowpack"
)

type fakeNodes []collab.NodeAttrs

func (f fakeNodes) NumNodes() int               { return len(f) }
func (f fakeNodes) Node(i int) collab.NodeAttrs { return f[i] }

type fakeTRES struct{}

func (fakeTRES) Format(cpus uint32, memory uint64) string { return "cpu=x,mem=y" }
func (fakeTRES) Weighted(cpus uint32, memory uint64) float64 {
	return float64(cpus) + float64(memory)/1e9
}

// Scenario 2's aggregator check: two jobs sharing a core on n0 across
// two rows OR to 1 via the aggregator (cores, not job count).
func TestSetAllUnionsRowsAndClamps(t *testing.T) {
	cm := coremap.Build(fakeNodes{
		{Sockets: 1, Cores: 2}, {Sockets: 1, Cores: 2},
	})
	usage := nodeusage.NewTable(cm.NumNodes())
	usage.AddMemory(0, 1024)

	row0 := rowpack.NewTable(1, cm)
	j1 := jobres.New("J1", "p", cm)
	j1.NodeBitmap.Set(0)
	j1.CoreBitmap.Set(0)
	row0.PlaceLowestAdmitting(j1)

	row1 := rowpack.NewTable(1, cm)
	j2 := jobres.New("J2", "p", cm)
	j2.NodeBitmap.Set(0)
	j2.CoreBitmap.Set(0)
	row1.PlaceLowestAdmitting(j2)

	agg := NewAggregator(cm, usage, fakeNodes{
		{Sockets: 1, Cores: 2}, {Sockets: 1, Cores: 2},
	}, fakeTRES{})

	changed := agg.SetAll([]*rowpack.Table{row0, row1}, time.Unix(100, 0))
	require.True(t, changed)

	info := agg.Get(0)
	require.Equal(t, uint32(1), info.AllocCPUs)
	require.Equal(t, uint64(1024), info.AllocMemory)
}

func TestSetAllClampsOverSubscription(t *testing.T) {
	cm := coremap.Build(fakeNodes{{Sockets: 1, Cores: 1}})
	usage := nodeusage.NewTable(1)

	// Two independent row tables each claim node 0's single core; the
	// node still reports its one core, not one per table.
	t0 := rowpack.NewTable(1, cm)
	j1 := jobres.New("J1", "p", cm)
	j1.NodeBitmap.Set(0)
	j1.CoreBitmap.Set(0)
	t0.PlaceLowestAdmitting(j1)

	t1 := rowpack.NewTable(1, cm)
	j2 := jobres.New("J2", "p", cm)
	j2.NodeBitmap.Set(0)
	j2.CoreBitmap.Set(0)
	t1.PlaceLowestAdmitting(j2)

	agg := NewAggregator(cm, usage, fakeNodes{{Sockets: 1, Cores: 1}}, fakeTRES{})
	agg.SetAll([]*rowpack.Table{t0, t1}, time.Unix(1, 0))
	require.Equal(t, uint32(1), agg.Get(0).AllocCPUs)
}

func TestSetAllScalesByThreadsWhenCoreAddressed(t *testing.T) {
	cm := coremap.Build(fakeNodes{{Sockets: 1, Cores: 1, Threads: 4}})
	usage := nodeusage.NewTable(1)

	t0 := rowpack.NewTable(1, cm)
	j1 := jobres.New("J1", "p", cm)
	j1.NodeBitmap.Set(0)
	j1.CoreBitmap.Set(0)
	t0.PlaceLowestAdmitting(j1)

	agg := NewAggregator(cm, usage, fakeNodes{{Sockets: 1, Cores: 1, Threads: 4, CoresAreUnits: true}}, fakeTRES{})
	agg.SetAll([]*rowpack.Table{t0}, time.Unix(1, 0))
	require.Equal(t, uint32(4), agg.Get(0).AllocCPUs)
}

// SetAll only recomputes when lastNodeUpdate is strictly newer than the
// last recompute; an equal or older timestamp is a no-op.
func TestSetAllIsNoOpWithoutNewerUpdate(t *testing.T) {
	cm := coremap.Build(fakeNodes{{Sockets: 1, Cores: 2}})
	usage := nodeusage.NewTable(1)
	agg := NewAggregator(cm, usage, fakeNodes{{Sockets: 1, Cores: 2}}, fakeTRES{})

	require.True(t, agg.SetAll(nil, time.Unix(10, 0)))
	require.False(t, agg.SetAll(nil, time.Unix(10, 0)), "same timestamp must be a no-op")
	require.False(t, agg.SetAll(nil, time.Unix(5, 0)), "older timestamp must be a no-op")
}
