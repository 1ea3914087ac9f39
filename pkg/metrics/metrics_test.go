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

package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/nodeinfo"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/rowpack"
)

type fakeNodes []collab.NodeAttrs

func (f fakeNodes) NumNodes() int               { return len(f) }
func (f fakeNodes) Node(i int) collab.NodeAttrs { return f[i] }

type fakeTRES struct{}

func (fakeTRES) Format(cpus uint32, memory uint64) string   { return "" }
func (fakeTRES) Weighted(cpus uint32, memory uint64) float64 { return 0 }

type fakeNamer struct{}

func (fakeNamer) NodeName(n int) string { return fmt.Sprintf("n%d", n) }

func collectAll(t *testing.T, c *Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var out []*dto.Metric
	for m := range ch {
		pb := &dto.Metric{}
		require.NoError(t, m.Write(pb))
		out = append(out, pb)
	}
	return out
}

func TestCollectReportsRowOccupancyAndExcessRows(t *testing.T) {
	nodes := fakeNodes{{Sockets: 1, Cores: 2}}
	cm := coremap.Build(nodes)
	usage := nodeusage.NewTable(cm.NumNodes())
	agg := nodeinfo.NewAggregator(cm, usage, nodes, fakeTRES{})
	agg.SetAll(nil, time.Unix(1, 0))

	row := rowpack.NewTable(2, cm)
	j := jobres.New("J1", "batch", cm)
	j.NodeBitmap.Set(0)
	j.CoreBitmap.Set(0)
	row.PlaceLowestAdmitting(j)

	c := NewCollector(cm, agg, fakeNamer{}, func() PartitionTables {
		return PartitionTables{"batch": row}
	})
	c.BumpExcessRows()
	c.BumpExcessRows()

	metrics := collectAll(t, c)
	require.NotEmpty(t, metrics)

	var sawExcess, sawOccupied bool
	for _, m := range metrics {
		if m.Counter != nil && m.Counter.GetValue() == 2 {
			sawExcess = true
		}
		if m.Gauge != nil && m.Gauge.GetValue() == 1 {
			sawOccupied = true
		}
	}
	require.True(t, sawExcess, "excess rows counter must report 2")
	require.True(t, sawOccupied, "occupied rows gauge must report 1")
}

func TestCollectReportsPerNodeGauges(t *testing.T) {
	nodes := fakeNodes{{Sockets: 1, Cores: 2}}
	cm := coremap.Build(nodes)
	usage := nodeusage.NewTable(cm.NumNodes())
	usage.AddMemory(0, 2048)
	agg := nodeinfo.NewAggregator(cm, usage, nodes, fakeTRES{})

	row := rowpack.NewTable(1, cm)
	j := jobres.New("J1", "batch", cm)
	j.NodeBitmap.Set(0)
	j.CoreBitmap.Set(0)
	row.PlaceLowestAdmitting(j)
	agg.SetAll([]*rowpack.Table{row}, time.Unix(1, 0))

	c := NewCollector(cm, agg, fakeNamer{}, func() PartitionTables {
		return PartitionTables{"batch": row}
	})

	var sawCPUs, sawMemory bool
	for _, m := range collectAll(t, c) {
		for _, l := range m.Label {
			if l.GetName() == "node" && l.GetValue() == "n0" && m.Gauge != nil {
				if m.Gauge.GetValue() == 1 {
					sawCPUs = true
				}
				if m.Gauge.GetValue() == 2048 {
					sawMemory = true
				}
			}
		}
	}
	require.True(t, sawCPUs, "node 0 alloc_cpus must report 1")
	require.True(t, sawMemory, "node 0 alloc_memory must report 2048")
}
