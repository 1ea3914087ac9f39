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

// Package metrics implements the Prometheus collector exposing row
// occupancy, excess-rows counts, and per-node alloc_cpus/alloc_memory
// gauges. Grounded on the descriptor-table/DescribeMetrics/
// CollectMetrics shape in the resource manager's
// policy/builtin/podpools/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/nodeinfo"
	"github.com/coreplace/crselect/pkg/rowpack"
)

// Prometheus metric descriptor indices and descriptor table.
const (
	rowOccupiedDesc = iota
	rowTotalDesc
	excessRowsTotalDesc
	nodeAllocCPUsDesc
	nodeAllocMemoryDesc
)

var descriptors = []*prometheus.Desc{
	rowOccupiedDesc: prometheus.NewDesc(
		"crselect_partition_rows_occupied",
		"Number of occupied rows in a partition's row table",
		[]string{"partition"}, nil,
	),
	rowTotalDesc: prometheus.NewDesc(
		"crselect_partition_rows_total",
		"Total number of rows in a partition's row table",
		[]string{"partition"}, nil,
	),
	excessRowsTotalDesc: prometheus.NewDesc(
		"crselect_excess_rows_total",
		"Cumulative count of jobs that required growing a partition's row table",
		nil, nil,
	),
	nodeAllocCPUsDesc: prometheus.NewDesc(
		"crselect_node_alloc_cpus",
		"Allocated CPU count for a node",
		[]string{"node"}, nil,
	),
	nodeAllocMemoryDesc: prometheus.NewDesc(
		"crselect_node_alloc_memory",
		"Allocated memory in bytes for a node",
		[]string{"node"}, nil,
	),
}

// PartitionTables is a named view over a set of partitions' row
// tables, supplied by the caller at collect time.
type PartitionTables map[string]*rowpack.Table

// NodeNamer resolves a node index to the name string a metric label
// should carry.
type NodeNamer interface {
	NodeName(n int) string
}

// Collector implements prometheus.Collector. It holds no state of its
// own beyond a running excess-rows counter; row tables and per-node
// info are read fresh from the supplied sources on every Collect.
type Collector struct {
	cm         *coremap.Map
	agg        *nodeinfo.Aggregator
	names      NodeNamer
	partitions func() PartitionTables
	excessRows uint64
}

// NewCollector builds a Collector. partitions is called once per
// Collect to obtain the current partition row tables; agg supplies
// the last-computed per-node alloc_cpus/alloc_memory snapshot.
func NewCollector(cm *coremap.Map, agg *nodeinfo.Aggregator, names NodeNamer, partitions func() PartitionTables) *Collector {
	return &Collector{cm: cm, agg: agg, names: names, partitions: partitions}
}

// BumpExcessRows increments the cumulative excess-rows counter. Called
// by the partition package whenever ErrExcessRows is surfaced.
func (c *Collector) BumpExcessRows() {
	c.excessRows++
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, t := range c.partitions() {
		ch <- prometheus.MustNewConstMetric(
			descriptors[rowOccupiedDesc], prometheus.GaugeValue,
			float64(t.OccupiedRows()), name,
		)
		ch <- prometheus.MustNewConstMetric(
			descriptors[rowTotalDesc], prometheus.GaugeValue,
			float64(t.NumRows()), name,
		)
	}

	ch <- prometheus.MustNewConstMetric(
		descriptors[excessRowsTotalDesc], prometheus.CounterValue,
		float64(c.excessRows),
	)

	if c.agg == nil {
		return
	}
	for n := 0; n < c.cm.NumNodes(); n++ {
		info := c.agg.Get(n)
		name := c.names.NodeName(n)
		ch <- prometheus.MustNewConstMetric(
			descriptors[nodeAllocCPUsDesc], prometheus.GaugeValue,
			float64(info.AllocCPUs), name,
		)
		ch <- prometheus.MustNewConstMetric(
			descriptors[nodeAllocMemoryDesc], prometheus.GaugeValue,
			float64(info.AllocMemory), name,
		)
	}
}
