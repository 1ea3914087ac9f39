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

// Package nodeinfo implements the per-node info aggregator: the pass
// that recomputes each node's alloc_cpus/alloc_memory from the current
// row layout and usage table, feeding both the exported nodeinfo wire
// format and the metrics collector. Grounded on the recursive
// GrantedCPU() accumulation in the resource manager's
// policy/builtin/topology-aware/node.go, generalized from a single
// NUMA tree to a flat cluster-wide core bitmap union.
package nodeinfo

import (
	"time"

	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/rowpack"
)

// Info is the exported per-node snapshot: what nodeinfo_pack/unpack
// serializes and what TRES reporting reads.
type Info struct {
	AllocCPUs         uint32
	AllocMemory       uint64
	TRESAllocFmtStr   string
	TRESAllocWeighted float64
}

// Aggregator holds the last-computed per-node snapshot and the
// timestamp gate that makes SetAll a no-op when nothing has changed.
type Aggregator struct {
	cm    *coremap.Map
	usage *nodeusage.Table
	nodes collab.NodeTableReader
	tres  collab.TRESFormatter

	infos      []Info
	lastSetAll time.Time
}

// NewAggregator builds an aggregator sized for cm's node space.
func NewAggregator(cm *coremap.Map, usage *nodeusage.Table, nodes collab.NodeTableReader, tres collab.TRESFormatter) *Aggregator {
	return &Aggregator{
		cm:    cm,
		usage: usage,
		nodes: nodes,
		tres:  tres,
		infos: make([]Info, cm.NumNodes()),
	}
}

// Get returns the last-computed snapshot for node n.
func (a *Aggregator) Get(n int) Info {
	return a.infos[n]
}

// SetAll recomputes every node's Info from the given partition row
// tables, unless lastNodeUpdate is no later than the last successful
// SetAll (the controller-update-cycle gate). Returns whether a
// recompute actually ran.
func (a *Aggregator) SetAll(tables []*rowpack.Table, lastNodeUpdate time.Time) bool {
	if !lastNodeUpdate.After(a.lastSetAll) {
		return false
	}

	allocCores := a.cm.NewCoreBitmap()
	for _, t := range tables {
		for _, row := range t.Rows {
			allocCores.Or(row.FirstRowBitmap)
		}
	}

	for n := 0; n < a.cm.NumNodes(); n++ {
		lo, hi := a.cm.CoreOffset(n), a.cm.CoreOffset(n)+a.cm.CoreCount(n)
		cpus := allocCores.PopcountRange(lo, hi)
		if nodeCores := a.cm.CoreCount(n); cpus > nodeCores {
			cpus = nodeCores // over-subscription clamp
		}
		if a.nodes.Node(n).CoresAreUnits {
			cpus *= a.cm.Threads(n)
		}

		mem := a.usage.Get(n).AllocMemory
		a.infos[n] = Info{
			AllocCPUs:         uint32(cpus),
			AllocMemory:       mem,
			TRESAllocFmtStr:   a.tres.Format(uint32(cpus), mem),
			TRESAllocWeighted: a.tres.Weighted(uint32(cpus), mem),
		}
	}

	a.lastSetAll = lastNodeUpdate
	return true
}
