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

// Package jobres implements the per-job packed resource descriptor and
// the node-extraction primitive a shrink builds on.
package jobres

import (
	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/coremap"
)

// NodeReq is the job's row-placement request mode.
type NodeReq int

const (
	// Exclusive means the job consumes its nodes' entire core budget.
	Exclusive NodeReq = iota
	// OneRow means the job must share a single row with other jobs.
	OneRow
	// AnyRow means the job tolerates placement in any admitting row.
	AnyRow
)

// JobResources is the packed per-job record. All
// per-host slices (CPUs, CPUsUsed, MemoryAllocated, MemoryUsed) are
// indexed in the same order as the set bits of NodeBitmap, ascending.
type JobResources struct {
	ID            string
	PartitionName string

	NodeBitmap      *bitset.Set // which of the N nodes the job uses
	CoreBitmap      *bitset.Set // which of the C cores the job uses
	CoreBitmapUsed  *bitset.Set // optional running subset of busy cores, nil if unused

	CPUs            []int    // cpus[h]: CPU count on the h-th selected node
	CPUsUsed        []int    // cpus_used[h]: CPU count in use
	MemoryAllocated []uint64 // memory_allocated[h]: bytes reserved
	MemoryUsed      []uint64 // memory_used[h]: bytes in use

	NCPUs    int // sum(CPUs)
	NHosts   int // popcount(NodeBitmap)
	NodeReq  NodeReq
	WholeNode bool

	GRES []interface{} // opaque GRES tokens, owned by collab.GRESManager
}

// New allocates an empty JobResources sized for cm's node/core space.
func New(id, partition string, cm *coremap.Map) *JobResources {
	return &JobResources{
		ID:            id,
		PartitionName: partition,
		NodeBitmap:    cm.NewNodeBitmap(),
		CoreBitmap:    cm.NewCoreBitmap(),
	}
}

// RecomputeTotals recomputes NHosts and NCPUs from NodeBitmap/CPUs.
// Callers that mutate CPUs or NodeBitmap directly must call this
// before relying on NCPUs/NHosts again.
func (j *JobResources) RecomputeTotals() {
	j.NHosts = j.NodeBitmap.Popcount()
	n := 0
	for _, c := range j.CPUs {
		n += c
	}
	j.NCPUs = n
}

// HostIndex returns the position h of the given global node index
// within the job's per-host arrays, or -1 if the node is not in
// NodeBitmap.
func (j *JobResources) HostIndex(nodeIdx int) int {
	if !j.NodeBitmap.Test(nodeIdx) {
		return -1
	}
	h := 0
	for i := 0; i < nodeIdx; i++ {
		if j.NodeBitmap.Test(i) {
			h++
		}
	}
	return h
}

// Jstart computes the job's canonical global starting core index:
// core_offset(first selected node) + first set bit of core_bitmap.
// Used to order jobs for row packing.
func (j *JobResources) Jstart(cm *coremap.Map) int {
	first := j.NodeBitmap.FirstSet()
	if first < 0 {
		return 0
	}
	return cm.CoreOffset(first) + j.CoreBitmap.FirstSet()
}

// ExtractNode removes the node at host position h from the job: it
// drops the node from NodeBitmap, shifts the per-host arrays down,
// and clears that node's core-range bits from CoreBitmap. Used by
// a shrink.
func ExtractNode(j *JobResources, cm *coremap.Map, nodeIdx int) {
	h := j.HostIndex(nodeIdx)
	if h < 0 {
		return
	}

	lo, hi := cm.CoreOffset(nodeIdx), cm.CoreOffset(nodeIdx)+cm.CoreCount(nodeIdx)
	for c := lo; c < hi; c++ {
		j.CoreBitmap.Clear(c)
		if j.CoreBitmapUsed != nil {
			j.CoreBitmapUsed.Clear(c)
		}
	}

	j.NodeBitmap.Clear(nodeIdx)
	j.CPUs = append(j.CPUs[:h], j.CPUs[h+1:]...)
	if j.CPUsUsed != nil {
		j.CPUsUsed = append(j.CPUsUsed[:h], j.CPUsUsed[h+1:]...)
	}
	j.MemoryAllocated = append(j.MemoryAllocated[:h], j.MemoryAllocated[h+1:]...)
	if j.MemoryUsed != nil {
		j.MemoryUsed = append(j.MemoryUsed[:h], j.MemoryUsed[h+1:]...)
	}

	j.RecomputeTotals()
}

// Clone returns a deep, independent copy of j.
func (j *JobResources) Clone() *JobResources {
	c := &JobResources{
		ID:              j.ID,
		PartitionName:   j.PartitionName,
		NodeBitmap:      j.NodeBitmap.Clone(),
		CoreBitmap:      j.CoreBitmap.Clone(),
		CPUs:            append([]int(nil), j.CPUs...),
		CPUsUsed:        append([]int(nil), j.CPUsUsed...),
		MemoryAllocated: append([]uint64(nil), j.MemoryAllocated...),
		MemoryUsed:      append([]uint64(nil), j.MemoryUsed...),
		NCPUs:           j.NCPUs,
		NHosts:          j.NHosts,
		NodeReq:         j.NodeReq,
		WholeNode:       j.WholeNode,
		GRES:            append([]interface{}(nil), j.GRES...),
	}
	if j.CoreBitmapUsed != nil {
		c.CoreBitmapUsed = j.CoreBitmapUsed.Clone()
	}
	return c
}
