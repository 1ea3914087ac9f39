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

// Package nodeusage implements the per-node usage accounting record:
// running alloc_memory totals and a coarse node_state counter, mutated
// only by add/remove/shrink. Modelled on the running-total accumulation
// style of the resource
// manager's Node.GrantedCPU (policy/builtin/topology-aware/node.go).
package nodeusage

import (
	"github.com/coreplace/crselect/pkg/crerrors"
	"github.com/coreplace/crselect/pkg/jobres"
	logger "github.com/coreplace/crselect/pkg/log"
)

var log = logger.NewLogger("nodeusage")

// Usage is the per-node running-total record.
type Usage struct {
	AllocMemory uint64
	NodeState   int
	GRES        []interface{} // optional per-node GRES override
}

// Table is the process-wide node_index -> *Usage map built alongside
// the core map at node_init.
type Table struct {
	usage []Usage
}

// NewTable allocates a usage table for numNodes nodes.
func NewTable(numNodes int) *Table {
	return &Table{usage: make([]Usage, numNodes)}
}

// Get returns the usage record for the given node index.
func (t *Table) Get(nodeIdx int) *Usage {
	return &t.usage[nodeIdx]
}

// AddMemory adds amount to the node's alloc_memory.
func (t *Table) AddMemory(nodeIdx int, amount uint64) {
	t.usage[nodeIdx].AllocMemory += amount
}

// SubMemory subtracts amount from the node's alloc_memory, saturating
// at zero. A would-be-negative result is logged as an invariant
// underflow and execution continues.
func (t *Table) SubMemory(nodeIdx int, amount uint64) {
	u := &t.usage[nodeIdx]
	if amount > u.AllocMemory {
		log.Error("node %d: alloc_memory underflow (have %d, releasing %d): %v",
			nodeIdx, u.AllocMemory, amount, crerrors.Wrap(crerrors.ErrInvariantUnderflow, "node %d", nodeIdx))
		u.AllocMemory = 0
		return
	}
	u.AllocMemory -= amount
}

// BumpState increases node_state by delta (delta is usually
// jobres.NodeReq interpreted as a weight).
func (t *Table) BumpState(nodeIdx int, delta int) {
	t.usage[nodeIdx].NodeState += delta
}

// UnbumpState decreases node_state by delta, saturating at zero and
// logging an invariant underflow on would-be-negative results.
func (t *Table) UnbumpState(nodeIdx int, delta int) {
	u := &t.usage[nodeIdx]
	if delta > u.NodeState {
		log.Error("node %d: node_state underflow (have %d, releasing %d): %v",
			nodeIdx, u.NodeState, delta, crerrors.Wrap(crerrors.ErrInvariantUnderflow, "node %d", nodeIdx))
		u.NodeState = 0
		return
	}
	u.NodeState -= delta
}

// reqWeight maps a job's NodeReq to the node_state weight bumped by
// add/remove.
func reqWeight(req jobres.NodeReq) int {
	switch req {
	case jobres.Exclusive:
		return 2
	case jobres.OneRow:
		return 1
	default: // AnyRow
		return 1
	}
}

// ApplyAdd applies the memory and node_state effects of adding job j
// to the partition, for every node the job selects.
func (t *Table) ApplyAdd(j *jobres.JobResources) {
	weight := reqWeight(j.NodeReq)
	h := 0
	for n := 0; n < j.NodeBitmap.Len(); n++ {
		if !j.NodeBitmap.Test(n) {
			continue
		}
		t.AddMemory(n, j.MemoryAllocated[h])
		t.BumpState(n, weight)
		h++
	}
}

// ApplyRemove applies the inverse of ApplyAdd.
func (t *Table) ApplyRemove(j *jobres.JobResources) {
	weight := reqWeight(j.NodeReq)
	h := 0
	for n := 0; n < j.NodeBitmap.Len(); n++ {
		if !j.NodeBitmap.Test(n) {
			continue
		}
		t.SubMemory(n, j.MemoryAllocated[h])
		t.UnbumpState(n, weight)
		h++
	}
}
