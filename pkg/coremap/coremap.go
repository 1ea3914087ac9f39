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

// Package coremap implements the process-wide node_index -> global
// core-index addressing, built once at node-init and immutable
// thereafter except on an explicit reconfigure. Modelled on
// the one-time sysfs discovery in the resource manager's
// pkg/cpuallocator.sysfsSingleton, with the sysfs probe replaced by
// the injected collab.NodeTableReader.
package coremap

import (
	"fmt"

	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/collab"
)

// Map is the dense offset table: length N+1 such that offset[i] is
// node i's first global core index and offset[N] is the total core
// count C.
type Map struct {
	offsets []int // length N+1
	threads []int // per-node thread count, needed by the per-node aggregator's clamp/scale step
}

// Build constructs the core map from a node table, in node-table order.
func Build(nodes collab.NodeTableReader) *Map {
	n := nodes.NumNodes()
	m := &Map{
		offsets: make([]int, n+1),
		threads: make([]int, n),
	}
	off := 0
	for i := 0; i < n; i++ {
		attrs := nodes.Node(i)
		m.offsets[i] = off
		cores := attrs.Cores * attrs.Sockets
		if cores <= 0 {
			cores = attrs.CPUs
		}
		off += cores
		m.threads[i] = attrs.Threads
	}
	m.offsets[n] = off
	return m
}

// NumNodes returns N, the number of nodes in the map.
func (m *Map) NumNodes() int {
	return len(m.offsets) - 1
}

// TotalCores returns C, the total cluster-wide core count.
func (m *Map) TotalCores() int {
	return m.offsets[len(m.offsets)-1]
}

// CoreOffset returns the starting global core index of node i.
func (m *Map) CoreOffset(i int) int {
	m.checkNode(i)
	return m.offsets[i]
}

// CoreCount returns the number of cores belonging to node i.
func (m *Map) CoreCount(i int) int {
	m.checkNode(i)
	return m.offsets[i+1] - m.offsets[i]
}

// Threads returns the configured thread count of node i, used by the
// per-node aggregator to scale core-addressed allocations to thread units.
func (m *Map) Threads(i int) int {
	m.checkNode(i)
	return m.threads[i]
}

func (m *Map) checkNode(i int) {
	if i < 0 || i >= m.NumNodes() {
		panic(fmt.Sprintf("coremap: node index %d out of range [0,%d)", i, m.NumNodes()))
	}
}

// NewCoreBitmap returns a new, all-clear cluster-wide core bitmap of
// length C.
func (m *Map) NewCoreBitmap() *bitset.Set {
	return bitset.New(m.TotalCores())
}

// NewNodeBitmap returns a new, all-clear node bitmap of length N.
func (m *Map) NewNodeBitmap() *bitset.Set {
	return bitset.New(m.NumNodes())
}

// AvailableCoreMap returns the bitwise concatenation of the full core
// range of every node set in nodeSubset: the available core map
// filtered to a node subset.
func (m *Map) AvailableCoreMap(nodeSubset *bitset.Set) *bitset.Set {
	out := m.NewCoreBitmap()
	for i := 0; i < m.NumNodes(); i++ {
		if !nodeSubset.Test(i) {
			continue
		}
		lo, hi := m.CoreOffset(i), m.CoreOffset(i)+m.CoreCount(i)
		for c := lo; c < hi; c++ {
			out.Set(c)
		}
	}
	return out
}
