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

// Package collab declares the narrow traits the core consumes from its
// host controller: a node table reader, a GRES manager, and a TRES
// formatter. The core never imports a concrete implementation of any
// of these, mirroring how the resource manager keeps its policy
// packages free of any one runtime's concrete client.
package collab

// NodeAttrs is the subset of node attributes node_init consumes from
// a referenced, not owned, node record.
type NodeAttrs struct {
	Name          string
	Sockets       int
	Cores         int
	Threads       int
	CPUs          int
	RealMemory    uint64
	MemSpecLimit  uint64
	NetworkAddr   string
	CoresAreUnits bool // true when the node's addressable unit is the core, not the thread
}

// NodeTableReader gives node_init read-only access to the controller's
// node records, in stable index order, to build the core map.
type NodeTableReader interface {
	// NumNodes returns the number of nodes in the table.
	NumNodes() int
	// Node returns the attributes of the i-th node.
	Node(i int) NodeAttrs
}

// GRESManager is the contract-only GRES bookkeeping collaborator; GRES
// itself is out of scope here beyond the hooks a resize or merge needs
// to call out to it.
type GRESManager interface {
	// ReleaseOnNode releases whatever GRES the job holds on the given
	// node index, called while draining a node out of a running job.
	ReleaseOnNode(jobID string, nodeIdx int) error
	// Merge transfers fromJobID's GRES holdings into toJobID's, called
	// while folding one job's allocation into another's.
	Merge(fromJobID, toJobID string) error
}

// TRESFormatter is the contract-only TRES accounting collaborator the
// per-node aggregator calls to render the per-node totals.
type TRESFormatter interface {
	// Format renders a human-readable TRES allocation string for the
	// given CPU/memory totals.
	Format(cpus uint32, memory uint64) string
	// Weighted computes the weighted TRES value for the given totals.
	Weighted(cpus uint32, memory uint64) float64
}
