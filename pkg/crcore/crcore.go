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

// Package crcore threads the node map, per-node usage table, partition
// set and collaborators through a single Context value and exposes the
// external operation table (node_init, job_test, add/remove/resize/
// expand/suspend/resume_job, resv_test, nodeinfo_set_all/pack/unpack).
// The resource manager's source keeps the equivalent state in global
// tables (node_record_table, part_list, ...) reached through
// weak-linked plugin symbols; this rewrites that as a Context value
// the caller owns and an injected collab trait per collaborator,
// exactly as the design notes call for instead of package-level
// globals.
package crcore

import (
	"time"

	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/crerrors"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/nodeinfo"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/partition"
	"github.com/coreplace/crselect/pkg/reservation"
	"github.com/coreplace/crselect/pkg/rowpack"
)

// Context is the full process-wide state the core threads through
// every operation: the core map built once at node_init, the per-node
// usage table, the set of partitions known to the caller, the
// per-node aggregator, and the injected collaborators.
type Context struct {
	CM    *coremap.Map
	Usage *nodeusage.Table
	Nodes collab.NodeTableReader
	GRES  collab.GRESManager
	TRES  collab.TRESFormatter

	Partitions map[string]*partition.Partition
	Agg        *nodeinfo.Aggregator

	// Switches is the optional interconnect tree for topology-aware
	// reservation; nil when no topology is configured, in which case
	// ResvTest falls back to sequential/first-cores picks.
	Switches []reservation.SwitchRecord

	// OnExcessRows, if set, is wired into every partition AddPartition
	// creates from here on, so a caller need only set this once (e.g. to
	// a metrics.Collector's BumpExcessRows) rather than wire each
	// partition individually.
	OnExcessRows func()
}

// NodeInit builds the core map and usage table from the given node
// table and returns a fresh Context. Mirrors node_init: called once at
// startup and again only on an explicit reconfigure.
func NodeInit(nodes collab.NodeTableReader, gres collab.GRESManager, tres collab.TRESFormatter) *Context {
	cm := coremap.Build(nodes)
	usage := nodeusage.NewTable(cm.NumNodes())
	return &Context{
		CM:         cm,
		Usage:      usage,
		Nodes:      nodes,
		GRES:       gres,
		TRES:       tres,
		Partitions: make(map[string]*partition.Partition),
		Agg:        nodeinfo.NewAggregator(cm, usage, nodes, tres),
	}
}

// AddPartition registers a partition with numRows rows (derived by the
// caller, typically via pkg/config's PartitionPolicy.NumRows, from the
// partition's over-subscription policy string).
func (ctx *Context) AddPartition(name string, numRows int) *partition.Partition {
	p := partition.NewPartition(name, numRows, ctx.CM)
	p.OnExcessRows = ctx.OnExcessRows
	ctx.Partitions[name] = p
	return p
}

func (ctx *Context) partitionFor(job *jobres.JobResources) (*partition.Partition, error) {
	p, ok := ctx.Partitions[job.PartitionName]
	if !ok {
		return nil, crerrors.Wrap(crerrors.ErrNotFound, "context: no such partition %q", job.PartitionName)
	}
	return p, nil
}

// AddJob places job into its PartitionName's row table and bumps
// per-node usage.
func (ctx *Context) AddJob(job *jobres.JobResources, action partition.Action) error {
	p, err := ctx.partitionFor(job)
	if err != nil {
		return err
	}
	return partition.AddJob(p, ctx.Usage, job, action)
}

// RemoveJob is the inverse of AddJob.
func (ctx *Context) RemoveJob(job *jobres.JobResources, action partition.Action) error {
	p, err := ctx.partitionFor(job)
	if err != nil {
		return err
	}
	return partition.RemoveJob(p, ctx.Usage, job, action)
}

// ResizeJob drains nodeIdx out of job (shrink).
func (ctx *Context) ResizeJob(job *jobres.JobResources, nodeIdx int, suspended bool) error {
	p, err := ctx.partitionFor(job)
	if err != nil {
		return err
	}
	return partition.ResizeJob(p, ctx.Usage, ctx.CM, job, nodeIdx, ctx.GRES, suspended)
}

// ExpandJob merges from's allocation into to (must share a partition).
func (ctx *Context) ExpandJob(from, to *jobres.JobResources) (*jobres.JobResources, error) {
	fromPart, err := ctx.partitionFor(from)
	if err != nil {
		return nil, err
	}
	toPart, err := ctx.partitionFor(to)
	if err != nil {
		return nil, err
	}
	return partition.ExpandJob(ctx.CM, ctx.Usage, fromPart, toPart, from, to, ctx.GRES)
}

// SuspendJob removes job's row placement but leaves memory accounting
// intact.
func (ctx *Context) SuspendJob(job *jobres.JobResources, gang bool) error {
	p, err := ctx.partitionFor(job)
	if err != nil {
		return err
	}
	return partition.SuspendJob(p, job, gang)
}

// ResumeJob re-adds job's cores to a row and re-bumps node-state
// counters.
func (ctx *Context) ResumeJob(job *jobres.JobResources, gang bool) error {
	p, err := ctx.partitionFor(job)
	if err != nil {
		return err
	}
	return partition.ResumeJob(p, ctx.Usage, job, gang)
}

// NodeInfoSetAll runs the per-node aggregator pass over every known
// partition's row table, gated by lastNodeUpdate against the
// aggregator's own last-run timestamp (a no-op when nothing changed
// since). Returns whether a recompute actually ran.
func (ctx *Context) NodeInfoSetAll(lastNodeUpdate time.Time) bool {
	tables := make([]*rowpack.Table, 0, len(ctx.Partitions))
	for _, p := range ctx.Partitions {
		tables = append(tables, p.Rows)
	}
	return ctx.Agg.SetAll(tables, lastNodeUpdate)
}

// NodeInfo returns the last-computed per-node snapshot for node n.
func (ctx *Context) NodeInfo(n int) nodeinfo.Info {
	return ctx.Agg.Get(n)
}

// ResvTest carves nodeCnt nodes (and, when coreCnt is given, cores)
// out of avail using whichever placement algorithm the request calls
// for: first-cores when flags requests it, topology best-fit when a
// switch tree is configured, sequential otherwise. coreBitmap marks
// cores unavailable on input and gains the newly reserved ones on
// output.
func (ctx *Context) ResvTest(avail *bitset.Set, nodeCnt int, coreCnt []int, flags reservation.Flags, coreBitmap *bitset.Set) (*bitset.Set, error) {
	if flags&reservation.FirstCores != 0 {
		return reservation.FirstCoresPick(ctx.CM, avail, coreCnt, coreBitmap)
	}
	if len(ctx.Switches) > 0 {
		return reservation.TopologyBestFit(ctx.CM, ctx.Switches, avail, nodeCnt, coreCnt, coreBitmap)
	}
	return reservation.SequentialPick(ctx.CM, avail, nodeCnt, coreCnt, coreBitmap)
}
