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

// Package partition implements the job lifecycle operations (add,
// remove, shrink, merge, suspend/resume) on top of the
// rowpack row table and the nodeusage accounting table. Grounded on
// the add/release symmetry in the resource manager's
// policy/builtin/static/static-policy.go (allocateReserved paired with
// its release path).
package partition

import (
	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/crerrors"
	"github.com/coreplace/crselect/pkg/jobres"
	logger "github.com/coreplace/crselect/pkg/log"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/rowpack"
)

var log = logger.NewLogger("partition")

// Action is the lifecycle action a caller is performing, passed
// alongside a job to add_job/remove_job.
type Action int

const (
	// Normal is a regular add/remove.
	Normal Action = iota
	// Suspend holds the job's memory but removes its row placement.
	Suspend
	// Gang is a gang-suspend: a bookkeeping no-op.
	Gang
)

// Partition is a single partition's row-packing state.
type Partition struct {
	Name string
	Rows *rowpack.Table

	// OnExcessRows, if set, is called every time add_job/resume_job
	// grows the row table beyond its configured count, once per
	// occurrence. Wired to a metrics collector's excess-rows counter by
	// the caller; nil is a valid no-op default.
	OnExcessRows func()
}

// NewPartition creates a partition with numRows rows (derived by the
// caller from the partition's over-subscription policy string).
func NewPartition(name string, numRows int, cm *coremap.Map) *Partition {
	return &Partition{Name: name, Rows: rowpack.NewTable(numRows, cm)}
}

func (p *Partition) bumpExcessRows() {
	if p.OnExcessRows != nil {
		p.OnExcessRows()
	}
}

// AddJob bumps per-node memory/state usage, then (unless action is
// Suspend) places the job into the lowest-index admitting row, growing
// the table and surfacing ErrExcessRows if none of the existing rows
// admit it.
func AddJob(p *Partition, usage *nodeusage.Table, job *jobres.JobResources, action Action) error {
	if job == nil || job.NodeBitmap == nil || job.NHosts == 0 {
		return crerrors.Wrap(crerrors.ErrBadArgument, "add_job: empty job resources")
	}

	usage.ApplyAdd(job)

	if action == Suspend {
		return nil
	}

	if _, ok := p.Rows.PlaceLowestAdmitting(job); ok {
		return nil
	}

	// None of the existing rows admit: grow. This should never happen
	// when num_rows reflects the over-subscription policy correctly;
	// surfaced as ErrExcessRows but the job is still placed so future
	// placement queries stay consistent.
	idx := p.Rows.GrowRow()
	p.Rows.Rows[idx].JobList = append(p.Rows.Rows[idx].JobList, job)
	p.Rows.Rows[idx].FirstRowBitmap.Or(job.CoreBitmap)
	p.bumpExcessRows()
	err := crerrors.Wrap(crerrors.ErrExcessRows, "partition %q: job %q required growing beyond configured rows", p.Name, job.ID)
	log.Error("%v", err)
	return err
}

// RemoveJob is the inverse of AddJob. Removing a suspended job only
// reverses the memory/state accounting.
func RemoveJob(p *Partition, usage *nodeusage.Table, job *jobres.JobResources, action Action) error {
	if job == nil {
		return crerrors.Wrap(crerrors.ErrBadArgument, "remove_job: nil job")
	}

	usage.ApplyRemove(job)

	if action == Suspend {
		return nil
	}

	rowIdx, ok := p.Rows.FindJobRow(job.ID)
	if !ok {
		err := crerrors.Wrap(crerrors.ErrNotFound, "remove_job: job %q not found in partition %q", job.ID, p.Name)
		log.Error("%v", err)
		return err
	}
	p.Rows.RemoveJobFromRow(rowIdx, job.ID)
	p.Rows.Rebuild(job)
	return nil
}

// ResizeJob drains one node out of a running job. Idempotent: a node
// the job no longer holds (already drained) or that has zero CPUs
// assigned is a no-op. Releases the node's GRES via the injected
// collaborator.
func ResizeJob(p *Partition, usage *nodeusage.Table, cm *coremap.Map, job *jobres.JobResources, nodeIdx int, gres collab.GRESManager, suspended bool) error {
	h := job.HostIndex(nodeIdx)
	if h < 0 {
		return nil // idempotent: node already extracted from the job
	}
	if job.CPUs[h] == 0 {
		return nil // idempotent: node already fully drained
	}

	if gres != nil {
		if err := gres.ReleaseOnNode(job.ID, nodeIdx); err != nil {
			log.Warn("resize_job: GRES release on node %d for job %q: %v", nodeIdx, job.ID, err)
		}
	}

	usage.SubMemory(nodeIdx, job.MemoryAllocated[h])

	jobres.ExtractNode(job, cm, nodeIdx)

	if suspended {
		// Suspended jobs leave node_state bookkeeping to suspend/resume;
		// resizing one never touches node_state.
		return nil
	}

	if rowIdx, ok := p.Rows.FindJobRow(job.ID); ok {
		_ = rowIdx
		p.Rows.Rebuild(nil) // general repack: job is still present, now smaller
	}

	usage.UnbumpState(nodeIdx, stateWeight(job.NodeReq))
	return nil
}

func stateWeight(req jobres.NodeReq) int {
	if req == jobres.Exclusive {
		return 2
	}
	return 1
}

// SuspendJob removes the job's row placement but leaves memory
// accounting intact. Gang-suspend is a bookkeeping no-op.
func SuspendJob(p *Partition, job *jobres.JobResources, gang bool) error {
	if gang {
		return nil
	}
	rowIdx, ok := p.Rows.FindJobRow(job.ID)
	if !ok {
		return crerrors.Wrap(crerrors.ErrNotFound, "suspend_job: job %q not found in partition %q", job.ID, p.Name)
	}
	p.Rows.RemoveJobFromRow(rowIdx, job.ID)
	p.Rows.Rebuild(job)
	return nil
}

// ResumeJob re-adds the job's cores to a row (placement may differ
// from the original row) and re-bumps node-state counters. Gang-resume
// is a bookkeeping no-op.
func ResumeJob(p *Partition, usage *nodeusage.Table, job *jobres.JobResources, gang bool) error {
	if gang {
		return nil
	}
	var growErr error
	if _, ok := p.Rows.PlaceLowestAdmitting(job); !ok {
		idx := p.Rows.GrowRow()
		p.Rows.Rows[idx].JobList = append(p.Rows.Rows[idx].JobList, job)
		p.Rows.Rows[idx].FirstRowBitmap.Or(job.CoreBitmap)
		p.bumpExcessRows()
		growErr = crerrors.Wrap(crerrors.ErrExcessRows, "resume_job: job %q required growing rows in partition %q", job.ID, p.Name)
		log.Error("%v", growErr)
	}

	weight := stateWeight(job.NodeReq)
	for n := 0; n < job.NodeBitmap.Len(); n++ {
		if !job.NodeBitmap.Test(n) {
			continue
		}
		usage.BumpState(n, weight)
	}
	return growErr
}
