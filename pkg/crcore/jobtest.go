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

package crcore

import (
	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/reservation"
)

// JobTestMode selects whether JobTest is a dry-run feasibility check
// (WillRun) or populates a job for immediate placement (RunNow).
type JobTestMode int

const (
	// RunNow populates job for immediate add_job.
	RunNow JobTestMode = iota
	// WillRun is a feasibility check: the caller only wants to know
	// whether and where the job could run, optionally against a
	// preemption candidate list.
	WillRun
)

// JobRequest describes a placement request for JobTest: node-count
// bounds, per-node or aggregate core demand, and the resulting job's
// request mode.
type JobRequest struct {
	MinNodes, ReqNodes, MaxNodes int
	CoreCnt                      []int
	NodeReq                      jobres.NodeReq
	WholeNode                    bool
	Flags                        reservation.Flags

	// MemoryPerHost, when non-nil, is consulted in chosen-node order to
	// populate job.MemoryAllocated; absent entries default to 0 (the
	// core has no opinion on per-node memory sizing beyond what the
	// caller supplies, per spec 1's scope boundary).
	MemoryPerHost []uint64
}

// JobTest carves nodeCnt nodes (clamped to [MinNodes,MaxNodes],
// preferring ReqNodes) and, when CoreCnt is set, cores for req out of
// avail, then populates job's NodeBitmap/CoreBitmap/CPUs/
// MemoryAllocated from the chosen set. On success avail is trimmed in
// place to the chosen node set, which is also stored in
// job.NodeBitmap, and the returned list is nil.
//
// Preemption is a decision the controller makes, not this core (§1):
// preemptees is passed straight through as an opaque candidate list.
// In WillRun mode, if the placement fails, JobTest returns the
// unmodified preemptees list alongside the error so the caller can
// apply its own preemption policy and retry; it is never filtered,
// reordered, or consulted by the placement algorithm itself.
func (ctx *Context) JobTest(job *jobres.JobResources, avail *bitset.Set, req JobRequest, mode JobTestMode, preemptees []*jobres.JobResources) ([]*jobres.JobResources, error) {
	nodeCnt := req.ReqNodes
	if nodeCnt < req.MinNodes {
		nodeCnt = req.MinNodes
	}
	if req.MaxNodes > 0 && nodeCnt > req.MaxNodes {
		nodeCnt = req.MaxNodes
	}
	if nodeCnt <= 0 {
		nodeCnt = 1
	}

	coreBitmapBefore := job.CoreBitmap.Clone()

	chosen, err := ctx.ResvTest(avail, nodeCnt, req.CoreCnt, req.Flags, job.CoreBitmap)
	if err != nil {
		if mode == WillRun {
			return preemptees, err
		}
		return nil, err
	}

	job.NodeBitmap = chosen
	avail.CopyFrom(chosen)
	job.NodeReq = req.NodeReq
	job.WholeNode = req.WholeNode

	newlyReserved := job.CoreBitmap.Clone()
	newlyReserved.AndNot(coreBitmapBefore)

	job.CPUs = make([]int, 0, chosen.Popcount())
	job.MemoryAllocated = make([]uint64, 0, chosen.Popcount())
	h := 0
	for n := 0; n < chosen.Len(); n++ {
		if !chosen.Test(n) {
			continue
		}
		lo, hi := ctx.CM.CoreOffset(n), ctx.CM.CoreOffset(n)+ctx.CM.CoreCount(n)
		cpus := newlyReserved.PopcountRange(lo, hi)
		if req.WholeNode {
			cpus = ctx.CM.CoreCount(n)
		}
		job.CPUs = append(job.CPUs, cpus)

		var mem uint64
		if h < len(req.MemoryPerHost) {
			mem = req.MemoryPerHost[h]
		}
		job.MemoryAllocated = append(job.MemoryAllocated, mem)
		h++
	}
	job.RecomputeTotals()

	return nil, nil
}
