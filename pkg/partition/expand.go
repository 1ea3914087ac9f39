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

package partition

import (
	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/crerrors"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/nodeusage"
)

// ExpandJob merges from's allocation into to: transfers every resource
// held by from into to, and from becomes a zero-size shell still known
// to the controller until its own fini.
//
// A merge could in principle derive the new node_bitmap from the
// intersection of each job's originally-requested node set with its
// currently-held node set (to filter out nodes drained since
// allocation). This implementation keeps a single JobResources as the
// one source of truth, mutated in place by shrink, so there is no
// separate "original allocation" bitmap to intersect against — plain
// union of the two jobs' current node bitmaps is equivalent.
func ExpandJob(cm *coremap.Map, usage *nodeusage.Table, fromPart, toPart *Partition, from, to *jobres.JobResources, gres collab.GRESManager) (*jobres.JobResources, error) {
	if from == nil || to == nil {
		return nil, crerrors.Wrap(crerrors.ErrBadArgument, "expand_job: nil job")
	}
	if from.ID == to.ID {
		return nil, crerrors.Wrap(crerrors.ErrBadArgument, "expand_job: from and to are the same job %q", from.ID)
	}

	if err := RemoveJob(fromPart, usage, from, Normal); err != nil {
		log.Warn("expand_job: removing from-job %q: %v", from.ID, err)
	}
	if err := RemoveJob(toPart, usage, to, Normal); err != nil {
		log.Warn("expand_job: removing to-job %q: %v", to.ID, err)
	}

	newNodeBitmap := bitset.Or(from.NodeBitmap, to.NodeBitmap)

	merged := jobres.New(to.ID, to.PartitionName, cm)
	merged.NodeBitmap = newNodeBitmap
	merged.CoreBitmap = cm.NewCoreBitmap()
	merged.NodeReq = to.NodeReq
	merged.WholeNode = to.WholeNode || from.WholeNode

	for node := 0; node < merged.NodeBitmap.Len(); node++ {
		if !merged.NodeBitmap.Test(node) {
			continue
		}
		hFrom, hTo := from.HostIndex(node), to.HostIndex(node)
		lo, hi := cm.CoreOffset(node), cm.CoreOffset(node)+cm.CoreCount(node)

		var cpus, cpusUsed int
		var memAlloc, memUsed uint64

		switch {
		case hFrom >= 0 && hTo < 0:
			cpus = from.CPUs[hFrom]
			cpusUsed = indexOrZero(from.CPUsUsed, hFrom)
			memAlloc = from.MemoryAllocated[hFrom]
			memUsed = indexOrZeroU64(from.MemoryUsed, hFrom)
			copyCoreRange(merged.CoreBitmap, from.CoreBitmap, lo, hi)
			from.CPUs[hFrom] = 0

		case hTo >= 0 && hFrom < 0:
			cpus = to.CPUs[hTo]
			cpusUsed = indexOrZero(to.CPUsUsed, hTo)
			memAlloc = to.MemoryAllocated[hTo]
			memUsed = indexOrZeroU64(to.MemoryUsed, hTo)
			copyCoreRange(merged.CoreBitmap, to.CoreBitmap, lo, hi)

		case hFrom >= 0 && hTo >= 0:
			fromCores, toCores, newCores := 0, 0, 0
			for c := lo; c < hi; c++ {
				fc, tc := from.CoreBitmap.Test(c), to.CoreBitmap.Test(c)
				if fc {
					fromCores++
				}
				if tc {
					toCores++
				}
				if fc || tc {
					merged.CoreBitmap.Set(c)
					newCores++
				}
			}
			cpus = from.CPUs[hFrom] + to.CPUs[hTo]
			cpusUsed = indexOrZero(from.CPUsUsed, hFrom) + indexOrZero(to.CPUsUsed, hTo)
			memAlloc = from.MemoryAllocated[hFrom] + to.MemoryAllocated[hTo]
			memUsed = indexOrZeroU64(from.MemoryUsed, hFrom) + indexOrZeroU64(to.MemoryUsed, hTo)

			// Re-normalize when cores are shared under over-subscription,
			// to avoid double counting. Truncating integer division,
			// matching cpus *= new_core_cnt; cpus /= (from+to core cnt).
			if sum := fromCores + toCores; sum > 0 && newCores < sum {
				cpus = cpus * newCores / sum
				cpusUsed = cpusUsed * newCores / sum
			}
			from.CPUs[hFrom] = 0

		default:
			continue
		}

		merged.CPUs = append(merged.CPUs, cpus)
		merged.CPUsUsed = append(merged.CPUsUsed, cpusUsed)
		merged.MemoryAllocated = append(merged.MemoryAllocated, memAlloc)
		merged.MemoryUsed = append(merged.MemoryUsed, memUsed)
	}
	merged.RecomputeTotals()

	if gres != nil {
		if err := gres.Merge(from.ID, to.ID); err != nil {
			log.Warn("expand_job: GRES merge from %q to %q: %v", from.ID, to.ID, err)
		}
	}

	*to = *merged

	from.NCPUs = 0
	from.NHosts = 0
	from.NodeBitmap.ClearAll()
	from.CoreBitmap.ClearAll()
	from.CPUs = nil
	from.CPUsUsed = nil
	from.MemoryAllocated = nil
	from.MemoryUsed = nil

	if err := AddJob(toPart, usage, to, Normal); err != nil {
		return to, err
	}
	return to, nil
}

func indexOrZero(s []int, i int) int {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func indexOrZeroU64(s []uint64, i int) uint64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func copyCoreRange(dst, src *bitset.Set, lo, hi int) {
	for c := lo; c < hi; c++ {
		if src.Test(c) {
			dst.Set(c)
		}
	}
}
