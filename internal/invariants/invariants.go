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

// Package invariants implements reusable checks for the data-model
// invariants every partition row table and usage table must hold
// after any sequence of job-lifecycle operations, for use by property
// tests that drive random add/remove/resize sequences. Violations
// across rows/partitions/nodes are collected rather than reported on
// the first failure, via github.com/hashicorp/go-multierror.
package invariants

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/nodeusage"
	"github.com/coreplace/crselect/pkg/partition"
)

// CheckRows verifies I1-I3 for a single partition's row table: within
// a row no core bit is claimed by more than one job, each row's
// FirstRowBitmap equals the OR of its jobs' core bitmaps, and a job
// appears in exactly one row.
func CheckRows(partitionName string, p *partition.Partition) error {
	var result *multierror.Error
	seen := map[string]int{}

	for ri, row := range p.Rows.Rows {
		union := row.FirstRowBitmap.Clone()
		union.ClearAll()

		sum := 0
		for _, job := range row.JobList {
			sum += job.CoreBitmap.Popcount()
			union.Or(job.CoreBitmap)
			if prev, ok := seen[job.ID]; ok {
				result = multierror.Append(result, fmt.Errorf(
					"I3 violated: partition %q job %q appears in rows %d and %d", partitionName, job.ID, prev, ri))
			}
			seen[job.ID] = ri
		}

		if sum != row.FirstRowBitmap.Popcount() {
			result = multierror.Append(result, fmt.Errorf(
				"I1 violated: partition %q row %d: sum of job core-bit counts %d != first_row_bitmap popcount %d",
				partitionName, ri, sum, row.FirstRowBitmap.Popcount()))
		}
		if !union.Equal(row.FirstRowBitmap) {
			result = multierror.Append(result, fmt.Errorf(
				"I2 violated: partition %q row %d: first_row_bitmap does not equal the OR of its jobs' core bitmaps",
				partitionName, ri))
		}
	}

	return result.ErrorOrNil()
}

// CheckRowCapacity verifies I4: for every node, the sum over a
// partition's rows' first-row-bitmaps of the bit count inside that
// node's core range does not exceed the node's core count times
// num_rows.
func CheckRowCapacity(partitionName string, p *partition.Partition, cm *coremap.Map) error {
	var result *multierror.Error
	numRows := p.Rows.NumRows()

	for n := 0; n < cm.NumNodes(); n++ {
		lo, hi := cm.CoreOffset(n), cm.CoreOffset(n)+cm.CoreCount(n)
		total := 0
		for _, row := range p.Rows.Rows {
			total += row.FirstRowBitmap.PopcountRange(lo, hi)
		}
		limit := cm.CoreCount(n) * numRows
		if total > limit {
			result = multierror.Append(result, fmt.Errorf(
				"I4 violated: partition %q node %d: %d allocated core-slots exceeds limit %d (cores=%d x num_rows=%d)",
				partitionName, n, total, limit, cm.CoreCount(n), numRows))
		}
	}

	return result.ErrorOrNil()
}

// CheckMemory verifies I5: for every node, alloc_memory equals the sum
// of memory_allocated[h] over every job (across every partition in
// jobsByPartition) where that node is the job's h-th selected node.
func CheckMemory(cm *coremap.Map, usage *nodeusage.Table, jobsByPartition map[string][]*jobres.JobResources) error {
	var result *multierror.Error

	want := make([]uint64, cm.NumNodes())
	for _, jobs := range jobsByPartition {
		for _, job := range jobs {
			h := 0
			for n := 0; n < job.NodeBitmap.Len(); n++ {
				if !job.NodeBitmap.Test(n) {
					continue
				}
				want[n] += job.MemoryAllocated[h]
				h++
			}
		}
	}

	for n := 0; n < cm.NumNodes(); n++ {
		if got := usage.Get(n).AllocMemory; got != want[n] {
			result = multierror.Append(result, fmt.Errorf(
				"I5 violated: node %d: alloc_memory %d != sum of memory_allocated across jobs %d", n, got, want[n]))
		}
	}

	return result.ErrorOrNil()
}

// CheckAll runs every invariant check over the given partitions and
// usage table, aggregating all violations (property P1).
func CheckAll(cm *coremap.Map, usage *nodeusage.Table, partitions map[string]*partition.Partition, jobsByPartition map[string][]*jobres.JobResources) error {
	var result *multierror.Error

	for name, p := range partitions {
		if err := CheckRows(name, p); err != nil {
			result = multierror.Append(result, err)
		}
		if err := CheckRowCapacity(name, p, cm); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := CheckMemory(cm, usage, jobsByPartition); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}
