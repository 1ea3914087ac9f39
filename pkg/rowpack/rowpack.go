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

// Package rowpack implements the partition row-packing structure: an
// ordered list of rows holding non-conflicting jobs, each row owning a
// cluster-wide core-bitmap union of its jobs, plus the
// improvement-only rebuild-with-rollback algorithm. The
// sort-then-greedy-pack shape is grounded on the comparator chain in
// the resource manager's pkg/cpuallocator.takeIdleThreads, which also
// sorts candidates by a composite key before taking them greedily.
package rowpack

import (
	"sort"

	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/jobres"
)

// Row holds a set of non-core-overlapping jobs and the union of their
// core bitmaps.
type Row struct {
	JobList        []*jobres.JobResources
	FirstRowBitmap *bitset.Set
}

// Table is a partition's row list.
type Table struct {
	Rows []*Row
	cm   *coremap.Map
}

// NewTable preallocates numRows empty rows, sized for cm's core space.
// numRows is derived by the caller from the partition's
// over-subscription policy (1 when exclusive, k when "shared up to k").
func NewTable(numRows int, cm *coremap.Map) *Table {
	t := &Table{cm: cm}
	for i := 0; i < numRows; i++ {
		t.Rows = append(t.Rows, &Row{FirstRowBitmap: cm.NewCoreBitmap()})
	}
	return t
}

// NumRows returns the current row count (may exceed the partition's
// configured policy value after an excess-rows growth).
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// Fits reports whether job fits into row r: (job.CoreBitmap AND
// r.FirstRowBitmap) == 0. Empty rows always admit.
func (t *Table) Fits(r *Row, job *jobres.JobResources) bool {
	if r.FirstRowBitmap.IsZero() {
		return true
	}
	return bitset.And(job.CoreBitmap, r.FirstRowBitmap).IsZero()
}

// PlaceLowestAdmitting places job into the lowest-indexed row that
// admits it, without growing the table. Returns the row index and
// whether placement succeeded.
func (t *Table) PlaceLowestAdmitting(job *jobres.JobResources) (int, bool) {
	for i, r := range t.Rows {
		if t.Fits(r, job) {
			r.JobList = append(r.JobList, job)
			r.FirstRowBitmap.Or(job.CoreBitmap)
			return i, true
		}
	}
	return -1, false
}

// GrowRow appends a new empty row and returns its index. Used only on
// the excess-rows path: num_rows reflecting policy correctly should
// make this unreachable in practice.
func (t *Table) GrowRow() int {
	t.Rows = append(t.Rows, &Row{FirstRowBitmap: t.cm.NewCoreBitmap()})
	return len(t.Rows) - 1
}

// FindJobRow returns the index of the row containing the given job ID.
func (t *Table) FindJobRow(jobID string) (int, bool) {
	for i, r := range t.Rows {
		for _, j := range r.JobList {
			if j.ID == jobID {
				return i, true
			}
		}
	}
	return -1, false
}

// RemoveJobFromRow removes the job with the given ID from the row at
// rowIdx's job_list (but does not touch FirstRowBitmap — callers
// follow this with Rebuild). Returns whether the job was found.
func (t *Table) RemoveJobFromRow(rowIdx int, jobID string) bool {
	r := t.Rows[rowIdx]
	for i, j := range r.JobList {
		if j.ID == jobID {
			r.JobList = append(r.JobList[:i], r.JobList[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot is a value-typed deep copy of the row layout, taken so a
// failed rebuild can restore the prior layout exactly rather than
// leaving rows half-rewritten.
type snapshot struct {
	bitmaps  []*bitset.Set
	jobLists [][]*jobres.JobResources
}

func (t *Table) snapshot() *snapshot {
	s := &snapshot{}
	for _, r := range t.Rows {
		s.bitmaps = append(s.bitmaps, r.FirstRowBitmap.Clone())
		s.jobLists = append(s.jobLists, append([]*jobres.JobResources(nil), r.JobList...))
	}
	return s
}

func (t *Table) restore(s *snapshot) {
	for i, r := range t.Rows {
		r.FirstRowBitmap.CopyFrom(s.bitmaps[i])
		r.JobList = s.jobLists[i]
	}
}

// Rebuild re-packs the row list from scratch. removedJob, if
// non-nil, is a job that has already been taken out of every row's
// job_list by the caller (the remove-job fast path); pass nil for a
// general repack (e.g. after a shrink, where the job stays present
// with a smaller footprint).
//
// Returns true if the rebuild was applied (including the single-row
// fast paths, which always apply), false if a dangling job forced a
// rollback to the prior layout.
func (t *Table) Rebuild(removedJob *jobres.JobResources) bool {
	if len(t.Rows) == 1 {
		row := t.Rows[0]
		if removedJob != nil {
			row.FirstRowBitmap.AndNot(removedJob.CoreBitmap)
		} else {
			row.FirstRowBitmap.ClearAll()
			for _, j := range row.JobList {
				row.FirstRowBitmap.Or(j.CoreBitmap)
			}
		}
		return true
	}

	snap := t.snapshot()

	type entry struct {
		job    *jobres.JobResources
		jstart int
	}
	var entries []entry
	for _, r := range t.Rows {
		for _, j := range r.JobList {
			entries = append(entries, entry{job: j, jstart: j.Jstart(t.cm)})
		}
	}

	// Sort ascending by jstart, tie-break by descending ncpus; an
	// arrival-time tie-break is deliberately not applied — see
	// DESIGN.md.
	sort.SliceStable(entries, func(i, k int) bool {
		if entries[i].jstart != entries[k].jstart {
			return entries[i].jstart < entries[k].jstart
		}
		return entries[i].job.NCPUs > entries[k].job.NCPUs
	})

	for _, r := range t.Rows {
		r.FirstRowBitmap.ClearAll()
		r.JobList = nil
	}

	dangling := false
	for _, e := range entries {
		placed := false
		for _, r := range t.Rows {
			if t.Fits(r, e.job) {
				r.JobList = append(r.JobList, e.job)
				r.FirstRowBitmap.Or(e.job.CoreBitmap)
				placed = true
				break
			}
		}
		if !placed {
			dangling = true
			break
		}
		// Re-sort rows by occupancy after every placement, not just once
		// at the end, so a later job's admitting-row scan sees the
		// rebalanced order.
		t.compact()
	}

	if dangling {
		t.restore(snap)
		return false
	}

	return true
}

// compact keeps rows sorted by descending occupancy, so denser rows
// keep lower indices; stable among equal counts.
func (t *Table) compact() {
	sort.SliceStable(t.Rows, func(i, k int) bool {
		return t.Rows[i].FirstRowBitmap.Popcount() > t.Rows[k].FirstRowBitmap.Popcount()
	})
}

// OccupiedRows returns the number of rows with at least one job.
func (t *Table) OccupiedRows() int {
	n := 0
	for _, r := range t.Rows {
		if len(r.JobList) > 0 {
			n++
		}
	}
	return n
}
