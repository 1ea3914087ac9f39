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
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreplace/crselect/internal/invariants"
	"github.com/coreplace/crselect/pkg/jobres"
	"github.com/coreplace/crselect/pkg/partition"
)

// jobsByPartition walks every row of every partition and returns the
// live job set, keyed by partition name, for invariants.CheckMemory.
func jobsByPartition(ctx *Context) map[string][]*jobres.JobResources {
	out := make(map[string][]*jobres.JobResources, len(ctx.Partitions))
	for name, p := range ctx.Partitions {
		var jobs []*jobres.JobResources
		for _, row := range p.Rows.Rows {
			jobs = append(jobs, row.JobList...)
		}
		out[name] = jobs
	}
	return out
}

func checkInvariants(t *testing.T, ctx *Context) {
	t.Helper()
	err := invariants.CheckAll(ctx.CM, ctx.Usage, ctx.Partitions, jobsByPartition(ctx))
	require.NoError(t, err)
}

// TestPropertyInvariantsHoldAcrossRandomSequence drives a long random
// sequence of job_test/add_job/remove_job calls against a modest
// cluster and re-checks I1-I5 after every step (property P1).
func TestPropertyInvariantsHoldAcrossRandomSequence(t *testing.T) {
	nodes := make(fakeNodes, 6)
	for i := range nodes {
		nodes[i].Sockets, nodes[i].Cores = 1, 4
	}

	ctx := NodeInit(nodes, noopGRES{}, fakeTRES{})
	ctx.AddPartition("batch", 2)
	checkInvariants(t, ctx)

	rng := rand.New(rand.NewSource(42))
	var live []*jobres.JobResources

	for step := 0; step < 200; step++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(live))
			job := live[idx]
			require.NoError(t, ctx.RemoveJob(job, partition.Normal))
			live = append(live[:idx], live[idx+1:]...)
			checkInvariants(t, ctx)
			continue
		}

		avail := ctx.CM.NewNodeBitmap()
		for n := 0; n < ctx.CM.NumNodes(); n++ {
			avail.Set(n)
		}

		nodeCnt := 1 + rng.Intn(2)
		memPerHost := make([]uint64, nodeCnt)
		for i := range memPerHost {
			memPerHost[i] = uint64(1 + rng.Intn(1000))
		}

		job := jobres.New(fmt.Sprintf("job-%d", step), "batch", ctx.CM)
		req := JobRequest{
			ReqNodes: nodeCnt, MinNodes: nodeCnt, MaxNodes: nodeCnt,
			NodeReq:       jobres.OneRow,
			MemoryPerHost: memPerHost,
		}

		if _, err := ctx.JobTest(job, avail, req, RunNow, nil); err != nil {
			// No room left on this random draw; skip the step rather
			// than treat exhaustion as a violation.
			continue
		}
		if err := ctx.AddJob(job, partition.Normal); err != nil {
			continue
		}
		live = append(live, job)
		checkInvariants(t, ctx)
	}
}
