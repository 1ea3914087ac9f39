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

// Package reservation implements the three node/core placement
// algorithms a reservation request picks between: first-cores,
// sequential, and topology-aware best-fit. All three take an in/out
// core bitmap that marks cores unavailable on input and gains the
// newly reserved cores on output, and roll back cleanly to the prior
// state on failure.
package reservation

import (
	logger "github.com/coreplace/crselect/pkg/log"

	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/crerrors"
)

var log = logger.NewLogger("reservation")

// Flags modifies placement mode selection.
type Flags int

const (
	// FirstCores requests the first-cores pick algorithm.
	FirstCores Flags = 1 << iota
)

// FirstCoresPick implements the first-cores algorithm: walks candidate
// nodes in ascending index, claiming the first coreCnt[k] cores of
// each one admitted; a node whose leading cores are unavailable is
// skipped entirely rather than partially filled. Stops once every
// element of coreCnt has been satisfied (a zero/absent next element
// ends the scan).
func FirstCoresPick(cm *coremap.Map, avail *bitset.Set, coreCnt []int, coreBitmap *bitset.Set) (*bitset.Set, error) {
	if len(coreCnt) == 0 || coreCnt[0] <= 0 {
		return nil, crerrors.Wrap(crerrors.ErrBadArgument, "first_cores_pick: empty core_cnt")
	}

	before := coreBitmap.Clone()
	chosen := cm.NewNodeBitmap()
	i := 0

	for n := 0; n < cm.NumNodes() && i < len(coreCnt) && coreCnt[i] > 0; n++ {
		if !avail.Test(n) {
			continue
		}
		want := coreCnt[i]
		lo := cm.CoreOffset(n)
		if want > cm.CoreCount(n) {
			continue
		}
		hi := lo + want
		free := true
		for c := lo; c < hi; c++ {
			if coreBitmap.Test(c) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		for c := lo; c < hi; c++ {
			coreBitmap.Set(c)
		}
		chosen.Set(n)
		i++
	}

	if i < len(coreCnt) && coreCnt[i] > 0 {
		coreBitmap.CopyFrom(before)
		err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "first_cores_pick: could not satisfy all %d requested node(s)", len(coreCnt))
		log.Warn("%v", err)
		return nil, err
	}

	return chosen, nil
}

// SequentialPick implements the sequential algorithm. With an empty
// coreCnt it picks the first nodeCnt bits set in avail (whole nodes).
// With coreCnt given it distributes per-node core demand across the
// candidate nodes, skipping any node whose free core count falls
// short of its share.
func SequentialPick(cm *coremap.Map, avail *bitset.Set, nodeCnt int, coreCnt []int, coreBitmap *bitset.Set) (*bitset.Set, error) {
	if len(coreCnt) == 0 {
		return sequentialWholeNodes(cm, avail, nodeCnt)
	}
	return sequentialPartialNodes(cm, avail, nodeCnt, coreCnt, coreBitmap)
}

func sequentialWholeNodes(cm *coremap.Map, avail *bitset.Set, nodeCnt int) (*bitset.Set, error) {
	chosen := cm.NewNodeBitmap()
	n := 0
	for node := 0; node < cm.NumNodes() && n < nodeCnt; node++ {
		if avail.Test(node) {
			chosen.Set(node)
			n++
		}
	}
	if n < nodeCnt {
		err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "sequential_pick: only %d of %d requested nodes available", n, nodeCnt)
		log.Warn("%v", err)
		return nil, err
	}
	return chosen, nil
}

// perNodeDemand resolves the spec's two demand-array shapes into an
// explicit, index-by-selection-order per-node slice.
func perNodeDemand(nodeCnt int, coreCnt []int) (demand []int, residual int) {
	switch {
	case nodeCnt > 0 && len(coreCnt) == 1:
		base := coreCnt[0] / nodeCnt
		residual = coreCnt[0] % nodeCnt
		demand = make([]int, nodeCnt)
		for i := range demand {
			demand[i] = base
		}
		return demand, residual
	case nodeCnt <= 0:
		return append([]int(nil), coreCnt...), 0
	default:
		return append([]int(nil), coreCnt...), 0
	}
}

func sequentialPartialNodes(cm *coremap.Map, avail *bitset.Set, nodeCnt int, coreCnt []int, coreBitmap *bitset.Set) (*bitset.Set, error) {
	demand, residual := perNodeDemand(nodeCnt, coreCnt)
	want := len(demand)

	before := coreBitmap.Clone()
	chosen := cm.NewNodeBitmap()
	selected := 0

	for node := 0; node < cm.NumNodes() && selected < want; node++ {
		if !avail.Test(node) {
			continue
		}
		need := demand[selected]
		if residual > 0 {
			need++
		}
		lo, hi := cm.CoreOffset(node), cm.CoreOffset(node)+cm.CoreCount(node)
		free := 0
		for c := lo; c < hi; c++ {
			if !coreBitmap.Test(c) {
				free++
			}
		}
		if free < need {
			continue
		}

		taken := 0
		for c := lo; c < hi && taken < need; c++ {
			if !coreBitmap.Test(c) {
				coreBitmap.Set(c)
				taken++
			}
		}
		chosen.Set(node)
		selected++
		if residual > 0 {
			residual--
		}
	}

	if selected < want {
		coreBitmap.CopyFrom(before)
		err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "sequential_pick: only %d of %d requested nodes satisfiable", selected, want)
		log.Warn("%v", err)
		return nil, err
	}

	return chosen, nil
}
