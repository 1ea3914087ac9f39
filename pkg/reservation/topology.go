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

package reservation

import (
	"github.com/coreplace/crselect/pkg/bitset"
	"github.com/coreplace/crselect/pkg/coremap"
	"github.com/coreplace/crselect/pkg/crerrors"
)

// SwitchRecord is one node of the interconnect tree the topology
// best-fit algorithm descends: a generic version of the resource
// manager's NUMA/socket Node tree, carrying only what placement needs
// (the per-switch node membership and its depth), with no hint-score
// or memory-affinity fields.
type SwitchRecord struct {
	Name       string
	Level      int // 0 = leaf
	NodeBitmap *bitset.Set
}

type switchStat struct {
	rec      *SwitchRecord
	avail    *bitset.Set // rec.NodeBitmap AND eligible nodes
	nodeCnt  int
	coreCnt  int
}

// TopologyBestFit implements the topology-aware best-fit algorithm:
// selects the lowest-level switch that can cover the request, then
// pulls nodes out of its leaf switches in best-fit-sufficient order,
// falling back to single-core aggregate passes if the initial
// per-node core allotment falls short.
func TopologyBestFit(cm *coremap.Map, switches []SwitchRecord, avail *bitset.Set, nodeCnt int, coreCnt []int, coreBitmap *bitset.Set) (*bitset.Set, error) {
	if nodeCnt <= 0 {
		return nil, crerrors.Wrap(crerrors.ErrBadArgument, "topology_best_fit: node_cnt must be positive")
	}

	before := coreBitmap.Clone()
	totalCoreDemand := sum(coreCnt)

	eligible := avail.Clone()
	coresPerNode := 0
	if len(coreCnt) == 1 && coreCnt[0] > 0 {
		coresPerNode = coreCnt[0] / nodeCnt
	}
	if coresPerNode > 0 {
		for n := 0; n < cm.NumNodes(); n++ {
			if eligible.Test(n) && freeCoresOnNode(cm, coreBitmap, n) < coresPerNode {
				eligible.Clear(n)
			}
		}
	}

	stats := make([]switchStat, len(switches))
	for i := range switches {
		rec := &switches[i]
		a := bitset.And(rec.NodeBitmap, eligible)
		stats[i] = switchStat{
			rec:     rec,
			avail:   a,
			nodeCnt: a.Popcount(),
			coreCnt: coresOverNodes(cm, coreBitmap, a),
		}
	}

	best := pickBestFit(stats, nodeCnt, totalCoreDemand)
	if best == nil {
		err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "topology_best_fit: no switch covers %d nodes / %d cores", nodeCnt, totalCoreDemand)
		log.Warn("%v", err)
		return nil, err
	}

	var leafs []*switchStat
	for i := range stats {
		s := &stats[i]
		if s.rec.Level == 0 && bitset.And(s.rec.NodeBitmap, best.rec.NodeBitmap).Popcount() == s.rec.NodeBitmap.Popcount() {
			leafs = append(leafs, s)
		}
	}

	chosen := cm.NewNodeBitmap()
	remNodes := nodeCnt
	for remNodes > 0 {
		pick := bestSufficientLeaf(leafs, chosen, remNodes)
		if pick == nil {
			coreBitmap.CopyFrom(before)
			err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "topology_best_fit: leafs exhausted with %d node(s) still needed", remNodes)
			log.Warn("%v", err)
			return nil, err
		}
		taken := takeNodesAscending(pick.avail, chosen, remNodes)
		if taken == 0 {
			coreBitmap.CopyFrom(before)
			err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "topology_best_fit: selected leaf contributed no nodes")
			log.Warn("%v", err)
			return nil, err
		}
		remNodes -= taken
	}

	if totalCoreDemand > 0 {
		if err := fillCoreDemand(cm, chosen, coreBitmap, coresPerNode, totalCoreDemand); err != nil {
			coreBitmap.CopyFrom(before)
			return nil, err
		}
	}

	return chosen, nil
}

func sum(xs []int) int {
	n := 0
	for _, x := range xs {
		n += x
	}
	return n
}

func freeCoresOnNode(cm *coremap.Map, coreBitmap *bitset.Set, n int) int {
	lo, hi := cm.CoreOffset(n), cm.CoreOffset(n)+cm.CoreCount(n)
	return (hi - lo) - coreBitmap.PopcountRange(lo, hi)
}

func coresOverNodes(cm *coremap.Map, coreBitmap *bitset.Set, nodes *bitset.Set) int {
	n := 0
	for i := 0; i < nodes.Len(); i++ {
		if nodes.Test(i) {
			n += freeCoresOnNode(cm, coreBitmap, i)
		}
	}
	return n
}

// pickBestFit returns the switch at the lowest level with enough
// nodes and cores, tie-breaking on the smallest node count (tightest
// fit).
func pickBestFit(stats []switchStat, remNodes, remCores int) *switchStat {
	var best *switchStat
	for i := range stats {
		s := &stats[i]
		if s.nodeCnt < remNodes || s.coreCnt < remCores {
			continue
		}
		if best == nil ||
			s.rec.Level < best.rec.Level ||
			(s.rec.Level == best.rec.Level && s.nodeCnt < best.nodeCnt) {
			best = s
		}
	}
	return best
}

// bestSufficientLeaf returns the leaf with the smallest node count
// that alone can cover remNodes (after excluding already-chosen
// nodes), or, failing that, the leaf with the largest remaining count.
func bestSufficientLeaf(leafs []*switchStat, chosen *bitset.Set, remNodes int) *switchStat {
	var bestSufficient, bestLargest *switchStat
	bestSufficientCnt, bestLargestCnt := -1, -1

	for _, l := range leafs {
		remaining := remainingCount(l.avail, chosen)
		if remaining <= 0 {
			continue
		}
		if remaining >= remNodes && (bestSufficient == nil || remaining < bestSufficientCnt) {
			bestSufficient, bestSufficientCnt = l, remaining
		}
		if bestLargest == nil || remaining > bestLargestCnt {
			bestLargest, bestLargestCnt = l, remaining
		}
	}
	if bestSufficient != nil {
		return bestSufficient
	}
	return bestLargest
}

func remainingCount(avail, chosen *bitset.Set) int {
	n := 0
	for i := 0; i < avail.Len(); i++ {
		if avail.Test(i) && !chosen.Test(i) {
			n++
		}
	}
	return n
}

func takeNodesAscending(avail, chosen *bitset.Set, want int) int {
	taken := 0
	for i := 0; i < avail.Len() && taken < want; i++ {
		if avail.Test(i) && !chosen.Test(i) {
			chosen.Set(i)
			taken++
		}
	}
	return taken
}

// fillCoreDemand marks cores within the chosen nodes until
// totalCoreDemand cores are reserved, first allotting coresPerNode (if
// known) per node, then falling back to single-core aggregate passes.
func fillCoreDemand(cm *coremap.Map, chosen, coreBitmap *bitset.Set, coresPerNode, totalCoreDemand int) error {
	want := totalCoreDemand

	if coresPerNode > 0 {
		for n := 0; n < chosen.Len() && want > 0; n++ {
			if !chosen.Test(n) {
				continue
			}
			want -= takeCoresOnNode(cm, coreBitmap, n, coresPerNode)
		}
	}

	for want > 0 {
		progress := false
		for n := 0; n < chosen.Len() && want > 0; n++ {
			if !chosen.Test(n) {
				continue
			}
			if taken := takeCoresOnNode(cm, coreBitmap, n, 1); taken > 0 {
				want -= taken
				progress = true
			}
		}
		if !progress {
			err := crerrors.Wrap(crerrors.ErrCannotSatisfy, "topology_best_fit: %d core(s) unsatisfied after exhausting chosen nodes", want)
			log.Warn("%v", err)
			return err
		}
	}
	return nil
}

func takeCoresOnNode(cm *coremap.Map, coreBitmap *bitset.Set, n, want int) int {
	lo, hi := cm.CoreOffset(n), cm.CoreOffset(n)+cm.CoreCount(n)
	taken := 0
	for c := lo; c < hi && taken < want; c++ {
		if !coreBitmap.Test(c) {
			coreBitmap.Set(c)
			taken++
		}
	}
	return taken
}
