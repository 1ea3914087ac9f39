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

// Package config loads the YAML-encoded policy document that drives
// partition row counts, the select_fast_schedule accounting mode, and
// debug-flag gating. Adapted from the resource manager's pkg/config
// module/registration shape, trimmed down to the flat document this
// core actually consumes: there is no command-line flag surface or
// live reconfiguration here, just load-once-at-node-init YAML.
package config

import (
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/coreplace/crselect/pkg/collab"
	"github.com/coreplace/crselect/pkg/crerrors"
)

// FastSchedule mirrors select_fast_schedule: whether accounting is
// driven by configured or actually-discovered per-node counts.
type FastSchedule int

const (
	// FastScheduleActual always uses the actually discovered counts.
	FastScheduleActual FastSchedule = 0
	// FastScheduleConfigured always uses the configured counts.
	FastScheduleConfigured FastSchedule = 1
	// FastScheduleConfiguredIfFaster uses configured counts only when
	// they describe a faster (more capable) node than was discovered.
	FastScheduleConfiguredIfFaster FastSchedule = 2
)

// PartitionPolicy is the raw per-partition YAML entry: an
// over-subscription policy string, "exclusive" or "shared up to k".
type PartitionPolicy struct {
	OverSubscribe string `json:"over_subscribe"`
}

// NumRows resolves the policy string to the row count the partition's
// row table should carry: 1 for "exclusive", k for "shared up to k".
// An empty string defaults to exclusive; an unrecognized string, or a
// shared count that is not a positive integer, is rejected with
// ErrBadArgument.
func (p PartitionPolicy) NumRows() (int, error) {
	s := strings.TrimSpace(p.OverSubscribe)
	switch {
	case s == "" || s == "exclusive":
		return 1, nil
	case strings.HasPrefix(s, "shared up to "):
		kStr := strings.TrimPrefix(s, "shared up to ")
		k, err := strconv.Atoi(strings.TrimSpace(kStr))
		if err != nil || k < 1 {
			return 0, crerrors.Wrap(crerrors.ErrBadArgument, "over_subscribe policy %q: invalid shared count", p.OverSubscribe)
		}
		return k, nil
	default:
		return 0, crerrors.Wrap(crerrors.ErrBadArgument, "over_subscribe policy %q: unrecognized", p.OverSubscribe)
	}
}

// NodeOverride carries the configured real_memory/mem_spec_limit
// byte quantities for one node, written the way Kubernetes resource
// quantities are ("64Gi", "512M"), rather than as raw byte counts.
type NodeOverride struct {
	RealMemory   string `json:"real_memory"`
	MemSpecLimit string `json:"mem_spec_limit"`
}

func parseByteQuantity(s string) (uint64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, crerrors.Wrap(crerrors.ErrBadArgument, "invalid byte quantity %q: %v", s, err)
	}
	v, ok := q.AsInt64()
	if !ok || v < 0 {
		return 0, crerrors.Wrap(crerrors.ErrBadArgument, "byte quantity %q does not fit a non-negative 64-bit count", s)
	}
	return uint64(v), nil
}

// Document is the top-level YAML shape: per-partition policies, the
// fast-schedule mode, per-node configured-memory overrides, and the
// set of debug sources to enable.
type Document struct {
	Partitions         map[string]PartitionPolicy `json:"partitions"`
	SelectFastSchedule FastSchedule               `json:"select_fast_schedule"`
	Nodes              map[string]NodeOverride    `json:"nodes"`
	DebugFlags         []string                   `json:"debug_flags"`
}

// Load reads and parses the policy document at path.
func Load(path string) (*Document, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %s", path)
	}
	return LoadData(raw)
}

// LoadData parses raw YAML (or JSON, ghodss/yaml accepts both) into a
// Document.
func LoadData(raw []byte) (*Document, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration data")
	}
	return doc, nil
}

// NumRows looks up the row count for the named partition, defaulting
// to exclusive (1 row) for partitions the document doesn't mention.
func (d *Document) NumRows(partition string) (int, error) {
	policy, ok := d.Partitions[partition]
	if !ok {
		return 1, nil
	}
	return policy.NumRows()
}

// ResolveNodeAttrs applies this document's select_fast_schedule mode
// to discovered, folding in any configured real_memory/mem_spec_limit
// override for the named node. FastScheduleActual always keeps the
// discovered values; FastScheduleConfigured always takes a configured
// value when the document names one; FastScheduleConfiguredIfFaster
// takes the configured value only when it describes more memory than
// was discovered.
func (d *Document) ResolveNodeAttrs(name string, discovered collab.NodeAttrs) (collab.NodeAttrs, error) {
	ov, ok := d.Nodes[name]
	if !ok || d.SelectFastSchedule == FastScheduleActual {
		return discovered, nil
	}

	realMem, err := parseByteQuantity(ov.RealMemory)
	if err != nil {
		return discovered, err
	}
	memSpec, err := parseByteQuantity(ov.MemSpecLimit)
	if err != nil {
		return discovered, err
	}

	out := discovered
	if realMem > 0 && (d.SelectFastSchedule == FastScheduleConfigured || realMem > out.RealMemory) {
		out.RealMemory = realMem
	}
	if memSpec > 0 && (d.SelectFastSchedule == FastScheduleConfigured || memSpec > out.MemSpecLimit) {
		out.MemSpecLimit = memSpec
	}
	return out, nil
}

// ApplyDebugFlags enables debug logging on every source named in the
// document via setDebug (typically pkg/log.SetDebug), so callers don't
// need to know the document's shape to wire it up.
func (d *Document) ApplyDebugFlags(setDebug func(source string, enabled bool)) {
	for _, src := range d.DebugFlags {
		setDebug(src, true)
	}
}
