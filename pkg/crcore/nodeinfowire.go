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
	"bytes"
	"encoding/binary"
	"io"

	"github.com/coreplace/crselect/pkg/crerrors"
	"github.com/coreplace/crselect/pkg/nodeinfo"
)

// Wire format versions for NodeInfoPack/Unpack. V1 is the current
// format; V0 predates the weighted-TRES field and is decode-only.
const (
	NodeInfoV0 uint16 = 0
	NodeInfoV1 uint16 = 1

	// CurrentNodeInfoVersion is always encoded by NodeInfoPack.
	CurrentNodeInfoVersion = NodeInfoV1
)

// NodeInfoPack encodes ni in the current wire format: u16 alloc_cpus;
// u64 alloc_memory; u32-prefixed tres_alloc_fmt_str; f64
// tres_alloc_weighted.
func NodeInfoPack(ni nodeinfo.Info) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, uint16(ni.AllocCPUs))
	binary.Write(buf, binary.BigEndian, ni.AllocMemory)
	binary.Write(buf, binary.BigEndian, uint32(len(ni.TRESAllocFmtStr)))
	buf.WriteString(ni.TRESAllocFmtStr)
	binary.Write(buf, binary.BigEndian, ni.TRESAllocWeighted)
	return buf.Bytes()
}

// NodeInfoUnpack decodes buffer according to version, which must be
// one of the versions this core decodes (V0 or V1). V0 lacks the
// trailing weighted-TRES field; Unpack fills it with 0 in that case.
func NodeInfoUnpack(buffer []byte, version uint16) (nodeinfo.Info, error) {
	r := bytes.NewReader(buffer)
	var ni nodeinfo.Info

	var cpus uint16
	if err := binary.Read(r, binary.BigEndian, &cpus); err != nil {
		return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: short read on alloc_cpus: %v", err)
	}
	ni.AllocCPUs = uint32(cpus)

	if err := binary.Read(r, binary.BigEndian, &ni.AllocMemory); err != nil {
		return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: short read on alloc_memory: %v", err)
	}

	var strLen uint32
	if err := binary.Read(r, binary.BigEndian, &strLen); err != nil {
		return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: short read on tres_alloc_fmt_str length: %v", err)
	}
	strBuf := make([]byte, strLen)
	if _, err := io.ReadFull(r, strBuf); err != nil {
		return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: short read on tres_alloc_fmt_str: %v", err)
	}
	ni.TRESAllocFmtStr = string(strBuf)

	switch version {
	case NodeInfoV0:
		// No weighted-TRES field on the wire; leave it zero.
	case NodeInfoV1:
		if err := binary.Read(r, binary.BigEndian, &ni.TRESAllocWeighted); err != nil {
			return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: short read on tres_alloc_weighted: %v", err)
		}
	default:
		return ni, crerrors.Wrap(crerrors.ErrBadArgument, "nodeinfo_unpack: unsupported protocol version %d", version)
	}

	return ni, nil
}
