// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package simulated

import (
	"encoding/binary"
	"fmt"

	"github.com/euralios/kernel/pkg/hal"
)

// ptLoad is the ELF64 program header type value for a loadable segment.
const ptLoad = 1

const (
	ehdrSize = 64
	phdrSize = 56
)

// ELF64Parser is a minimal, from-scratch ELF64 little-endian parser
// covering exactly what spec.md §6 documents: the entry point and each
// PT_LOAD segment's (virtual_address, bytes). It stands in for the
// `object` crate the original kernel uses; real symbol/relocation/
// section-header handling is genuinely out of scope here.
type ELF64Parser struct{}

func (ELF64Parser) Parse(elf []byte) (uint64, []hal.Segment, error) {
	if len(elf) < ehdrSize {
		return 0, nil, fmt.Errorf("simulated: ELF header truncated")
	}

	entry := binary.LittleEndian.Uint64(elf[24:32])
	phoff := binary.LittleEndian.Uint64(elf[32:40])
	phentsize := binary.LittleEndian.Uint16(elf[54:56])
	phnum := binary.LittleEndian.Uint16(elf[56:58])

	var segments []hal.Segment
	for i := uint16(0); i < phnum; i++ {
		start := phoff + uint64(i)*uint64(phentsize)
		if start+phdrSize > uint64(len(elf)) {
			return 0, nil, fmt.Errorf("simulated: program header %d out of range", i)
		}
		ph := elf[start : start+phdrSize]

		pType := binary.LittleEndian.Uint32(ph[0:4])
		if pType != ptLoad {
			continue
		}
		offset := binary.LittleEndian.Uint64(ph[8:16])
		vaddr := binary.LittleEndian.Uint64(ph[16:24])
		filesz := binary.LittleEndian.Uint64(ph[32:40])

		if offset+filesz > uint64(len(elf)) {
			return 0, nil, fmt.Errorf("simulated: segment %d data out of range", i)
		}
		data := make([]byte, filesz)
		copy(data, elf[offset:offset+filesz])

		segments = append(segments, hal.Segment{VAddr: vaddr, Data: data})
	}

	return entry, segments, nil
}

// BuildELF64 assembles a minimal, valid ELF64 little-endian binary with
// one PT_LOAD segment, for use in tests: the entry point and segment
// virtual address are both set to vaddr.
func BuildELF64(vaddr uint64, data []byte) []byte {
	headerLen := ehdrSize + phdrSize
	buf := make([]byte, headerLen+len(data))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	binary.LittleEndian.PutUint16(buf[16:18], 2)     // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3e)  // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)     // e_version
	binary.LittleEndian.PutUint64(buf[24:32], vaddr)  // e_entry
	binary.LittleEndian.PutUint64(buf[32:40], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize) // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize) // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)        // e_phnum

	ph := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], 7) // PF_R|PF_W|PF_X
	binary.LittleEndian.PutUint64(ph[8:16], uint64(headerLen))
	binary.LittleEndian.PutUint64(ph[16:24], vaddr)
	binary.LittleEndian.PutUint64(ph[24:32], vaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(data)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(data)))

	copy(buf[headerLen:], data)
	return buf
}
