// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package mbw

import (
	"sync"
)

// simOp is one measurement started on a simulated core
type simOp struct {
	base   int64
	cmd    uint32
	target uint64
	size   uint32
	count  uint32
}

// simRegs simulates measurement cores: a start command keeps CTL_STAT busy
// for busyPolls reads, then the core reports its preset results.
type simRegs struct {
	mu        sync.Mutex
	size      int64
	cores     map[int64]bool
	regs      map[int64]uint32
	busyPolls int
	polls     int
	ops       []simOp
}

func newSimRegs(size int64, busyPolls int, bases ...int64) *simRegs {
	s := &simRegs{size: size, cores: map[int64]bool{}, regs: map[int64]uint32{}, busyPolls: busyPolls}
	for _, b := range bases {
		s.cores[b] = true
	}
	return s
}

func (s *simRegs) Size() int64 { return s.size }

func (s *simRegs) Err() error { return nil }

func (s *simRegs) set(base, reg int64, val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[base+4*reg] = val
}

func (s *simRegs) get(base, reg int64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[base+4*reg]
}

func (s *simRegs) Write32(offset int64, val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[offset] = val
	base := offset - 4*MBW_REG_CTL_STAT
	if !s.cores[base] || val == 0 {
		return
	}
	op := simOp{base: base, cmd: val, size: s.regs[base+4*MBW_REG_BLK_SIZE], count: s.regs[base+4*MBW_REG_COUNT]}
	if val == MBW_START_READ {
		op.target = uint64(s.regs[base+4*MBW_REG_RADDR_H])<<32 | uint64(s.regs[base+4*MBW_REG_RADDR_L])
	} else {
		op.target = uint64(s.regs[base+4*MBW_REG_WADDR_H])<<32 | uint64(s.regs[base+4*MBW_REG_WADDR_L])
	}
	s.ops = append(s.ops, op)
	s.polls = 0
}

func (s *simRegs) Read32(offset int64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := offset - 4*MBW_REG_CTL_STAT
	if s.cores[base] && s.regs[offset] != 0 {
		s.polls++
		if s.busyPolls >= 0 && s.polls > s.busyPolls {
			s.regs[offset] = 0
		}
	}
	return s.regs[offset]
}
