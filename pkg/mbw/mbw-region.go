// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements 32-bit register access on top of a mapped resource
package mbw

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Registers is a window of 32-bit device registers addressed by byte offset
type Registers interface {
	Read32(offset int64) uint32
	Write32(offset int64, val uint32)
	Size() int64
	// Err is non nil once the window is no longer backed by the device
	Err() error
}

// regionGuard is shared by every view of one set of device mappings.
// Device.Close marks it closed under the write lock before unmapping.
type regionGuard struct {
	mu     sync.RWMutex
	closed bool
}

// MemRegion gives register access to a memory-mapped resource.
// Loads and stores go through sync/atomic so that the compiler neither
// elides nor splits them; the device sees exactly one 32-bit access.
//
// Once the owning Device is closed, reads return all ones (like a PCI
// master abort), writes are dropped and Err reports ErrNoSuchResource.
type MemRegion struct {
	name  string
	mem   []byte
	guard *regionGuard // nil for plain memory
}

func NewMemRegion(name string, mem []byte) *MemRegion {
	return &MemRegion{name: name, mem: mem}
}

func (m *MemRegion) Name() string { return m.name }

func (m *MemRegion) Size() int64 { return int64(len(m.mem)) }

func (m *MemRegion) Err() error {
	if m.guard == nil {
		return nil
	}
	m.guard.mu.RLock()
	defer m.guard.mu.RUnlock()
	if m.guard.closed {
		return fmt.Errorf("%w: %s is no longer mapped", ErrNoSuchResource, m.name)
	}
	return nil
}

// reg checks bounds without touching the mapped memory
func (m *MemRegion) reg(offset int64) *uint32 {
	if offset < 0 || offset+4 > int64(len(m.mem)) {
		panic(fmt.Sprintf("mbw: register offset 0x%X outside of %s (size 0x%X)", offset, m.name, len(m.mem)))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[offset]))
}

func (m *MemRegion) Read32(offset int64) uint32 {
	if m.guard != nil {
		m.guard.mu.RLock()
		defer m.guard.mu.RUnlock()
		if m.guard.closed {
			return ^uint32(0)
		}
	}
	return atomic.LoadUint32(m.reg(offset))
}

func (m *MemRegion) Write32(offset int64, val uint32) {
	if m.guard != nil {
		m.guard.mu.RLock()
		defer m.guard.mu.RUnlock()
		if m.guard.closed {
			return
		}
	}
	atomic.StoreUint32(m.reg(offset), val)
}
