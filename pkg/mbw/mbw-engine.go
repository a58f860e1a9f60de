// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the register protocol of the "measure bandwidth" AXI
// slave: program address, burst size and count, start the test through
// CTL_STAT, poll until the hardware clears it, read back the cycle count.
package mbw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const MBW_POLL_INTERVAL = 10 // Millisecond

// Register map of the measure bandwidth core, in 32-bit words
const (
	MBW_REG_RADDR_H   = 0  // read target address, bits 63:32
	MBW_REG_RADDR_L   = 1  // read target address, bits 31:0
	MBW_REG_WADDR_H   = 2  // write target address, bits 63:32
	MBW_REG_WADDR_L   = 3  // write target address, bits 31:0
	MBW_REG_BLK_SIZE  = 4  // bytes per burst
	MBW_REG_COUNT     = 5  // number of bursts
	MBW_REG_RRESULT_H = 6  // read test cycles, bits 63:32
	MBW_REG_RRESULT_L = 7  // read test cycles, bits 31:0
	MBW_REG_WRESULT_H = 8  // write test cycles, bits 63:32
	MBW_REG_WRESULT_L = 9  // write test cycles, bits 31:0
	MBW_REG_CTL_STAT  = 10 // command / status, cleared by hardware when done

	MBW_NUM_REGS = 11
)

var MBW_CTL_STAT_COMMAND = u32field{offset: 0, bitwidth: 2}

// CTL_STAT commands
const (
	MBW_START_READ  = 1
	MBW_START_WRITE = 2
)

// Direction of a measurement, as seen from the measurement core
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// MeasurementRequest describes one bulk transfer to time
type MeasurementRequest struct {
	RegisterBase uint32 // byte offset of the core inside the register resource
	TargetAddr   uint64 // AXI address read from or written to
	BurstSize    uint32
	BurstCount   uint32
	Direction    Direction
}

// Engine drives measurement cores reachable through one register window
type Engine struct {
	// Interval between two reads of CTL_STAT
	PollInterval time.Duration
	// Bound on the wait for CTL_STAT to clear, 0 waits forever
	Timeout time.Duration

	mu   sync.Mutex
	regs Registers
}

func NewEngine(regs Registers) *Engine {
	return &Engine{
		PollInterval: MBW_POLL_INTERVAL * time.Millisecond,
		regs:         regs,
	}
}

// Measure runs one measurement and returns the number of core clock cycles
// it took. With the default zero Timeout it only returns once the hardware
// clears CTL_STAT, or ctx is done.
func (e *Engine) Measure(ctx context.Context, req MeasurementRequest) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := int64(req.RegisterBase)
	if base%4 != 0 || base+4*MBW_NUM_REGS > e.regs.Size() {
		return 0, fmt.Errorf("%w: base 0x%X, registers size 0x%X", ErrRegisterWindow, base, e.regs.Size())
	}

	var addrH, addrL, resH, resL int64
	var cmd uint32
	switch req.Direction {
	case Read:
		addrH, addrL, resH, resL, cmd = MBW_REG_RADDR_H, MBW_REG_RADDR_L, MBW_REG_RRESULT_H, MBW_REG_RRESULT_L, MBW_START_READ
	case Write:
		addrH, addrL, resH, resL, cmd = MBW_REG_WADDR_H, MBW_REG_WADDR_L, MBW_REG_WRESULT_H, MBW_REG_WRESULT_L, MBW_START_WRITE
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidDirection, req.Direction)
	}
	if err := e.regs.Err(); err != nil {
		return 0, err
	}
	klog.V(DBG_LVL_DETAIL).InfoS("mbw.Measure", "direction", req.Direction, "base", hex(req.RegisterBase), "target", hex(req.TargetAddr), "burstSize", req.BurstSize, "burstCount", req.BurstCount)

	//1. Configure the measurement core
	e.mbw_write_reg(base, addrH, hi32(req.TargetAddr))
	e.mbw_write_reg(base, addrL, lo32(req.TargetAddr))
	e.mbw_write_reg(base, MBW_REG_BLK_SIZE, req.BurstSize)
	e.mbw_write_reg(base, MBW_REG_COUNT, req.BurstCount)

	//2. Start the measurement
	var ctlStat uint32
	MBW_CTL_STAT_COMMAND.write(&ctlStat, cmd)
	e.mbw_write_reg(base, MBW_REG_CTL_STAT, ctlStat)

	//3. Wait for the hardware to clear CTL_STAT
	if err := e.mbw_wait_idle(ctx, base); err != nil {
		return 0, err
	}
	if err := e.regs.Err(); err != nil {
		return 0, err
	}

	//4. Fetch the elapsed clock cycles
	cycles := uint64(e.mbw_read_reg(base, resH))<<32 | uint64(e.mbw_read_reg(base, resL))
	klog.V(DBG_LVL_INFO).InfoS("mbw.Measure done", "direction", req.Direction, "base", hex(req.RegisterBase), "cycles", cycles)
	return cycles, nil
}

func (e *Engine) mbw_write_reg(base, reg int64, val uint32) {
	e.regs.Write32(base+4*reg, val)
}

func (e *Engine) mbw_read_reg(base, reg int64) uint32 {
	return e.regs.Read32(base + 4*reg)
}

func (e *Engine) mbw_wait_idle(ctx context.Context, base int64) error {
	interval := e.PollInterval
	if interval <= 0 {
		interval = MBW_POLL_INTERVAL * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if e.Timeout > 0 {
		timer := time.NewTimer(e.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for polls := 0; e.mbw_read_reg(base, MBW_REG_CTL_STAT) != 0; polls++ {
		if err := e.regs.Err(); err != nil {
			return err
		}
		klog.V(DBG_LVL_DEEP_DETAIL).InfoS("mbw.wait_idle busy", "base", hex(base), "polls", polls)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %v (base 0x%X)", ErrTimeout, e.Timeout, base)
		case <-ticker.C:
		}
	}
	return nil
}
