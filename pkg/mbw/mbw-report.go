// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file turns measured clock cycles into bandwidth figures
package mbw

import (
	"fmt"

	"periph.io/x/periph/conn/physic"
)

// Result of one measurement on one data path
type Result struct {
	Name      string           // data path, PCI or DDR
	Direction Direction        // read or write
	Clock     physic.Frequency // clock driving the measurement core
	Cycles    uint64           // elapsed core clock cycles
	Bytes     uint64           // bytes moved by the measurement
}

func (r Result) ClockMHz() float64 {
	return float64(r.Clock) / float64(physic.MegaHertz)
}

// Nanoseconds converts the cycle count at the core clock into nanoseconds
func (r Result) Nanoseconds() float64 {
	mhz := r.ClockMHz()
	if mhz == 0 {
		return 0
	}
	return float64(r.Cycles) * 1000 / mhz
}

// GBPerSec is the transfer size over the elapsed time, in bytes per nanosecond
func (r Result) GBPerSec() float64 {
	ns := r.Nanoseconds()
	if ns == 0 {
		return 0
	}
	return float64(r.Bytes) / ns
}

func (r Result) String() string {
	return fmt.Sprintf("%5.1f Mhz %s %-5s time = %9d cycles (%4.1f GB/sec)", r.ClockMHz(), r.Name, r.Direction, r.Cycles, r.GBPerSec())
}
