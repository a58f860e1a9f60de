// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package mbw

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// RunSuite measures every configured path, all writes first then all reads,
// and stops at the first failure. contigAddr is the reserved buffer address
// used by paths with UseReservedBuffer.
func RunSuite(ctx context.Context, engine *Engine, cfg *Config, contigAddr uint64) ([]Result, error) {
	burstCount, err := cfg.BurstCount()
	if err != nil {
		return nil, err
	}
	xferSize := uint64(cfg.BurstSize) * uint64(burstCount)

	var results []Result
	for _, dir := range []Direction{Write, Read} {
		for _, p := range cfg.Paths {
			target := p.TargetAddr
			if p.UseReservedBuffer {
				target = contigAddr
			}
			cycles, err := engine.Measure(ctx, MeasurementRequest{
				RegisterBase: p.RegisterBase,
				TargetAddr:   target,
				BurstSize:    cfg.BurstSize,
				BurstCount:   burstCount,
				Direction:    dir,
			})
			if err != nil {
				return results, fmt.Errorf("%s %s: %w", p.Name, dir, err)
			}
			r := Result{Name: p.Name, Direction: dir, Clock: p.Clock(), Cycles: cycles, Bytes: xferSize}
			klog.V(DBG_LVL_BASIC).InfoS("mbw.RunSuite", "path", p.Name, "direction", dir, "cycles", cycles, "GBps", r.GBPerSec())
			results = append(results, r)
		}
	}
	return results, nil
}
