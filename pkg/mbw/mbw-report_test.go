// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package mbw

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaypipes/pcidb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/physic"
)

func TestResult(t *testing.T) {
	r := Result{Name: "PCI", Direction: Write, Clock: 250 * physic.MegaHertz, Cycles: 250_000_000, Bytes: 1 << 30}
	assert.Equal(t, 250.0, r.ClockMHz())
	assert.InDelta(t, 1e9, r.Nanoseconds(), 1e-3)
	assert.InDelta(t, 1.073741824, r.GBPerSec(), 1e-9)
	assert.Equal(t, "250.0 Mhz PCI write time = 250000000 cycles ( 1.1 GB/sec)", r.String())

	r = Result{Name: "DDR", Direction: Read, Clock: (&PathConfig{ClockMHz: 266.5}).Clock(), Cycles: 533, Bytes: 4096}
	assert.Equal(t, 266.5, r.ClockMHz())
	assert.InDelta(t, 2000.0, r.Nanoseconds(), 1e-9)
	assert.Equal(t, "266.5 Mhz DDR read  time =       533 cycles ( 2.0 GB/sec)", r.String())

	r = Result{Name: "PCI", Direction: Read, Clock: 0, Cycles: 100, Bytes: 100}
	assert.Zero(t, r.Nanoseconds())
	assert.Zero(t, r.GBPerSec())
	r = Result{Name: "PCI", Direction: Read, Clock: physic.MegaHertz, Cycles: 0, Bytes: 100}
	assert.Zero(t, r.GBPerSec())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(0x10ee), cfg.VendorID)
	assert.Equal(t, uint32(0x903f), cfg.DeviceID)
	assert.Equal(t, 10*time.Millisecond, cfg.PollInterval)
	assert.Zero(t, cfg.Timeout)

	size, err := cfg.TransferBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), size)
	count, err := cfg.BurstCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(524288), count)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mbw.yaml")
	writeFile(t, path, `
device_id: 0x9038
burst_size: 4096
transfer_size: 256MiB
timeout: 5s
paths:
  - name: PCI
    register_base: 0x1000
    clock_mhz: 250
    use_reserved_buffer: true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x10ee), cfg.VendorID, "defaults are kept")
	assert.Equal(t, uint32(0x9038), cfg.DeviceID)
	assert.Equal(t, DefaultSysfsDir, cfg.SysfsDir)
	assert.Equal(t, uint32(4096), cfg.BurstSize)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	require.Len(t, cfg.Paths, 1)
	assert.Equal(t, PathConfig{Name: "PCI", RegisterBase: 0x1000, ClockMHz: 250, UseReservedBuffer: true}, cfg.Paths[0])
	count, err := cfg.BurstCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), count)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"yaml", "burst_size: [1, 2"},
		{"not multiple", "burst_size: 2048\ntransfer_size: 1000"},
		{"zero burst", "burst_size: 0"},
		{"bad size", "transfer_size: lots"},
		{"clock", "paths:\n  - name: DDR\n    register_base: 0x2000\n"},
		{"unaligned", "paths:\n  - name: DDR\n    register_base: 0x2002\n    clock_mhz: 100\n"},
		{"no paths", "paths: []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			writeFile(t, path, tt.content)
			_, err := LoadConfig(path)
			require.ErrorIs(t, err, ErrInvalidSettings)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestRunSuite(t *testing.T) {
	sim := newSimRegs(0x4000, 2, 0x1000, 0x2000)
	sim.set(0x1000, MBW_REG_WRESULT_L, 250_000_000)
	sim.set(0x2000, MBW_REG_WRESULT_L, 266_500_000)
	sim.set(0x1000, MBW_REG_RRESULT_H, 1)
	sim.set(0x2000, MBW_REG_RRESULT_L, 1000)

	cfg := DefaultConfig()
	cfg.TransferSize = "1MiB"
	results, err := RunSuite(context.Background(), newTestEngine(sim), cfg, 0x800000000)
	require.NoError(t, err)

	require.Len(t, sim.ops, 4)
	assert.Equal(t, simOp{base: 0x1000, cmd: MBW_START_WRITE, target: 0x800000000, size: 2048, count: 512}, sim.ops[0])
	assert.Equal(t, simOp{base: 0x2000, cmd: MBW_START_WRITE, target: 0, size: 2048, count: 512}, sim.ops[1])
	assert.Equal(t, simOp{base: 0x1000, cmd: MBW_START_READ, target: 0x800000000, size: 2048, count: 512}, sim.ops[2])
	assert.Equal(t, simOp{base: 0x2000, cmd: MBW_START_READ, target: 0, size: 2048, count: 512}, sim.ops[3])

	require.Len(t, results, 4)
	assert.Equal(t, "PCI", results[0].Name)
	assert.Equal(t, Write, results[0].Direction)
	assert.Equal(t, uint64(250_000_000), results[0].Cycles)
	assert.Equal(t, uint64(1<<20), results[0].Bytes)
	assert.InDelta(t, 1e9, results[1].Nanoseconds(), 1e-3)
	assert.Equal(t, uint64(1)<<32, results[2].Cycles)
	assert.Equal(t, "DDR", results[3].Name)
	assert.Equal(t, Read, results[3].Direction)
	assert.Equal(t, uint64(1000), results[3].Cycles)
}

func TestRunSuiteStopsOnFirstError(t *testing.T) {
	sim := newSimRegs(0x1800, 0, 0x1000) // the DDR core at 0x2000 is outside the window
	cfg := DefaultConfig()
	cfg.TransferSize = "1MiB"

	results, err := RunSuite(context.Background(), newTestEngine(sim), cfg, 0x800000000)
	require.ErrorIs(t, err, ErrRegisterWindow)
	assert.Len(t, results, 1)
	assert.Len(t, sim.ops, 1)
}

func TestLookupDeviceName(t *testing.T) {
	vendor, device := lookupDeviceName(nil, 0x10ee, 0x903f)
	assert.Equal(t, "Unknown Vendor", vendor)
	assert.Equal(t, "0x903F", device)

	db := &pcidb.PCIDB{
		Vendors: map[string]*pcidb.Vendor{
			"10ee": {ID: "10ee", Name: "Xilinx Corporation"},
		},
		Products: map[string]*pcidb.Product{
			"10ee903f": {VendorID: "10ee", ID: "903f", Name: "Sidewinder-100"},
		},
	}
	vendor, device = lookupDeviceName(db, 0x10ee, 0x903f)
	assert.Equal(t, "Xilinx Corporation", vendor)
	assert.Equal(t, "Sidewinder-100", device)

	vendor, device = lookupDeviceName(db, 0x10ee, 0x9038)
	assert.Equal(t, "Xilinx Corporation", vendor)
	assert.Equal(t, "0x9038", device)
}
