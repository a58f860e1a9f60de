// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the settings of a bandwidth measurement run, with
// defaults matching the Sidewinder board and an optional YAML file
package mbw

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
	"periph.io/x/periph/conn/physic"
)

// PathConfig describes one measurement core and the data path it exercises
type PathConfig struct {
	Name         string  `yaml:"name"`
	RegisterBase uint32  `yaml:"register_base"` // offset of the core in the register resource
	ClockMHz     float64 `yaml:"clock_mhz"`
	// Target the reserved contiguous buffer instead of TargetAddr
	UseReservedBuffer bool   `yaml:"use_reserved_buffer"`
	TargetAddr        uint64 `yaml:"target_addr"`
}

func (p *PathConfig) Clock() physic.Frequency {
	return physic.Frequency(p.ClockMHz * float64(physic.MegaHertz))
}

type Config struct {
	VendorID         uint32        `yaml:"vendor_id"`
	DeviceID         uint32        `yaml:"device_id"`
	SysfsDir         string        `yaml:"sysfs_dir"`
	MemDev           string        `yaml:"mem_dev"`
	Cmdline          string        `yaml:"cmdline"`
	RegisterResource int           `yaml:"register_resource"` // index of the resource holding the AXI slave registers
	BurstSize        uint32        `yaml:"burst_size"`
	TransferSize     string        `yaml:"transfer_size"` // eg "1GiB"
	PollInterval     time.Duration `yaml:"poll_interval"`
	Timeout          time.Duration `yaml:"timeout"` // 0 waits forever
	Paths            []PathConfig  `yaml:"paths"`
}

// DefaultConfig returns the settings of the Fidus Sidewinder bitstream
func DefaultConfig() *Config {
	return &Config{
		VendorID:         0x10ee,
		DeviceID:         0x903f,
		SysfsDir:         DefaultSysfsDir,
		MemDev:           DefaultMemDev,
		Cmdline:          DefaultCmdline,
		RegisterResource: 0,
		BurstSize:        2048,
		TransferSize:     "1GiB",
		PollInterval:     MBW_POLL_INTERVAL * time.Millisecond,
		Paths: []PathConfig{
			{Name: "PCI", RegisterBase: 0x1000, ClockMHz: 250.0, UseReservedBuffer: true},
			{Name: "DDR", RegisterBase: 0x2000, ClockMHz: 266.5, TargetAddr: 0},
		},
	}
}

// LoadConfig reads a YAML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(fileBytes, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, path, err)
	}
	klog.V(DBG_LVL_INFO).InfoS("mbw.LoadConfig", "path", path, "config", cfg)
	return cfg, cfg.Validate()
}

// TransferBytes returns the number of bytes moved by one measurement
func (c *Config) TransferBytes() (uint64, error) {
	size, err := humanize.ParseBytes(c.TransferSize)
	if err != nil {
		return 0, fmt.Errorf("%w: transfer size %q: %v", ErrInvalidSettings, c.TransferSize, err)
	}
	return size, nil
}

// BurstCount returns the number of bursts of one measurement
func (c *Config) BurstCount() (uint32, error) {
	size, err := c.TransferBytes()
	if err != nil {
		return 0, err
	}
	if c.BurstSize == 0 {
		return 0, fmt.Errorf("%w: burst size is 0", ErrInvalidSettings)
	}
	if size == 0 || size%uint64(c.BurstSize) != 0 {
		return 0, fmt.Errorf("%w: transfer size %d is not a multiple of burst size %d", ErrInvalidSettings, size, c.BurstSize)
	}
	count := size / uint64(c.BurstSize)
	if count > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bursts do not fit the COUNT register", ErrInvalidSettings, count)
	}
	return uint32(count), nil
}

func (c *Config) Validate() error {
	if _, err := c.BurstCount(); err != nil {
		return err
	}
	if c.RegisterResource < 0 {
		return fmt.Errorf("%w: register resource %d", ErrInvalidSettings, c.RegisterResource)
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("%w: no measurement path", ErrInvalidSettings)
	}
	for _, p := range c.Paths {
		if p.ClockMHz <= 0 {
			return fmt.Errorf("%w: path %s has clock %v MHz", ErrInvalidSettings, p.Name, p.ClockMHz)
		}
		if p.RegisterBase%4 != 0 {
			return fmt.Errorf("%w: path %s register base 0x%X is not 32-bit aligned", ErrInvalidSettings, p.Name, p.RegisterBase)
		}
	}
	return nil
}
