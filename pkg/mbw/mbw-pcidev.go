// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements PCI device discovery through sysfs and the mapping of
// the device resources (BARs) into user space through /dev/mem
package mbw

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Flag bits of the third column of the sysfs resource file (linux/ioport.h)
var (
	RESOURCE_FLAG_IO       = u64field{offset: 8, bitwidth: 1}
	RESOURCE_FLAG_MEM      = u64field{offset: 9, bitwidth: 1}
	RESOURCE_FLAG_PREFETCH = u64field{offset: 13, bitwidth: 1}
	RESOURCE_FLAG_MEM_64   = u64field{offset: 20, bitwidth: 1}
)

// Resource is one memory-mappable region (BAR) of a PCI device
type Resource struct {
	PhysAddr uint64
	Size     uint64
	Flags    uint64
	Slot     int // line number in the resource file, ie the BAR slot

	mapped  bool
	mapping []byte // page aligned mapping returned by mmap
	mem     []byte // the resource itself, inside mapping
}

// Mapped reports whether the resource was mapped when it was listed
func (r *Resource) Mapped() bool { return r.mapped }

// return the resource type as io, mem32 or mem64
func (r *Resource) Type() string {
	switch {
	case RESOURCE_FLAG_IO.read(r.Flags) != 0:
		return "io"
	case RESOURCE_FLAG_MEM.read(r.Flags) != 0 && RESOURCE_FLAG_MEM_64.read(r.Flags) != 0:
		return "mem64"
	case RESOURCE_FLAG_MEM.read(r.Flags) != 0:
		return "mem32"
	}
	return "unknown"
}

func (r *Resource) Prefetchable() bool {
	return RESOURCE_FLAG_PREFETCH.read(r.Flags) != 0
}

// readIntegerFromFile returns the integer held on the first line of a small
// sysfs attribute file, decimal or 0x prefixed hex. Any failure yields -1.
func readIntegerFromFile(path string) int64 {
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		klog.V(DBG_LVL_DETAIL).InfoS("mbw.readIntegerFromFile", "path", path, "err", err)
		return -1
	}
	line, _, _ := strings.Cut(string(fileBytes), "\n")
	val, err := strconv.ParseInt(strings.TrimSpace(line), 0, 64)
	if err != nil {
		klog.V(DBG_LVL_DETAIL).InfoS("mbw.readIntegerFromFile", "path", path, "line", line, "err", err)
		return -1
	}
	return val
}

// FindDevice returns the sysfs directory of the PCI function matching the
// vendor and device ids. baseDir defaults to /sys/bus/pci/devices.
//
// Entries are examined in os.ReadDir order. When several functions share the
// same ids the one returned is simply the first in that order.
func FindDevice(vendorID, deviceID uint32, baseDir string) (string, error) {
	if baseDir == "" {
		baseDir = DefaultSysfsDir
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("%w for vendor=0x%X, device=0x%X: %v", ErrDeviceNotFound, vendorID, deviceID, err)
	}
	for _, entry := range entries {
		dirName := filepath.Join(baseDir, entry.Name())
		// sysfs entries are symlinks, stat follows them
		fi, err := os.Stat(dirName)
		if err != nil || !fi.IsDir() {
			continue
		}
		thisVendorID := readIntegerFromFile(filepath.Join(dirName, "vendor"))
		thisDeviceID := readIntegerFromFile(filepath.Join(dirName, "device"))
		klog.V(DBG_LVL_DEEP_DETAIL).InfoS("mbw.FindDevice", "dir", dirName, "vendor", thisVendorID, "device", thisDeviceID)
		if thisVendorID == int64(vendorID) && thisDeviceID == int64(deviceID) {
			klog.V(DBG_LVL_BASIC).InfoS("mbw.FindDevice device found", "dir", dirName)
			return dirName, nil
		}
	}
	return "", fmt.Errorf("%w for vendor=0x%X, device=0x%X", ErrDeviceNotFound, vendorID, deviceID)
}

// ParseResourceFile returns the mappable resources listed in a sysfs resource
// file. Each line is "<start> <end> <flags>" in hex; a start of 0 marks an
// unused slot.
func ParseResourceFile(path string) ([]Resource, error) {
	readFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't open %s: %v", ErrMalformedResourceFile, path, err)
	}
	defer readFile.Close()

	var result []Resource
	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Split(bufio.ScanLines)
	for slot := 0; fileScanner.Scan(); slot++ {
		fields := strings.Fields(fileScanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: %s line %d: %q", ErrMalformedResourceFile, path, slot+1, fileScanner.Text())
		}
		start, err := hexToInt(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrMalformedResourceFile, path, slot+1, err)
		}
		if start == 0 {
			continue
		}
		end, err := hexToInt(fields[1])
		if err != nil || end < start {
			return nil, fmt.Errorf("%w: %s line %d: bad end address %q", ErrMalformedResourceFile, path, slot+1, fields[1])
		}
		var flags uint64
		if len(fields) > 2 {
			if flags, err = hexToInt(fields[2]); err != nil {
				return nil, fmt.Errorf("%w: %s line %d: bad flags %q", ErrMalformedResourceFile, path, slot+1, fields[2])
			}
		}
		result = append(result, Resource{PhysAddr: start, Size: end - start + 1, Flags: flags, Slot: slot})
	}
	if err := fileScanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResourceFile, path, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMappableResources, path)
	}
	return result, nil
}

// PhysMem is an open handle on physical memory
type PhysMem interface {
	Mmap(offset int64, length int) ([]byte, error)
	Munmap(b []byte) error
	Close() error
}

// DevMem maps physical memory through the /dev/mem character device
type DevMem struct {
	dev_mem_file *os.File
}

// OpenDevMem opens the physical memory device for shared read/write mappings
func OpenDevMem(path string) (PhysMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	}
	klog.V(DBG_LVL_DETAIL).InfoS("mbw.OpenDevMem", "path", path)
	return &DevMem{dev_mem_file: f}, nil
}

func (m *DevMem) Mmap(offset int64, length int) ([]byte, error) {
	return unix.Mmap(int(m.dev_mem_file.Fd()), offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (m *DevMem) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (m *DevMem) Close() error {
	return m.dev_mem_file.Close()
}

// Device owns the mappings of one opened PCI device
type Device struct {
	VendorID uint32
	DeviceID uint32
	Dir      string // sysfs directory of the opened device
	MemDev   string // physical memory device, /dev/mem by default

	mu        sync.Mutex
	resources []Resource
	guard     *regionGuard // invalidates the regions handed out for resources
	openMem   func(path string) (PhysMem, error)
	munmap    func([]byte) error // mappings outlive the PhysMem handle
	pageSize  int
}

func NewDevice() *Device {
	return &Device{
		MemDev:   DefaultMemDev,
		openMem:  OpenDevMem,
		munmap:   unix.Munmap,
		pageSize: unix.Getpagesize(),
	}
}

// Open finds the device by vendor and device id under baseDir and maps every
// one of its resources. A previously opened device is closed first. On
// failure nothing is left mapped.
func (d *Device) Open(vendorID, deviceID uint32, baseDir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.close(); err != nil {
		return err
	}

	dirName, err := FindDevice(vendorID, deviceID, baseDir)
	if err != nil {
		return err
	}

	resources, err := ParseResourceFile(filepath.Join(dirName, "resource"))
	if err != nil {
		return err
	}

	if err := d.mapAll(resources); err != nil {
		return err
	}

	d.VendorID = vendorID
	d.DeviceID = deviceID
	d.Dir = dirName
	d.resources = resources
	d.guard = &regionGuard{}
	klog.V(DBG_LVL_BASIC).InfoS("mbw.Device opened", "dir", dirName, "resources", len(resources))
	return nil
}

// mapAll maps each resource into user space. If any mapping fails the ones
// already mapped by this call are unmapped again.
func (d *Device) mapAll(resources []Resource) error {
	mem, err := d.openMem(d.MemDev)
	if err != nil {
		return err
	}
	// mappings stay valid once the descriptor is closed
	defer mem.Close()

	pageMask := uint64(d.pageSize - 1)
	for i := range resources {
		res := &resources[i]
		pageOfs := res.PhysAddr & pageMask
		alignedAddr := res.PhysAddr - pageOfs
		klog.V(DBG_LVL_INFO).Infof("mbw.mapAll: slot %d phyaddr 0x%X size 0x%X", res.Slot, res.PhysAddr, res.Size)
		mapping, err := mem.Mmap(int64(alignedAddr), int(res.Size+pageOfs))
		if err != nil {
			unmapAll(mem.Munmap, resources[:i])
			return &MappingError{Addr: res.PhysAddr, Size: res.Size, Err: err}
		}
		res.mapping = mapping
		res.mem = mapping[pageOfs : pageOfs+res.Size]
		res.mapped = true
	}
	return nil
}

func unmapAll(munmap func([]byte) error, resources []Resource) error {
	var errs []error
	for i := range resources {
		res := &resources[i]
		if res.mapping == nil {
			continue
		}
		if err := munmap(res.mapping); err != nil {
			klog.V(DBG_LVL_BASIC).InfoS("mbw.unmapAll", "phyaddr", hex(res.PhysAddr), "err", err)
			errs = append(errs, err)
		}
		res.mapping = nil
		res.mem = nil
		res.mapped = false
	}
	return errors.Join(errs...)
}

// Close unmaps every mapped resource. It is safe to call on a device that
// was never opened or is already closed. Regions obtained from the device
// stop touching the mappings before they are released.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.close()
}

func (d *Device) close() error {
	if d.guard != nil {
		d.guard.mu.Lock()
		d.guard.closed = true
		d.guard.mu.Unlock()
		d.guard = nil
	}
	var err error
	if len(d.resources) != 0 {
		err = unmapAll(d.munmap, d.resources)
		klog.V(DBG_LVL_INFO).InfoS("mbw.Device closed", "dir", d.Dir)
	}
	d.resources = nil
	d.VendorID = 0
	d.DeviceID = 0
	d.Dir = ""
	return err
}

// Resources returns a copy of the resource list
func (d *Device) Resources() []Resource {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []Resource
	for _, res := range d.resources {
		res.mapping = nil
		res.mem = nil
		result = append(result, res)
	}
	return result
}

// Region returns register access to the i-th mapped resource. The region
// stops reaching the device once the device is closed or opened again.
func (d *Device) Region(i int) (*MemRegion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.resources) || !d.resources[i].Mapped() {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoSuchResource, i, len(d.resources))
	}
	res := &d.resources[i]
	return &MemRegion{
		name:  fmt.Sprintf("%s/resource%d", filepath.Base(d.Dir), res.Slot),
		mem:   res.mem,
		guard: d.guard,
	}, nil
}
