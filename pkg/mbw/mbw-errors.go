// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file defines the error kinds returned by the mbw library.
// Every error is raised where it is detected and returned unchanged;
// callers compare with errors.Is / errors.As.
package mbw

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound        = errors.New("no PCI device found")
	ErrPermissionDenied      = errors.New("cannot open physical memory device, must be root")
	ErrMappingFailed         = errors.New("mmap failed")
	ErrMalformedResourceFile = errors.New("malformed resource file")
	ErrNoMappableResources   = errors.New("device contains no memory-mappable resources")
	ErrConfigUnreadable      = errors.New("cannot read boot command line")
	ErrMalformedConfig       = errors.New("malformed boot command line")
	ErrNoReservedBuffer      = errors.New("no reserved contiguous buffer found")
	ErrBufferTooSmall        = errors.New("reserved buffer is too small")
	ErrTimeout               = errors.New("timed out waiting for measurement to complete")
	ErrRegisterWindow        = errors.New("register window outside of resource")
	ErrNoSuchResource        = errors.New("no such mapped resource")
	ErrInvalidDirection      = errors.New("invalid measurement direction")
	ErrInvalidSettings       = errors.New("invalid settings")
)

// MappingError reports the resource that could not be mapped
type MappingError struct {
	Addr uint64
	Size uint64
	Err  error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mmap failed on 0x%x for size 0x%x: %v", e.Addr, e.Size, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

func (e *MappingError) Is(target error) bool { return target == ErrMappingFailed }
