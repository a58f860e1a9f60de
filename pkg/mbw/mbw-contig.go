// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file locates the physically contiguous buffer reserved at boot time
// with the kernel parameter memmap=<size>$<address>
package mbw

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// Minimum size of the reserved buffer: one measurement moves 1 GiB
const MinReservedBufferSize = 1 << 30

// ReservedBuffer is the physical location of the boot-time reserved buffer
type ReservedBuffer struct {
	PhysAddr uint64
	Size     uint64
}

func kmgScale(c byte) uint64 {
	switch c {
	case 'K':
		return 1 << 10
	case 'M':
		return 1 << 20
	case 'G':
		return 1 << 30
	}
	return 0
}

// ScanKMG returns the integer that follows the first delim in text, scaled by
// the K, M or G suffix that follows its digits. A missing delim, a missing
// number, a decimal number without a K/M/G suffix or a scaled value that
// overflows 64 bits yields 0.
// A 0x prefixed hex number is an address: without a suffix it is returned as is.
//
//	ScanKMG('=', "memmap=4G$0x800000000") == 4 << 30
//	ScanKMG('$', "memmap=4G$0x800000000") == 0x800000000
func ScanKMG(delim byte, text string) uint64 {
	i := strings.IndexByte(text, delim)
	if i < 0 {
		return 0
	}
	s := text[i+1:]

	isHex := len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') && isHexDigit(s[2])
	var n int
	if isHex {
		s = s[2:]
		for n < len(s) && isHexDigit(s[n]) {
			n++
		}
	} else {
		for n < len(s) && s[n] >= '0' && s[n] <= '9' {
			n++
		}
	}
	if n == 0 {
		return 0
	}

	base := 10
	if isHex {
		base = 16
	}
	value, err := strconv.ParseUint(s[:n], base, 64)
	if err != nil {
		klog.V(DBG_LVL_INFO).InfoS("mbw.ScanKMG", "text", s[:n], "err", err)
		return 0
	}

	var scale uint64
	if n < len(s) {
		scale = kmgScale(s[n])
	}
	if scale == 0 {
		if isHex {
			return value
		}
		return 0
	}
	if value > math.MaxUint64/scale {
		klog.V(DBG_LVL_INFO).InfoS("mbw.ScanKMG overflow", "text", s[:n+1])
		return 0
	}
	return value * scale
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// LocateReservedBuffer parses the boot command line found at path
// (/proc/cmdline by default) and returns the reserved buffer it describes.
func LocateReservedBuffer(path string) (ReservedBuffer, error) {
	if path == "" {
		path = DefaultCmdline
	}
	readFile, err := os.Open(path)
	if err != nil {
		return ReservedBuffer{}, fmt.Errorf("%w: can't open %s: %v", ErrConfigUnreadable, path, err)
	}
	defer readFile.Close()

	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Scan()
	if err := fileScanner.Err(); err != nil {
		return ReservedBuffer{}, fmt.Errorf("%w: %s: %v", ErrConfigUnreadable, path, err)
	}
	line := fileScanner.Text()
	klog.V(DBG_LVL_INFO).InfoS("mbw.LocateReservedBuffer", "path", path, "cmdline", line)

	i := strings.Index(line, "memmap=")
	if i < 0 {
		return ReservedBuffer{}, fmt.Errorf("%w: %s has no memmap=", ErrMalformedConfig, path)
	}
	memmap := line[i:]

	buf := ReservedBuffer{
		Size:     ScanKMG('=', memmap),
		PhysAddr: ScanKMG('$', memmap),
	}
	if buf.PhysAddr == 0 {
		return buf, ErrNoReservedBuffer
	}
	if buf.Size < MinReservedBufferSize {
		return buf, fmt.Errorf("%w: size of 0x%x", ErrBufferTooSmall, buf.Size)
	}
	klog.V(DBG_LVL_BASIC).InfoS("mbw.LocateReservedBuffer found", "phyaddr", hex(buf.PhysAddr), "size", hex(buf.Size))
	return buf, nil
}

// FindContig returns the physical address of the reserved contiguous buffer
func FindContig(path string) (uint64, error) {
	buf, err := LocateReservedBuffer(path)
	if err != nil {
		return 0, err
	}
	return buf.PhysAddr, nil
}
