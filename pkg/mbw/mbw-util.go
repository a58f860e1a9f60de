// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the shared helpers of the mbw library
package mbw

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DBG_LVL_DEFAUILT    = iota //0
	DBG_LVL_BASIC              //1
	DBG_LVL_INFO               //2
	DBG_LVL_DETAIL             //3
	DBG_LVL_DEEP_DETAIL        //4
)

// Default sysfs directory holding one entry per PCI function
const DefaultSysfsDir = "/sys/bus/pci/devices"

// Default privileged physical memory device
const DefaultMemDev = "/dev/mem"

// Default boot command line source
const DefaultCmdline = "/proc/cmdline"

func hexToInt(hexStr string) (uint64, error) {
	s := strings.TrimSpace(hexStr)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	// base 16 for hexadecimal
	return strconv.ParseUint(s, 16, 64)
}

// Wrapper function to shorten int to hex convertion call
func hex(a any) string {
	return fmt.Sprintf("0x%X", a)
}

// u64field describes a bit field inside a 64-bit register or flag word
type u64field struct {
	offset   int
	bitwidth int
}

func (u *u64field) read(reg uint64) uint64 {
	return (reg >> u.offset) & (1<<u.bitwidth - 1)
}

// u32field describes a bit field inside a 32-bit register
type u32field struct {
	offset   int
	bitwidth int
}

func (u *u32field) mask() uint32 {
	return (1<<u.bitwidth - 1) << u.offset
}

func (u *u32field) write(reg *uint32, val uint32) {
	*reg = (*reg &^ u.mask()) | ((val << u.offset) & u.mask())
}

// hi32 / lo32 split a 64-bit value across a register pair
func hi32(v uint64) uint32 { return uint32(v >> 32) }
func lo32(v uint64) uint32 { return uint32(v) }
