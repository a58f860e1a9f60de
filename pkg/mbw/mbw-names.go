// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file resolves PCI vendor and device ids to names from the pci.ids
// database installed on the host
package mbw

import (
	"fmt"
	"sync"

	"github.com/jaypipes/pcidb"
	"k8s.io/klog/v2"
)

var (
	pciDB     *pcidb.PCIDB
	pciDBOnce sync.Once
)

func loadPciDB() *pcidb.PCIDB {
	pciDBOnce.Do(func() {
		db, err := pcidb.New()
		if err != nil {
			klog.V(DBG_LVL_BASIC).InfoS("mbw.loadPciDB pci.ids is not available", "err", err)
			return
		}
		pciDB = db
	})
	return pciDB
}

// LookupDeviceName returns the vendor and device names of a PCI id pair
func LookupDeviceName(vendorID, deviceID uint32) (string, string) {
	return lookupDeviceName(loadPciDB(), vendorID, deviceID)
}

func lookupDeviceName(db *pcidb.PCIDB, vendorID, deviceID uint32) (string, string) {
	vendorName := "Unknown Vendor"
	deviceName := fmt.Sprintf("0x%X", deviceID)
	if db == nil {
		return vendorName, deviceName
	}
	vendorKey := fmt.Sprintf("%04x", vendorID)
	if vendor, ok := db.Vendors[vendorKey]; ok {
		vendorName = vendor.Name
	}
	if product, ok := db.Products[vendorKey+fmt.Sprintf("%04x", deviceID)]; ok {
		deviceName = product.Name
	}
	return vendorName, deviceName
}
