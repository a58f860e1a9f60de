// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Seagate/mbw-util/pkg/mbw"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVerbosity(t *testing.T) {
	require.NoError(t, setVerbosity("2"))
	require.NoError(t, setVerbosity(DefaultVerbosity))
	require.Error(t, setVerbosity("abc"))
	require.Error(t, setVerbosity(""))
}

func TestPrintInfoWithoutReservedBuffer(t *testing.T) {
	cmdline := filepath.Join(t.TempDir(), "cmdline")
	buf, err := mbw.LocateReservedBuffer(cmdline)
	require.ErrorIs(t, err, mbw.ErrConfigUnreadable)

	var out bytes.Buffer
	printInfo(&out, mbw.NewDevice(), buf, err)
	assert.Contains(t, out.String(), "Resource |")
	assert.Contains(t, out.String(), "Reserved buffer: "+err.Error())
}

func TestPrintInfoReservedBuffer(t *testing.T) {
	var out bytes.Buffer
	printInfo(&out, mbw.NewDevice(), mbw.ReservedBuffer{PhysAddr: 0x800000000, Size: 4 << 30}, nil)
	assert.Contains(t, out.String(), "Reserved buffer: 0x800000000, 4.0 GiB")
}

func TestSettingsOverrideConfig(t *testing.T) {
	s := Settings{}
	err, _ := s.InitContext([]string{"mbw-util", "--timeout=2s", "--transfer-size=256MiB"}, context.Background())
	require.NoError(t, err)

	cfg, err := s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "256MiB", cfg.TransferSize)
	assert.Equal(t, uint32(2048), cfg.BurstSize, "flags not given keep the defaults")
}
