// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Seagate/mbw-util/pkg/mbw"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var Version = "1.0.0"

// This variable is filled in during the linker step - -ldflags "-X main.buildTime=`date -u '+%Y-%m-%dT%H:%M:%S'`"
var buildTime = ""

var helptxt = `
mbw-util measures PCIe and on-board DDR bandwidth with the "measure bandwidth" cores of the FPGA card.

Usage:
./mbw-util [--version] [--help] [--info] [--config=FILE] [--timeout=DURATION] [--burst-size=N] [--transfer-size=SIZE] [--verbosity=0]

Which:
	version            : Print the version of this application and exit
	help               : Print the help text and exit
	info               : Print the device, its mapped resources and the reserved buffer, then exit
	config=FILE        : Read the settings from a YAML file
	timeout=DURATION   : Give up on a measurement after DURATION (default: wait forever)
	burst-size=N       : Bytes per AXI burst
	transfer-size=SIZE : Bytes moved by each measurement, eg 1GiB
	verbosity          : Set the log level verbosity, where 0 is no longing and 4 is very verbose

The card is found by vendor/device id under /sys/bus/pci/devices, mapped through /dev/mem (run as root),
and the PCI path targets the buffer reserved at boot with memmap=<size>$<address> (at least 1G).
`

const (
	DefaultVerbosity = "0" // Default log level
)

type Settings struct {
	Version      bool          // Print the version of this application and exit if true
	Verbosity    string        // The log level verbosity, where 0 is no longing and 4 is very verbose
	Help         bool          // Print the help text and exit
	Info         bool          // Print device info and exit
	Config       string        // YAML settings file
	Timeout      time.Duration // Bound on each measurement, 0 waits forever
	BurstSize    uint32        // Bytes per burst
	TransferSize string        // Bytes per measurement

	changed map[string]bool // flags given on the command line
}

// InitContext: initialize the configuration data using command line args
func (s *Settings) InitContext(args []string, ctx context.Context) (error, context.Context) {

	newContext := ctx

	flags := pflag.NewFlagSet(args[0], pflag.ExitOnError)

	var (
		version      = flags.Bool("version", false, "Display version and exit")
		verbosity    = flags.String("verbosity", DefaultVerbosity, "Log level verbosity")
		help         = flags.Bool("help", false, "Print the help text")
		info         = flags.Bool("info", false, "Print the device, its resources and the reserved buffer")
		config       = flags.String("config", "", "YAML settings file")
		timeout      = flags.Duration("timeout", 0, "Bound on each measurement, 0 waits forever")
		burstSize    = flags.Uint32("burst-size", 0, "Bytes per AXI burst")
		transferSize = flags.String("transfer-size", "", "Bytes moved by each measurement")
	)

	// Parse 1) command line arguments, 2) config file settings, and 3) defaults (in this order)
	err := flags.Parse(args[1:])
	if err != nil {
		return err, newContext
	}

	// Update the configuration object with the parsed values
	s.Version = *version
	s.Verbosity = *verbosity
	s.Help = *help
	s.Info = *info
	s.Config = *config
	s.Timeout = *timeout
	s.BurstSize = *burstSize
	s.TransferSize = *transferSize

	s.changed = make(map[string]bool)
	flags.Visit(func(f *pflag.Flag) { s.changed[f.Name] = true })

	return nil, newContext
}

// LoadConfig: the settings file (or the defaults) overridden by the command line
func (s *Settings) LoadConfig() (*mbw.Config, error) {
	cfg := mbw.DefaultConfig()
	if s.Config != "" {
		var err error
		cfg, err = mbw.LoadConfig(s.Config)
		if err != nil {
			return nil, err
		}
	}
	if s.changed["timeout"] {
		cfg.Timeout = s.Timeout
	}
	if s.changed["burst-size"] {
		cfg.BurstSize = s.BurstSize
	}
	if s.changed["transfer-size"] {
		cfg.TransferSize = s.TransferSize
	}
	return cfg, cfg.Validate()
}

// setVerbosity sets the klog level from the 'verbosity' flag
func setVerbosity(verbosity string) error {
	var l klog.Level
	if err := l.Set(verbosity); err != nil {
		return fmt.Errorf("verbosity=%q: %w", verbosity, err)
	}
	return nil
}

// printInfo reports the device, its resources and the reserved buffer. A
// failed buffer lookup is reported on its own line.
func printInfo(w io.Writer, dev *mbw.Device, buf mbw.ReservedBuffer, bufErr error) {
	vendorName, deviceName := mbw.LookupDeviceName(dev.VendorID, dev.DeviceID)
	fmt.Fprintf(w, "Device %s: %s %s [%04x:%04x]\n", dev.Dir, vendorName, deviceName, dev.VendorID, dev.DeviceID)

	prFmt := "%8s | %18s | %10s | %6s | %s \n"
	fmt.Fprintf(w, prFmt, "Resource", "Address", "Size", "Type", "Prefetch")
	for i, res := range dev.Resources() {
		fmt.Fprintf(w, prFmt, fmt.Sprintf("%d (%d)", i, res.Slot), fmt.Sprintf("0x%X", res.PhysAddr), humanize.IBytes(res.Size), res.Type(), fmt.Sprint(res.Prefetchable()))
	}
	if bufErr != nil {
		fmt.Fprintf(w, "Reserved buffer: %v\n", bufErr)
		return
	}
	fmt.Fprintf(w, "Reserved buffer: 0x%X, %s\n", buf.PhysAddr, humanize.IBytes(buf.Size))
}

func run() int {

	// Extract settings and initialize context using command line args, config file, or defaults
	settings := Settings{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	var err error
	err, ctx = settings.InitContext(os.Args, ctx)

	if err != nil {
		fmt.Printf("ERROR: parsing parameters, err=%v\n", err)
		return 1
	}

	// Set verbosity level according to the 'verbosity' flag
	if err := setVerbosity(settings.Verbosity); err != nil {
		fmt.Printf("ERROR: parsing parameters, err=%v\n", err)
		return 1
	}
	defer klog.Flush()

	// mbw-util banner
	args := strings.Join(os.Args[1:], " ")
	klog.V(1).InfoS("mbw-util", "args", args)
	klog.V(2).InfoS("mbw-util", "settings", settings)

	if settings.Version {
		fmt.Println("[] mbw-util", "version", Version, "build", buildTime)
		return 0
	}

	if settings.Help {
		fmt.Print(helptxt)
		return 0
	}

	cfg, err := settings.LoadConfig()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	// Map the card's PCI resources into user space
	dev := mbw.NewDevice()
	dev.MemDev = cfg.MemDev
	if err := dev.Open(cfg.VendorID, cfg.DeviceID, cfg.SysfsDir); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	defer dev.Close()

	// Find the reserved contiguous buffer
	buf, err := mbw.LocateReservedBuffer(cfg.Cmdline)
	if settings.Info {
		printInfo(os.Stdout, dev, buf, err)
		return 0
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}

	region, err := dev.Region(cfg.RegisterResource)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	engine := mbw.NewEngine(region)
	engine.PollInterval = cfg.PollInterval
	engine.Timeout = cfg.Timeout

	// And go measure and report the bandwidth
	results, err := mbw.RunSuite(ctx, engine, cfg, buf.PhysAddr)
	for _, r := range results {
		fmt.Println(r)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
