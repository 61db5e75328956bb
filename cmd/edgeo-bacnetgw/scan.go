package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnetgw/registry"
)

// maxInstance is the highest device instance number
const maxInstance = 0x3FFFFE

var (
	scanTimeout   time.Duration
	scanLowLimit  uint32
	scanHighLimit uint32
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BACnet devices on the network",
	Long: `Scan sends a Who-Is broadcast and lists the devices that answer.

Examples:
  # Discover all devices
  edgeo-bacnetgw scan

  # Discover devices with instance IDs 1-100
  edgeo-bacnetgw scan --low 1 --high 100

  # Discover with extended timeout, as CSV
  edgeo-bacnetgw scan --scan-timeout 10s -o csv`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 5*time.Second, "Time to wait for I-Am answers")
	scanCmd.Flags().Uint32Var(&scanLowLimit, "low", 0, "Low limit for device instance range (0 = no limit)")
	scanCmd.Flags().Uint32Var(&scanHighLimit, "high", 0, "High limit for device instance range (0 = no limit)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if scanLowLimit > 0 || scanHighLimit > 0 {
		high := scanHighLimit
		if high == 0 {
			high = maxInstance
		}
		cfg.DeviceRanges = []registry.Range{{Low: scanLowLimit, High: high}}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.APDUTimeout+scanTimeout)
	defer cancel()

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Fprintln(os.Stderr, "Scanning for BACnet devices...")
	if err := e.Discover(ctx); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	select {
	case <-time.After(scanTimeout):
	case <-ctx.Done():
	}

	devices := e.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "No devices found")
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(dev.ID), 10),
			dev.Address.String(),
			dev.Address.Kind.String(),
			strconv.Itoa(int(dev.VendorID)),
			dev.Segmentation.String(),
			strconv.Itoa(int(dev.MaxAPDU)),
		})
	}
	f := NewFormatter(outputFmt)
	if err := f.Render(devices, []string{"DEVICE ID", "ADDRESS", "KIND", "VENDOR", "SEGMENTATION", "MAX APDU"}, rows); err != nil {
		return err
	}
	if f.format == FormatTable {
		fmt.Fprintf(os.Stderr, "\nFound %d device(s)\n", len(devices))
	}
	return nil
}
