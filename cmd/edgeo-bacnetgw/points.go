package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

var (
	deviceID   uint32
	deviceWait time.Duration
)

// addDeviceFlags registers the target device flags on cmd
func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32VarP(&deviceID, "device", "d", 0, "Target device instance ID")
	cmd.Flags().DurationVar(&deviceWait, "wait", 5*time.Second, "Time to wait for the device's I-Am")
	cmd.MarkFlagRequired("device")
}

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Discover the points of one device",
	Long: `Points runs point discovery on one device and lists its objects.

Devices that cannot return their object list are probed object type by
object type; the MANUAL column tells which method found the points.

Examples:
  edgeo-bacnetgw points -d 1234
  edgeo-bacnetgw points -d 1234 -o json`,

	RunE: runPoints,
}

func init() {
	addDeviceFlags(pointsCmd)
}

// pollOnce finds the target device and runs one full read pass on it
func pollOnce(ctx context.Context) (*registry.Device, map[string]*model.Point, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	e, err := openEngine(ctx, singleDevice(cfg, deviceID))
	if err != nil {
		return nil, nil, err
	}
	defer e.Close()

	if _, err := waitForDevice(ctx, e, deviceID, deviceWait); err != nil {
		return nil, nil, err
	}
	values, err := e.ReadNow(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	dev, _ := e.Registry().Get(deviceID)
	return dev, values, nil
}

func runPoints(cmd *cobra.Command, args []string) error {
	dev, values, err := pollOnce(cmd.Context())
	if err != nil {
		return err
	}

	names := make(map[string]string, len(values))
	for key, p := range values {
		names[p.ObjectID.String()] = key
	}

	type row struct {
		Object string `json:"object" yaml:"object"`
		Key    string `json:"key" yaml:"key"`
		Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	}
	var out []row
	rows := make([][]string, 0, len(dev.Points))
	for _, oid := range dev.Points {
		key := names[oid.String()]
		name := ""
		if p, ok := values[key]; ok {
			name = p.DisplayName
		}
		out = append(out, row{Object: oid.String(), Key: key, Name: name})
		rows = append(rows, []string{oid.String(), key, name, strconv.FormatBool(dev.ManualDiscovery)})
	}

	f := NewFormatter(outputFmt)
	if f.format == FormatTable {
		f.Println(fmt.Sprintf("Device %d (%s) at %s", dev.ID, dev.Name(), dev.Address))
		f.Println()
	}
	return f.Render(out, []string{"OBJECT", "KEY", "NAME", "MANUAL"}, rows)
}
