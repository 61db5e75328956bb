package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnetgw/model"
)

var readObject string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the points of one device",
	Long: `Read runs one poll pass on a device and prints the decoded values.

Analog values are rounded to --precision decimals, multistate values are
mapped to their state text and binary values to true or false.

Examples:
  # Read every point
  edgeo-bacnetgw read -d 1234

  # Read and print a single object
  edgeo-bacnetgw read -d 1234 -O ai:1 -o json`,

	RunE: runRead,
}

func init() {
	addDeviceFlags(readCmd)
	readCmd.Flags().StringVarP(&readObject, "object", "O", "", "Only print this object (e.g., analog-input:1)")
}

func runRead(cmd *cobra.Command, args []string) error {
	var only string
	if readObject != "" {
		oid, err := parseObjectIdentifier(readObject)
		if err != nil {
			return fmt.Errorf("invalid object: %w", err)
		}
		only = oid.String()
	}

	_, values, err := pollOnce(cmd.Context())
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k, p := range values {
		if only != "" && p.ObjectID.String() != only {
			continue
		}
		keys = append(keys, k)
	}
	if only != "" && len(keys) == 0 {
		return fmt.Errorf("object %s not found on device %d", only, deviceID)
	}
	sort.Strings(keys)

	selected := make(map[string]*model.Point, len(keys))
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		p := values[k]
		selected[k] = p
		rows = append(rows, []string{k, p.ObjectID.String(), formatValue(p.PresentValue), p.Units, p.Error})
	}

	return NewFormatter(outputFmt).Render(selected, []string{"KEY", "OBJECT", "VALUE", "UNITS", "ERROR"}, rows)
}
