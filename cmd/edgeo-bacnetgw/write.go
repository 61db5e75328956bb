package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	writeObjectType string
	writeProperty   string
	writeValue      string
	writePriority   uint8
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a property to a BACnet object",
	Long: `Write sets a property on a BACnet object and reads the point back.

Value types are automatically detected:
  - Numbers: 123, 45.67, -10
  - Booleans: true, false, active, inactive
  - Strings: "text value"
  - Null: null (to release priority)

Examples:
  # Write present value to analog output
  edgeo-bacnetgw write -d 1234 -O analog-output:1 -V 75.5

  # Write with priority
  edgeo-bacnetgw write -d 1234 -O bo:1 -V true --priority 8

  # Release a priority (write null)
  edgeo-bacnetgw write -d 1234 -O ao:1 -V null --priority 8`,

	RunE: runWrite,
}

func init() {
	addDeviceFlags(writeCmd)
	writeCmd.Flags().StringVarP(&writeObjectType, "object", "O", "", "Object type and instance (e.g., analog-output:1)")
	writeCmd.Flags().StringVarP(&writeProperty, "property", "P", "present-value", "Property identifier")
	writeCmd.Flags().StringVarP(&writeValue, "value", "V", "", "Value to write")
	writeCmd.Flags().Uint8Var(&writePriority, "priority", 0, "Write priority (1-16, 0 for no priority)")

	writeCmd.MarkFlagRequired("object")
	writeCmd.MarkFlagRequired("value")
}

func runWrite(cmd *cobra.Command, args []string) error {
	objectID, err := parseObjectIdentifier(writeObjectType)
	if err != nil {
		return fmt.Errorf("invalid object: %w", err)
	}
	propID, err := parsePropertyIdentifier(writeProperty)
	if err != nil {
		return fmt.Errorf("invalid property: %w", err)
	}
	value, err := parseValue(writeValue)
	if err != nil {
		return fmt.Errorf("invalid value: %w", err)
	}
	if writePriority > 16 {
		return fmt.Errorf("priority must be between 1 and 16")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	e, err := openEngine(ctx, singleDevice(cfg, deviceID))
	if err != nil {
		return err
	}
	defer e.Close()

	dev, err := waitForDevice(ctx, e, deviceID, deviceWait)
	if err != nil {
		return err
	}
	if err := e.Write(ctx, deviceID, objectID, propID, value, writePriority); err != nil {
		return fmt.Errorf("write property: %w", err)
	}

	fmt.Printf("Successfully wrote %s to %s.%s\n", formatValue(value), objectID, propID)
	if p, ok := e.Points().Lookup(dev.Key(), objectID); ok {
		fmt.Printf("Present value is now %s %s\n", formatValue(p.PresentValue), p.Units)
	}
	return nil
}
