package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnetgw/cache"
	"github.com/edgeo/drivers/bacnetgw/registry"
	"github.com/edgeo/drivers/bacnetgw/tree"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the network tree from the cache",
	Long: `Tree loads the persisted cache of a gateway and prints its network tree:
routers, remote networks, devices and their points.

The cache is read from the store configured under cache.driver and
cache.path; it does not need to be enabled.

Examples:
  edgeo-bacnetgw tree --config gateway.yaml
  edgeo-bacnetgw tree -o yaml`,

	RunE: runTree,
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.Cache.Driver, cfg.Cache.Path, logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	blob, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	if blob.Empty() {
		return fmt.Errorf("cache %s is empty", cfg.Cache.Path)
	}

	reg := registry.New()
	reg.Restore(blob.DeviceList)

	list, err := tree.NewBuilder().Build(reg.Devices(), blob.PointList)
	if err != nil {
		return err
	}

	f := NewFormatter(outputFmt)
	switch f.format {
	case FormatJSON:
		return f.PrintJSON(list)
	case FormatYAML:
		return f.PrintYAML(list)
	}
	printTree(f, list)
	return nil
}

func printTree(f *Formatter, list *tree.RenderList) {
	list.Walk(func(n *tree.Node, depth int) {
		line := strings.Repeat("  ", depth) + n.Name
		switch {
		case n.Kind == tree.KindPoint && n.Point != nil:
			line += " = " + formatValue(n.Point.PresentValue)
			if n.Point.Units != "" {
				line += " " + n.Point.Units
			}
		case n.Placeholder:
			line += " (" + string(n.Kind) + ", not seen)"
		case n.Kind != tree.KindFolder:
			line += " (" + string(n.Kind) + ")"
		}
		f.Println(line)
	})
}
