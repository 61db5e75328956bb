// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/config"
)

var (
	cfgFile   string
	outputFmt string
	logFormat string
	verbose   bool

	vp     = config.NewViper("")
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-bacnetgw",
	Short: "BACnet/IP discovery and polling gateway",
	Long: `edgeo-bacnetgw discovers BACnet/IP devices, polls their points in adaptive
batches and keeps a network tree of routers, networks, devices and points.

Values can be republished to an MQTT broker and the tree cache persists
across restarts.

Examples:
  # Run the gateway with a config file
  edgeo-bacnetgw run --config gateway.yaml

  # List the devices answering a Who-Is
  edgeo-bacnetgw scan

  # Read every point of device 1234 once
  edgeo-bacnetgw read -d 1234

  # Write a setpoint at priority 8
  edgeo-bacnetgw write -d 1234 -O av:1 -V 21.5 --priority 8

  # Print the cached network tree
  edgeo-bacnetgw tree -o yaml`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(verbose, logFormat)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-bacnetgw.yaml)")
	flags.StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, yaml, csv)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.String("local", "", "Local IP address to bind to")
	flags.IntP("port", "p", bacnet.DefaultPort, "BACnet/IP port")
	flags.String("broadcast", "", "Broadcast address for Who-Is")
	flags.DurationP("timeout", "t", 6*time.Second, "APDU timeout")
	flags.Int("retries", 3, "Number of retries")
	flags.String("bbmd", "", "BBMD address for foreign device registration")
	flags.Int("bbmd-port", bacnet.DefaultPort, "BBMD port")
	flags.Duration("bbmd-ttl", 60*time.Second, "BBMD registration TTL")
	flags.Int("precision", 2, "Decimal places kept on analog values")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address (run only)")

	// Flags override the config file keys of the same meaning
	vp.BindPFlag("local_address", flags.Lookup("local"))
	vp.BindPFlag("port", flags.Lookup("port"))
	vp.BindPFlag("broadcast_address", flags.Lookup("broadcast"))
	vp.BindPFlag("apdu_timeout", flags.Lookup("timeout"))
	vp.BindPFlag("retries", flags.Lookup("retries"))
	vp.BindPFlag("bbmd.address", flags.Lookup("bbmd"))
	vp.BindPFlag("bbmd.port", flags.Lookup("bbmd-port"))
	vp.BindPFlag("bbmd.ttl", flags.Lookup("bbmd-ttl"))
	vp.BindPFlag("precision", flags.Lookup("precision"))
	vp.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pointsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		vp.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		vp.AddConfigPath(home)
		vp.SetConfigName(".edgeo-bacnetgw")
		vp.SetConfigType("yaml")
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
			os.Exit(1)
		}
		return
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", vp.ConfigFileUsed())
	}
}

// loadConfig decodes the merged flags, environment and file
func loadConfig() (config.Config, error) {
	return config.Decode(vp)
}

// newLogger returns a colored handler on a terminal and a plain one otherwise
func newLogger(verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var h slog.Handler
	switch {
	case format == "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case isatty.IsTerminal(os.Stderr.Fd()):
		h = tint.NewHandler(os.Stderr, &tint.Options{
			NoColor:    runtime.GOOS == "windows",
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	default:
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("edgeo-bacnetgw version 1.0.0")
	},
}
