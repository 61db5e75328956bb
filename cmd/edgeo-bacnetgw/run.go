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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/bacnetgw/cache"
	"github.com/edgeo/drivers/bacnetgw/config"
	"github.com/edgeo/drivers/bacnetgw/engine"
	"github.com/edgeo/drivers/bacnetgw/metrics"
	"github.com/edgeo/drivers/bacnetgw/publish"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway until interrupted",
	Long: `Run discovers devices, polls their points and maintains the network tree
until SIGINT or SIGTERM.

Changes to the config file are applied without a restart. Transport
settings reopen the BACnet socket; everything else applies from the next
timer tick.

Examples:
  # Run with the cache and MQTT configured in gateway.yaml
  edgeo-bacnetgw run --config gateway.yaml

  # Expose prometheus metrics
  edgeo-bacnetgw run --metrics-addr :9108`,

	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	opts := []engine.Option{engine.WithLogger(logger)}

	if cfg.Cache.Enabled {
		store, err := cache.Open(cfg.Cache.Driver, cfg.Cache.Path, logger)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		opts = append(opts, engine.WithStore(store))
	}

	var observers engine.Observers
	if cfg.MQTT.Enabled {
		pub, err := publish.Connect(ctx, cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		observers = append(observers, pub)
	}
	if len(observers) > 0 {
		opts = append(opts, engine.WithObserver(observers))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts = append(opts, engine.WithMetrics(metrics.New(reg)))

	e, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}
	reg.MustRegister(metrics.NewClientCollector(e.ClientMetrics))

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", slog.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	watchConfig(e)

	return e.Run(ctx)
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// watchConfig reapplies the config file on every write. An invalid file
// is logged and the running configuration kept.
func watchConfig(e *engine.Engine) {
	if vp.ConfigFileUsed() == "" {
		return
	}
	vp.OnConfigChange(func(ev fsnotify.Event) {
		cfg, err := config.Decode(vp)
		if err != nil {
			logger.Warn("ignoring config change", slog.String("file", ev.Name), slog.String("error", err.Error()))
			return
		}
		if err := e.Reconfigure(cfg); err != nil {
			logger.Warn("reconfigure failed", slog.String("error", err.Error()))
			return
		}
		logger.Info("configuration reloaded", slog.String("file", ev.Name))
	})
	vp.WatchConfig()
}
