package main

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeo/drivers/bacnetgw/config"
	"github.com/edgeo/drivers/bacnetgw/engine"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// devicePollInterval is how often the registry is checked while waiting
// for an I-Am
const devicePollInterval = 100 * time.Millisecond

// openEngine connects an engine built from cfg. One-shot commands run
// without a cache store so they never overwrite the gateway's cache.
func openEngine(ctx context.Context, cfg config.Config) (*engine.Engine, error) {
	e, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := e.Open(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return e, nil
}

// singleDevice narrows the accepted range of cfg to one instance
func singleDevice(cfg config.Config, id uint32) config.Config {
	cfg.DeviceRanges = []registry.Range{{Low: id, High: id}}
	return cfg
}

// waitForDevice sends a Who-Is and waits until id answers or wait elapses
func waitForDevice(ctx context.Context, e *engine.Engine, id uint32, wait time.Duration) (*registry.Device, error) {
	if err := e.Discover(ctx); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(devicePollInterval)
	defer ticker.Stop()

	for {
		if dev, ok := e.Registry().Get(id); ok {
			return dev, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("device %d did not answer within %s", id, wait)
		case <-ticker.C:
		}
	}
}
