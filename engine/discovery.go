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

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// Discover broadcasts a Who-Is. Answers arrive asynchronously as I-Am
// events and land in the registry.
func (e *Engine) Discover(ctx context.Context) error {
	t := e.client()
	if t == nil {
		return ErrNotRunning
	}

	var opts []bacnet.DiscoverOption
	if ranges := e.Config().DeviceRanges; len(ranges) == 1 {
		opts = append(opts, bacnet.WithDeviceRange(ranges[0].Low, ranges[0].High))
	}

	if err := t.WhoIs(ctx, opts...); err != nil {
		err = fmt.Errorf("who-is: %w", err)
		e.reportError(nil, err)
		return err
	}
	e.logger.Debug("who-is sent", slog.Int("known_devices", e.registry.Len()))
	return nil
}

// DiscoverAll flags every known device for point rediscovery on its next
// poll and broadcasts a Who-Is
func (e *Engine) DiscoverAll(ctx context.Context) error {
	e.registry.MarkAllForDiscovery()
	return e.Discover(ctx)
}

// Purge forgets a device and its points
func (e *Engine) Purge(id uint32) error {
	dev, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	e.registry.Purge(id)
	e.points.RemoveDevice(dev.Key())
	e.opts.metrics.SetDevices(e.registry.Len())

	e.logger.Info("device purged", slog.Uint64("device_id", uint64(id)))
	return nil
}

func (e *Engine) handleIAm(info bacnet.DeviceInfo) {
	if info.ObjectID.Type != bacnet.ObjectTypeDevice {
		return
	}

	prev, known := e.registry.Get(info.ObjectID.Instance)
	dev, change := e.registry.Upsert(info)
	if change == registry.Filtered {
		e.logger.Debug("i-am outside device ranges",
			slog.Uint64("device_id", uint64(info.ObjectID.Instance)),
		)
		return
	}
	if known && prev.Key() != dev.Key() {
		e.points.RenameDevice(prev.Key(), dev.Key())
	}

	e.opts.metrics.DeviceFound(e.registry.Len())
	e.opts.observer.DeviceFound(dev)
}

func (e *Engine) handleWhoIs(req bacnet.WhoIsRequest) {
	e.logger.Debug("who-is received", slog.String("from", req.Source.String()))
}
