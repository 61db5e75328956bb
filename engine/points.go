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

// maxObjectListLength bounds the indexed OBJECT_LIST walk
const maxObjectListLength = 65535

// read issues one ReadProperty. Requests are serialised engine wide.
func (e *Engine) read(ctx context.Context, t Transport, dev *registry.Device, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, opts ...bacnet.ReadOption) (interface{}, error) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	return t.ReadProperty(ctx, dev.Address.BACnet, oid, prop, opts...)
}

func deviceObject(dev *registry.Device) bacnet.ObjectIdentifier {
	return bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, dev.ID)
}

// initialQuery reads the device name the first time a device is polled
func (e *Engine) initialQuery(ctx context.Context, t Transport, dev *registry.Device) {
	v, err := e.read(ctx, t, dev, deviceObject(dev), bacnet.PropertyObjectName)
	if err != nil {
		e.reportError(dev, fmt.Errorf("initial query: %w", err))
		if bacnet.IsTimeout(err) {
			// offline, try again next pass
			return
		}
	}
	name, _ := v.(string)

	e.registry.Update(dev.ID, func(d *registry.Device) {
		if name != "" {
			d.DisplayName = name
		}
		d.InitialQuery = false
	})
	if name != "" {
		dev.DisplayName = name
	}
	dev.InitialQuery = false
}

// discoverPoints finds the objects of a device, from its OBJECT_LIST when
// it can be walked, otherwise by probing. A walk cut short by a timeout
// keeps the known points and leaves the device flagged for discovery.
// It returns the updated device.
func (e *Engine) discoverPoints(ctx context.Context, t Transport, dev *registry.Device) *registry.Device {
	var (
		objects []bacnet.ObjectIdentifier
		err     error
	)
	manual := dev.ManualDiscovery
	if !manual && dev.Segmentation != bacnet.SegmentationNone {
		objects, err = e.readObjectList(ctx, t, dev)
		if err != nil {
			e.reportError(dev, fmt.Errorf("object list: %w", err))
		}
	}

	complete := true
	switch {
	case unreachable(ctx, err):
		complete = false
	case err != nil || len(objects) == 0:
		objects, complete = e.probeObjects(ctx, t, dev)
		if complete {
			manual = true
		}
	}
	if !complete && len(dev.Points) > 0 {
		objects = dev.Points
	}

	e.registry.Update(dev.ID, func(d *registry.Device) {
		d.Points = objects
		d.ManualDiscovery = manual
		d.NeedsDiscovery = !complete
	})
	if complete {
		if n := e.points.Prune(dev.Key(), objects); n > 0 {
			e.logger.Debug("stale points removed",
				slog.Uint64("device_id", uint64(dev.ID)),
				slog.Int("count", n),
			)
		}
	}

	e.logger.Info("points discovered",
		slog.Uint64("device_id", uint64(dev.ID)),
		slog.Int("objects", len(objects)),
		slog.Bool("manual", manual),
		slog.Bool("complete", complete),
	)

	dev.Points = objects
	dev.ManualDiscovery = manual
	dev.NeedsDiscovery = !complete
	return dev
}

// unreachable reports whether err means the device did not answer, as
// opposed to answering with an error
func unreachable(ctx context.Context, err error) bool {
	return err != nil && (bacnet.IsTimeout(err) || ctx.Err() != nil)
}

// readObjectList reads OBJECT_LIST one element at a time from index 1
// until the device reports the end of the array. Any other error is
// returned with the elements read so far.
func (e *Engine) readObjectList(ctx context.Context, t Transport, dev *registry.Device) ([]bacnet.ObjectIdentifier, error) {
	var objects []bacnet.ObjectIdentifier
	for i := uint32(1); i <= maxObjectListLength; i++ {
		if err := ctx.Err(); err != nil {
			return objects, err
		}
		v, err := e.read(ctx, t, dev, deviceObject(dev), bacnet.PropertyObjectList, bacnet.WithArrayIndex(i))
		if bacnet.IsEndOfArray(err) {
			return objects, nil
		}
		if err != nil {
			return objects, fmt.Errorf("element %d: %w", i, err)
		}
		oid, ok := v.(bacnet.ObjectIdentifier)
		if !ok {
			return objects, fmt.Errorf("object list element %d is %T", i, v)
		}
		objects = append(objects, oid)
	}
	return objects, nil
}

// probeObjects reads OBJECT_NAME of every configured type and instance.
// Only an unknown-object answer is a miss: any other error still proves the
// object exists. A type is abandoned after MissLimit consecutive misses.
// It reports false when a timeout or ctx ended the walk early.
func (e *Engine) probeObjects(ctx context.Context, t Transport, dev *registry.Device) ([]bacnet.ObjectIdentifier, bool) {
	e.mu.RLock()
	types := e.probeTypes
	probe := e.cfg.Probe
	e.mu.RUnlock()

	objects := []bacnet.ObjectIdentifier{deviceObject(dev)}
	for _, typ := range types {
		misses := 0
		for inst := uint32(0); inst <= probe.MaxInstance && misses < probe.MissLimit; inst++ {
			if ctx.Err() != nil {
				return objects, false
			}
			oid := bacnet.NewObjectIdentifier(typ, inst)
			_, err := e.read(ctx, t, dev, oid, bacnet.PropertyObjectName)
			switch {
			case unreachable(ctx, err):
				e.reportError(dev, fmt.Errorf("probe %s: %w", oid, err))
				return objects, false
			case bacnet.IsObjectNotFound(err):
				misses++
				continue
			}
			misses = 0
			objects = append(objects, oid)
		}
	}
	return objects, true
}
