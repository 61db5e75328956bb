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
	"time"

	"github.com/google/uuid"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/metrics"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// Poll reads every known device once, one device at a time. A call made
// while a previous pass is still running returns immediately.
func (e *Engine) Poll(ctx context.Context) {
	if !e.polling.CompareAndSwap(false, true) {
		e.logger.Debug("poll skipped, previous pass still running")
		return
	}
	defer e.polling.Store(false)

	start := time.Now()
	pollID := uuid.NewString()
	logger := e.logger.With(slog.String("poll_id", pollID))

	devices := e.registry.Devices()
	for _, dev := range devices {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.pollDevice(ctx, dev.ID, pollID); err != nil {
			logger.Debug("device skipped",
				slog.Uint64("device_id", uint64(dev.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	elapsed := time.Since(start)
	e.opts.metrics.PollDone(elapsed)
	logger.Debug("poll done",
		slog.Int("devices", len(devices)),
		slog.Duration("elapsed", elapsed),
	)
}

// ReadNow polls one device immediately and returns its points keyed by
// object key. The read is a pass of its own with a fresh poll id.
func (e *Engine) ReadNow(ctx context.Context, id uint32) (map[string]*model.Point, error) {
	return e.pollDevice(ctx, id, uuid.NewString())
}

// pollDevice runs the read pipeline of one device. Every point it updates
// is stamped with pollID.
func (e *Engine) pollDevice(ctx context.Context, id uint32, pollID string) (values map[string]*model.Point, err error) {
	t := e.client()
	if t == nil {
		return nil, ErrNotRunning
	}
	dev, ok := e.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: panic while polling: %v", r)
			e.reportError(dev, err)
		}
	}()

	if dev.InitialQuery {
		e.initialQuery(ctx, t, dev)
	}
	if dev.NeedsDiscovery {
		dev = e.discoverPoints(ctx, t, dev)
	}
	if dev.Services == nil {
		e.resolveServices(ctx, t, dev)
	}
	e.readPoints(ctx, t, dev, pollID)

	values = e.points.Device(dev.Key())
	e.opts.observer.DeviceValues(dev, values)
	return values, nil
}

// resolveServices reads PROTOCOL_SERVICES_SUPPORTED. On failure Services
// stays nil so the next pass tries again.
func (e *Engine) resolveServices(ctx context.Context, t Transport, dev *registry.Device) {
	v, err := e.read(ctx, t, dev, deviceObject(dev), bacnet.PropertyProtocolServicesSupported)
	if err == nil {
		dev.Services, err = bacnet.NewServicesSupported(v)
	}
	if err != nil {
		e.reportError(dev, fmt.Errorf("services supported: %w", err))
		return
	}

	services := dev.Services
	e.registry.Update(dev.ID, func(d *registry.Device) {
		d.Services = services
	})
	e.logger.Debug("services resolved",
		slog.Uint64("device_id", uint64(dev.ID)),
		slog.Bool("rpm", services.SupportsReadPropertyMultiple()),
	)
}

func (e *Engine) readPoints(ctx context.Context, t Transport, dev *registry.Device, pollID string) {
	if len(dev.Points) == 0 {
		return
	}
	dec := e.currentDecoder()

	if !dev.Services.SupportsReadPropertyMultiple() {
		e.readSingles(ctx, t, dev, dec, dev.Points, pollID)
		return
	}

	for _, batch := range Batches(dev.Points, e.opts.batchPolicy(dev.MaxAPDU)) {
		if ctx.Err() != nil {
			return
		}
		if err := e.readBatch(ctx, t, dev, dec, batch, pollID); err != nil {
			e.reportError(dev, fmt.Errorf("read property multiple: %w", err))
			e.readSingles(ctx, t, dev, dec, batch, pollID)
		}
	}
}

// readBatch reads a group of objects with one ReadPropertyMultiple
func (e *Engine) readBatch(ctx context.Context, t Transport, dev *registry.Device, dec model.Decoder, batch []bacnet.ObjectIdentifier, pollID string) error {
	key := dev.Key()
	specs := make([]bacnet.ReadAccessSpec, len(batch))
	for i, oid := range batch {
		specs[i] = bacnet.ReadAccessSpec{ObjectID: oid, Properties: e.propertiesFor(key, oid)}
	}

	e.reqMu.Lock()
	results, err := t.ReadPropertyMultiple(ctx, dev.Address.BACnet, specs)
	e.reqMu.Unlock()

	e.opts.metrics.Read(metrics.ModeMultiple, err)
	if err != nil {
		return err
	}

	byObject := make(map[bacnet.ObjectIdentifier][]bacnet.PropertyValue, len(batch))
	for _, r := range results {
		byObject[r.ObjectID] = append(byObject[r.ObjectID], r)
	}
	for _, oid := range batch {
		e.merge(key, oid, dec, byObject[oid], pollID)
	}
	return nil
}

// readSingles reads each object property by property
func (e *Engine) readSingles(ctx context.Context, t Transport, dev *registry.Device, dec model.Decoder, objects []bacnet.ObjectIdentifier, pollID string) {
	key := dev.Key()
	for _, oid := range objects {
		if ctx.Err() != nil {
			return
		}
		props := e.propertiesFor(key, oid)
		results := make([]bacnet.PropertyValue, 0, len(props))
		for i, prop := range props {
			v, err := e.read(ctx, t, dev, oid, prop)
			e.opts.metrics.Read(metrics.ModeSingle, err)
			results = append(results, bacnet.PropertyValue{ObjectID: oid, PropertyID: prop, Value: v, Err: err})

			if err != nil && i < pollPropertyCount(oid.Type) {
				e.reportError(dev, fmt.Errorf("read %s %s: %w", oid, prop, err))
			}
			if bacnet.IsTimeout(err) {
				break
			}
		}
		e.merge(key, oid, dec, results, pollID)
	}
}

// merge applies the results of one object to the point cache. An object
// that never answered does not create a point. An empty pollID keeps the
// point's current one.
func (e *Engine) merge(key string, oid bacnet.ObjectIdentifier, dec model.Decoder, results []bacnet.PropertyValue, pollID string) {
	answered := false
	for _, r := range results {
		if r.Err == nil {
			answered = true
			break
		}
	}
	if !answered && !e.points.Has(key, oid) {
		return
	}

	now := e.opts.now()
	e.points.Merge(key, oid, func(p *model.Point) {
		dec.ApplyResults(p, results)
		p.UpdatedAt = now
		if pollID != "" {
			p.PollID = pollID
		}
	})
}

// propertiesFor returns what to read for an object: its polled properties,
// plus its metadata while the object is not cached yet
func (e *Engine) propertiesFor(key string, oid bacnet.ObjectIdentifier) []bacnet.PropertyIdentifier {
	props := model.PolledProperties(oid.Type)
	if e.points.Has(key, oid) {
		return props
	}
	return append(props, metadataProperties(oid.Type)...)
}

func pollPropertyCount(t bacnet.ObjectType) int {
	return len(model.PolledProperties(t))
}

func metadataProperties(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	props := []bacnet.PropertyIdentifier{bacnet.PropertyObjectName, bacnet.PropertyDescription}
	switch {
	case t == bacnet.ObjectTypeDevice:
		props = append(props, bacnet.PropertyVendorName)
	case hasUnits(t):
		props = append(props, bacnet.PropertyUnits)
	case t.IsMultiState():
		props = append(props, bacnet.PropertyStateText)
	}
	if t.IsCommandable() {
		props = append(props, bacnet.PropertyPriorityArray)
	}
	return append(props, bacnet.PropertyPropertyList)
}

func hasUnits(t bacnet.ObjectType) bool {
	switch t {
	case bacnet.ObjectTypeAnalogInput, bacnet.ObjectTypeAnalogOutput, bacnet.ObjectTypeAnalogValue,
		bacnet.ObjectTypeLargeAnalogValue, bacnet.ObjectTypeIntegerValue,
		bacnet.ObjectTypePositiveIntegerValue, bacnet.ObjectTypeAccumulator,
		bacnet.ObjectTypePulseConverter, bacnet.ObjectTypeAveraging:
		return true
	}
	return false
}

// Write writes a property of a device object, then reads the present
// value back into the point cache. A priority of 0 writes without one.
func (e *Engine) Write(ctx context.Context, id uint32, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, value interface{}, priority uint8) error {
	t := e.client()
	if t == nil {
		return ErrNotRunning
	}
	dev, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}

	var opts []bacnet.WriteOption
	if priority > 0 {
		opts = append(opts, bacnet.WithPriority(priority))
	}

	e.reqMu.Lock()
	err := t.WriteProperty(ctx, dev.Address.BACnet, oid, prop, value, opts...)
	e.reqMu.Unlock()
	if err != nil {
		err = fmt.Errorf("write %s %s: %w", oid, prop, err)
		e.reportError(dev, err)
		return err
	}

	e.logger.Info("property written",
		slog.Uint64("device_id", uint64(id)),
		slog.String("object", oid.String()),
		slog.String("property", prop.String()),
		slog.Any("value", value),
	)

	v, err := e.read(ctx, t, dev, oid, bacnet.PropertyPresentValue)
	e.merge(dev.Key(), oid, e.currentDecoder(), []bacnet.PropertyValue{
		{ObjectID: oid, PropertyID: bacnet.PropertyPresentValue, Value: v, Err: err},
	}, "")
	return nil
}

// Devices returns copies of the known devices, sorted by id
func (e *Engine) Devices() []*registry.Device {
	return e.registry.Devices()
}
