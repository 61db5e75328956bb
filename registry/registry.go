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

// Package registry keeps the set of discovered BACnet devices and the
// parent/child links between BACnet/IP routers and their MS/TP stations.
package registry

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// Range is an inclusive device instance range
type Range struct {
	Low  uint32 `mapstructure:"low" json:"low" validate:"lte=4194303"`
	High uint32 `mapstructure:"high" json:"high" validate:"lte=4194303,gtefield=Low"`
}

// Contains reports whether id lies in the range
func (r Range) Contains(id uint32) bool {
	return id >= r.Low && id <= r.High
}

// Change tells what an I-Am did to the registry
type Change int

const (
	Filtered Change = iota
	Created
	Updated
)

type options struct {
	ranges []Range
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry
type Option func(*options)

// WithRanges drops I-Am events outside every range. No ranges accept all.
func WithRanges(ranges ...Range) Option {
	return func(o *options) {
		o.ranges = ranges
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Registry is the set of known devices, keyed by device instance.
// It is safe for concurrent use. Devices handed out are copies.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]*Device
	ranges  []Range
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	o := &options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{
		devices: make(map[uint32]*Device),
		ranges:  o.ranges,
		now:     o.now,
		logger:  o.logger,
	}
}

// SetRanges replaces the device ID filters
func (r *Registry) SetRanges(ranges []Range) {
	r.mu.Lock()
	r.ranges = slices.Clone(ranges)
	r.mu.Unlock()
}

// Accepts reports whether the device ID passes the range filters
func (r *Registry) Accepts(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accepts(id)
}

func (r *Registry) accepts(id uint32) bool {
	if len(r.ranges) == 0 {
		return true
	}
	for _, rg := range r.ranges {
		if rg.Contains(id) {
			return true
		}
	}
	return false
}

// Upsert merges an I-Am into the registry and returns a copy of the
// resulting device. An I-Am outside the configured ranges is dropped.
func (r *Registry) Upsert(info bacnet.DeviceInfo) (*Device, Change) {
	id := info.ObjectID.Instance

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.accepts(id) {
		return nil, Filtered
	}

	addr := FromBACnet(info.Address)
	dev, exists := r.devices[id]
	if !exists {
		dev = &Device{
			ID:             id,
			InitialQuery:   true,
			NeedsDiscovery: true,
		}
		r.devices[id] = dev
	}

	moved := exists && !dev.Address.BACnet.Equal(addr.BACnet)
	if moved {
		r.logger.Info("device address changed",
			slog.Uint64("device_id", uint64(id)),
			slog.String("from", dev.Address.String()),
			slog.String("to", addr.String()),
		)
		r.unlink(dev)
	}

	dev.Address = addr
	dev.IsMSTP = addr.Kind == KindMSTP
	dev.MaxAPDU = info.MaxAPDULength
	dev.Segmentation = info.Segmentation
	dev.VendorID = info.VendorID
	dev.LastSeen = r.now()

	if !exists || moved {
		r.link(dev)
	}

	if !exists {
		r.logger.Debug("device registered",
			slog.Uint64("device_id", uint64(id)),
			slog.String("address", addr.String()),
			slog.String("kind", addr.Kind.String()),
		)
		return dev.Clone(), Created
	}
	return dev.Clone(), Updated
}

// link attaches an MS/TP station to the IP device on its router address,
// or, for an IP device, adopts the orphaned stations behind it.
func (r *Registry) link(dev *Device) {
	if dev.IsMSTP {
		if parent := r.routerFor(dev); parent != nil {
			r.attach(parent, dev)
		}
		return
	}

	for _, child := range r.devices {
		if child.IsMSTP && child.ParentID == nil && sameRouter(dev, child) {
			r.attach(dev, child)
		}
	}
}

func (r *Registry) routerFor(child *Device) *Device {
	for _, d := range r.devices {
		if !d.IsMSTP && sameRouter(d, child) {
			return d
		}
	}
	return nil
}

func sameRouter(parent, child *Device) bool {
	p, c := parent.Address.BACnet, child.Address.BACnet
	return p.IP.Equal(c.IP) && p.UDPAddr().Port == c.UDPAddr().Port
}

func (r *Registry) attach(parent, child *Device) {
	id := parent.ID
	child.ParentID = &id
	if !slices.Contains(parent.ChildIDs, child.ID) {
		parent.ChildIDs = append(parent.ChildIDs, child.ID)
		slices.Sort(parent.ChildIDs)
	}
}

// unlink detaches dev from its parent and orphans its children
func (r *Registry) unlink(dev *Device) {
	if dev.ParentID != nil {
		if parent, ok := r.devices[*dev.ParentID]; ok {
			parent.ChildIDs = slices.DeleteFunc(parent.ChildIDs, func(id uint32) bool { return id == dev.ID })
		}
		dev.ParentID = nil
	}
	for _, childID := range dev.ChildIDs {
		if child, ok := r.devices[childID]; ok {
			child.ParentID = nil
		}
	}
	dev.ChildIDs = nil
}

// Get returns a copy of the device
func (r *Registry) Get(id uint32) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	return dev.Clone(), true
}

// Devices returns copies of all devices ordered by ID
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Update applies fn to the stored device under the registry lock.
// fn must not retain the pointer.
func (r *Registry) Update(id uint32, fn func(*Device)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return false
	}
	fn(dev)
	return true
}

// MarkAllForDiscovery flags every device for point rediscovery
func (r *Registry) MarkAllForDiscovery() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		dev.NeedsDiscovery = true
	}
}

// Purge removes a device and its links
func (r *Registry) Purge(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.devices[id]
	if !ok {
		return false
	}
	r.unlink(dev)
	delete(r.devices, id)
	return true
}

// Restore loads devices from a persisted cache. Devices already present
// win over restored ones. Links are rebuilt from addresses.
func (r *Registry) Restore(devices []*Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, d := range devices {
		if d == nil || !r.accepts(d.ID) {
			continue
		}
		if _, exists := r.devices[d.ID]; exists {
			continue
		}
		dev := d.Clone()
		dev.ParentID = nil
		dev.ChildIDs = nil
		dev.IsMSTP = dev.Address.Kind == KindMSTP
		r.devices[dev.ID] = dev
		restored++
	}

	for _, dev := range r.devices {
		if dev.IsMSTP && dev.ParentID == nil {
			if parent := r.routerFor(dev); parent != nil {
				r.attach(parent, dev)
			}
		}
	}
	return restored
}
