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

package model

import (
	"sync"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// Snapshot is the cache content: deviceKey -> objectKey -> point
type Snapshot map[string]map[string]*Point

// PointCache stores the decoded points of every device. Points are keyed
// by object key and indexed by object identifier so a point whose name
// arrives later is re-keyed instead of duplicated.
type PointCache struct {
	mu      sync.RWMutex
	devices map[string]*devicePoints
}

type devicePoints struct {
	byKey map[string]*Point
	byOID map[bacnet.ObjectIdentifier]string
}

func newDevicePoints() *devicePoints {
	return &devicePoints{
		byKey: make(map[string]*Point),
		byOID: make(map[bacnet.ObjectIdentifier]string),
	}
}

func (d *devicePoints) put(p *Point) {
	key := p.Key()
	if old, ok := d.byOID[p.ObjectID]; ok && old != key {
		delete(d.byKey, old)
	}
	d.byKey[key] = p
	d.byOID[p.ObjectID] = key
}

// NewPointCache creates an empty cache
func NewPointCache() *PointCache {
	return &PointCache{devices: make(map[string]*devicePoints)}
}

// Has reports whether the device already has a point for oid
func (c *PointCache) Has(deviceKey string, oid bacnet.ObjectIdentifier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceKey]
	if !ok {
		return false
	}
	_, ok = d.byOID[oid]
	return ok
}

// Lookup returns a copy of the point for oid
func (c *PointCache) Lookup(deviceKey string, oid bacnet.ObjectIdentifier) (*Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceKey]
	if !ok {
		return nil, false
	}
	key, ok := d.byOID[oid]
	if !ok {
		return nil, false
	}
	return d.byKey[key].Clone(), true
}

// Merge applies fn to the point for oid, creating it first if needed, and
// returns a copy of the result.
func (c *PointCache) Merge(deviceKey string, oid bacnet.ObjectIdentifier, fn func(*Point)) *Point {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[deviceKey]
	if !ok {
		d = newDevicePoints()
		c.devices[deviceKey] = d
	}

	var p *Point
	if key, ok := d.byOID[oid]; ok {
		p = d.byKey[key]
	} else {
		p = NewPoint(oid)
	}
	fn(p)
	d.put(p)
	return p.Clone()
}

// Device returns copies of the points of one device, keyed by object key
func (c *PointCache) Device(deviceKey string) map[string]*Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceKey]
	if !ok {
		return nil
	}
	out := make(map[string]*Point, len(d.byKey))
	for k, p := range d.byKey {
		out[k] = p.Clone()
	}
	return out
}

// Snapshot returns a deep copy of the whole cache
func (c *PointCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(Snapshot, len(c.devices))
	for dk, d := range c.devices {
		points := make(map[string]*Point, len(d.byKey))
		for k, p := range d.byKey {
			points[k] = p.Clone()
		}
		out[dk] = points
	}
	return out
}

// Restore merges a persisted snapshot. Points already cached are kept.
func (c *PointCache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for dk, points := range s {
		d, ok := c.devices[dk]
		if !ok {
			d = newDevicePoints()
			c.devices[dk] = d
		}
		for _, p := range points {
			if p == nil {
				continue
			}
			if _, exists := d.byOID[p.ObjectID]; exists {
				continue
			}
			d.put(p.Clone())
		}
	}
}

// RemoveDevice drops every point of a device
func (c *PointCache) RemoveDevice(deviceKey string) {
	c.mu.Lock()
	delete(c.devices, deviceKey)
	c.mu.Unlock()
}

// RenameDevice moves the points of a device to a new key, used when a
// device answers from a new address.
func (c *PointCache) RenameDevice(from, to string) {
	if from == to {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.devices[from]; ok {
		c.devices[to] = d
		delete(c.devices, from)
	}
}

// Prune removes points of the device whose object is not in keep
func (c *PointCache) Prune(deviceKey string, keep []bacnet.ObjectIdentifier) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[deviceKey]
	if !ok {
		return 0
	}
	wanted := make(map[bacnet.ObjectIdentifier]struct{}, len(keep))
	for _, oid := range keep {
		wanted[oid] = struct{}{}
	}
	removed := 0
	for oid, key := range d.byOID {
		if _, ok := wanted[oid]; !ok {
			delete(d.byOID, oid)
			delete(d.byKey, key)
			removed++
		}
	}
	return removed
}
