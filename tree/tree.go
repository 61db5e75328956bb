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

// Package tree projects the flat device and point model into the
// hierarchical view shown to operators: router devices at the root, their
// MS/TP stations in per-network folders, and a Points folder per device.
package tree

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

// ErrInterrupted is returned by Build when Interrupt was called during the pass
var ErrInterrupted = errors.New("tree: build interrupted")

// PointsFolder is the name of the folder holding a device's points
const PointsFolder = "Points"

// NodeKind tells what a node stands for
type NodeKind string

const (
	KindDevice  NodeKind = "device"
	KindRouter  NodeKind = "router"
	KindNetwork NodeKind = "network"
	KindFolder  NodeKind = "folder"
	KindPoint   NodeKind = "point"
)

// Node is one entry of the render list
type Node struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Kind        NodeKind     `json:"kind" yaml:"kind"`
	DeviceID    *uint32      `json:"deviceId,omitempty" yaml:"deviceId,omitempty"`
	Address     string       `json:"address,omitempty" yaml:"address,omitempty"`
	Placeholder bool         `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Point       *model.Point `json:"point,omitempty" yaml:"-"`
	Value       interface{}  `json:"-" yaml:"value,omitempty"`
	Children    []*Node      `json:"children,omitempty" yaml:"children,omitempty"`
}

// RenderList is the derived hierarchical view
type RenderList struct {
	Roots []*Node `json:"roots" yaml:"roots"`
}

// Walk calls fn for every node depth first, parents before children
func (l *RenderList) Walk(fn func(n *Node, depth int)) {
	var walk func(nodes []*Node, depth int)
	walk = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(l.Roots, 0)
}

// Find returns the node with the given ID
func (l *RenderList) Find(id string) *Node {
	var found *Node
	l.Walk(func(n *Node, _ int) {
		if found == nil && n.ID == id {
			found = n
		}
	})
	return found
}

func (n *Node) clone() *Node {
	c := *n
	if n.DeviceID != nil {
		id := *n.DeviceID
		c.DeviceID = &id
	}
	if n.Point != nil {
		c.Point = n.Point.Clone()
	}
	c.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		c.Children[i] = child.clone()
	}
	if len(c.Children) == 0 {
		c.Children = nil
	}
	return &c
}

func (n *Node) child(id string) *Node {
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (n *Node) ensureChild(id string, init func() *Node) *Node {
	if c := n.child(id); c != nil {
		return c
	}
	c := init()
	c.ID = id
	n.Children = append(n.Children, c)
	return c
}

// Builder keeps the render list between passes so that nodes are updated
// in place. It is safe for concurrent use.
type Builder struct {
	mu          sync.Mutex
	list        RenderList
	interrupted atomic.Bool

	// testHookDevice runs before each device of a pass
	testHookDevice func(*registry.Device)
}

// NewBuilder returns a builder with an empty render list
func NewBuilder() *Builder {
	return &Builder{}
}

// Interrupt aborts the pass in progress, if any. The next pass starts
// from scratch. It has no effect on passes that start after it.
func (b *Builder) Interrupt() {
	b.interrupted.Store(true)
}

// Current returns a copy of the last complete render list
func (b *Builder) Current() *RenderList {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list.clone()
}

func (l *RenderList) clone() *RenderList {
	c := &RenderList{Roots: make([]*Node, len(l.Roots))}
	for i, n := range l.Roots {
		c.Roots[i] = n.clone()
	}
	return c
}

// Build derives the render list from the devices and the point cache and
// returns a copy of it. The previous list is reused: nodes keep their
// identity and position, MS/TP folders are kept, and a placeholder router
// is turned into the real device once it is known.
func (b *Builder) Build(devices []*registry.Device, points model.Snapshot) (*RenderList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupted.Store(false)

	work := b.list.clone()
	p := &pass{
		list:    work,
		points:  points,
		byID:    make(map[uint32]*registry.Device, len(devices)),
		visited: make(map[*Node]bool),
	}
	for _, d := range devices {
		p.byID[d.ID] = d
	}

	ordered := slices.Clone(devices)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].IsMSTP != ordered[j].IsMSTP {
			return !ordered[i].IsMSTP
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, dev := range ordered {
		if b.testHookDevice != nil {
			b.testHookDevice(dev)
		}
		if b.interrupted.Load() {
			return nil, ErrInterrupted
		}
		if dev.IsMSTP {
			p.addStation(dev)
		} else {
			p.addRouter(dev)
		}
	}

	p.prune()
	b.list = *work
	return work.clone(), nil
}

type pass struct {
	list    *RenderList
	points  model.Snapshot
	byID    map[uint32]*registry.Device
	visited map[*Node]bool
}

// routerKey identifies a transport endpoint; stations carry their
// router's endpoint in their address
func routerKey(a registry.Address) string {
	return net.JoinHostPort(a.IP(), strconv.Itoa(a.BACnet.UDPAddr().Port))
}

func placeholderID(key string) string {
	return "router:" + key
}

// networkID is derived from the router endpoint, not the parent node, so a
// folder survives its placeholder turning into the real router
func networkID(a registry.Address, network uint16) string {
	return fmt.Sprintf("net:%s/%d", routerKey(a), network)
}

func (p *pass) root(id string) *Node {
	for _, n := range p.list.Roots {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (p *pass) addRouter(dev *registry.Device) *Node {
	key := dev.Key()
	n := p.root(key)
	if n == nil {
		if ph := p.root(placeholderID(routerKey(dev.Address))); ph != nil {
			// the placeholder becomes the device, children stay where they are
			n = ph
			n.ID = key
			n.Placeholder = false
		}
	}
	if n == nil {
		n = &Node{ID: key}
		p.list.Roots = append(p.list.Roots, n)
	}
	p.fillDevice(n, dev)
	return n
}

func (p *pass) addStation(dev *registry.Device) {
	var parent *Node
	if dev.ParentID != nil {
		if pd, ok := p.byID[*dev.ParentID]; ok {
			parent = p.root(pd.Key())
		}
	}
	if parent == nil {
		rk := routerKey(dev.Address)
		id := placeholderID(rk)
		parent = p.root(id)
		if parent == nil {
			parent = &Node{
				ID:          id,
				Name:        "Router " + dev.Address.IP(),
				Kind:        KindRouter,
				Address:     rk,
				Placeholder: true,
			}
			p.list.Roots = append(p.list.Roots, parent)
		}
	}
	p.visited[parent] = true

	network := dev.Address.Network()
	folder := parent.ensureChild(networkID(dev.Address, network), func() *Node {
		return &Node{Kind: KindNetwork}
	})
	folder.Name = fmt.Sprintf("MSTP NET%d", network)
	p.visited[folder] = true

	n := folder.ensureChild(dev.Key(), func() *Node { return &Node{} })
	p.fillDevice(n, dev)
}

func (p *pass) fillDevice(n *Node, dev *registry.Device) {
	id := dev.ID
	n.Name = dev.Name()
	n.Kind = KindDevice
	n.DeviceID = &id
	n.Address = dev.Address.String()
	p.visited[n] = true

	folder := n.ensureChild(n.ID+"/points", func() *Node {
		return &Node{Name: PointsFolder, Kind: KindFolder}
	})
	p.visited[folder] = true

	pts := p.points[dev.Key()]
	keys := make([]string, 0, len(pts))
	for k := range pts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]*Node, 0, len(keys))
	for _, k := range keys {
		pt := pts[k]
		id := n.ID + "/" + k
		pn := folder.child(id)
		if pn == nil {
			pn = &Node{ID: id, Kind: KindPoint}
		}
		pn.Name = pt.DisplayName
		if pn.Name == "" {
			pn.Name = k
		}
		pn.Point = pt.Clone()
		pn.Value = pt.PresentValue
		children = append(children, pn)
	}
	folder.Children = children
}

// prune drops device nodes that were not produced by this pass. Network
// folders stay; a placeholder root goes once its last station has moved.
func (p *pass) prune() {
	roots := p.list.Roots[:0]
	for _, r := range p.list.Roots {
		if !p.visited[r] {
			continue
		}
		kept := r.Children[:0]
		for _, c := range r.Children {
			if c.Kind == KindNetwork {
				stations := c.Children[:0]
				for _, s := range c.Children {
					if p.visited[s] {
						stations = append(stations, s)
					}
				}
				c.Children = stations
				sort.Slice(c.Children, func(i, j int) bool { return deviceLess(c.Children[i], c.Children[j]) })
			}
			if c.Kind != KindNetwork || !r.Placeholder || len(c.Children) > 0 {
				kept = append(kept, c)
			}
		}
		r.Children = kept
		sort.SliceStable(r.Children, func(i, j int) bool { return childLess(r.Children[i], r.Children[j]) })
		if r.Placeholder && len(r.Children) == 0 {
			continue
		}
		roots = append(roots, r)
	}
	sort.SliceStable(roots, func(i, j int) bool { return deviceLess(roots[i], roots[j]) })
	p.list.Roots = roots
}

// childLess puts the Points folder first and orders network folders by ID
func childLess(a, b *Node) bool {
	if a.Kind != b.Kind {
		return a.Kind == KindFolder
	}
	return a.ID < b.ID
}

// deviceLess orders by device ID, placeholders last
func deviceLess(a, b *Node) bool {
	switch {
	case a.DeviceID != nil && b.DeviceID != nil:
		return *a.DeviceID < *b.DeviceID
	case a.DeviceID != nil:
		return true
	case b.DeviceID != nil:
		return false
	}
	return a.ID < b.ID
}
