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

package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// Kind tells how a device is reached
type Kind int

const (
	// KindIP is a device answering directly on BACnet/IP
	KindIP Kind = iota
	// KindMSTP is a station on a remote network behind a BACnet router
	KindMSTP
)

func (k Kind) String() string {
	if k == KindMSTP {
		return "mstp"
	}
	return "ip"
}

// Address is a device address normalised when the I-Am is ingested
type Address struct {
	Kind   Kind           `json:"kind"`
	BACnet bacnet.Address `json:"bacnet"`
}

// FromBACnet classifies a transport address
func FromBACnet(a bacnet.Address) Address {
	kind := KindIP
	if a.IsRemote() {
		kind = KindMSTP
	}
	return Address{Kind: kind, BACnet: a}
}

// IP returns the transport IP. For MS/TP stations this is the router's IP.
func (a Address) IP() string {
	if a.BACnet.IP == nil {
		return ""
	}
	return a.BACnet.IP.String()
}

// Network returns the remote network number, 0 for IP devices
func (a Address) Network() uint16 {
	if a.Kind != KindMSTP {
		return 0
	}
	return a.BACnet.Net
}

func (a Address) String() string {
	return a.BACnet.String()
}

// Device is one BACnet device known to the gateway
type Device struct {
	ID       uint32   `json:"deviceId"`
	Address  Address  `json:"address"`
	IsMSTP   bool     `json:"isMstp"`
	ParentID *uint32  `json:"parentId,omitempty"`
	ChildIDs []uint32 `json:"childIds,omitempty"`

	MaxAPDU      uint16              `json:"maxApdu"`
	Segmentation bacnet.Segmentation `json:"segmentation"`
	VendorID     uint16              `json:"vendorId"`

	// Services is resolved once per device lifetime; nil until then
	Services *bacnet.ServicesSupported `json:"services,omitempty"`

	Points          []bacnet.ObjectIdentifier `json:"points,omitempty"`
	ManualDiscovery bool                      `json:"manualDiscovery"`
	NeedsDiscovery  bool                      `json:"needsDiscovery"`
	InitialQuery    bool                      `json:"initialQuery"`

	DisplayName string    `json:"displayName,omitempty"`
	LastSeen    time.Time `json:"lastSeen" hash:"ignore"`
}

// Key returns the device key used by the point cache and the tree
func (d *Device) Key() string {
	return fmt.Sprintf("%s-%d", d.Address, d.ID)
}

// Name returns the display name, or "device <id>" before it is known
func (d *Device) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return fmt.Sprintf("device %d", d.ID)
}

// Clone returns a deep copy
func (d *Device) Clone() *Device {
	c := *d
	c.Address.BACnet.IP = slices.Clone(d.Address.BACnet.IP)
	c.Address.BACnet.MAC = slices.Clone(d.Address.BACnet.MAC)
	if d.ParentID != nil {
		p := *d.ParentID
		c.ParentID = &p
	}
	c.ChildIDs = slices.Clone(d.ChildIDs)
	c.Points = slices.Clone(d.Points)
	if d.Services != nil {
		s := bacnet.ServicesSupported{Bits: slices.Clone(d.Services.Bits)}
		c.Services = &s
	}
	return &c
}
