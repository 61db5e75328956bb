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

package bacnet

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address locates a BACnet device.
//
// IP and Port are the BACnet/IP endpoint datagrams are sent to. For a station
// behind a router (MS/TP) they are the router's endpoint, Net is the remote
// network number and MAC the station address on that network.
type Address struct {
	IP   net.IP
	Port int
	Net  uint16
	MAC  []byte
}

// IPAddress returns a local-network address for ip:port
func IPAddress(ip net.IP, port int) Address {
	if port == 0 {
		port = DefaultPort
	}
	return Address{IP: ip.To4(), Port: port}
}

// IsRemote reports whether the device sits on a remote network behind a router
func (a Address) IsRemote() bool {
	return a.Net != 0 && a.Net != BroadcastNetwork
}

// UDPAddr returns the UDP endpoint to send to
func (a Address) UDPAddr() *net.UDPAddr {
	port := a.Port
	if port == 0 {
		port = DefaultPort
	}
	return &net.UDPAddr{IP: a.IP, Port: port}
}

// Equal reports whether both addresses designate the same station
func (a Address) Equal(b Address) bool {
	return a.IP.Equal(b.IP) && a.portOrDefault() == b.portOrDefault() &&
		a.Net == b.Net && string(a.MAC) == string(b.MAC)
}

func (a Address) portOrDefault() int {
	if a.Port == 0 {
		return DefaultPort
	}
	return a.Port
}

// String renders ip[:port] for local devices and ip[:port]/net:mac for routed ones.
func (a Address) String() string {
	host := "<nil>"
	if a.IP != nil {
		host = a.IP.String()
	}
	if a.portOrDefault() != DefaultPort {
		host = net.JoinHostPort(host, strconv.Itoa(a.Port))
	}
	if !a.IsRemote() {
		return host
	}
	return fmt.Sprintf("%s/%d:%s", host, a.Net, hex.EncodeToString(a.MAC))
}

// ParseAddress parses the forms produced by Address.String, for example
// "10.0.0.5", "10.0.0.5:47809" or "10.0.0.5/2001:0c".
func ParseAddress(s string) (Address, error) {
	var addr Address
	host, routed, hasRoute := strings.Cut(strings.TrimSpace(s), "/")

	if h, p, err := net.SplitHostPort(host); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil {
			return addr, fmt.Errorf("invalid port %q", p)
		}
		host, addr.Port = h, port
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return addr, fmt.Errorf("invalid IPv4 address %q", host)
	}
	addr.IP = ip.To4()

	if !hasRoute {
		return addr, nil
	}

	netStr, macStr, ok := strings.Cut(routed, ":")
	if !ok {
		return addr, fmt.Errorf("invalid routed address %q", routed)
	}
	n, err := strconv.ParseUint(netStr, 10, 16)
	if err != nil {
		return addr, fmt.Errorf("invalid network number %q", netStr)
	}
	addr.Net = uint16(n)

	mac, err := hex.DecodeString(macStr)
	if err != nil || len(mac) == 0 {
		return addr, fmt.Errorf("invalid station address %q", macStr)
	}
	addr.MAC = mac
	return addr, nil
}
