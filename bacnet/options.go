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
	"log/slog"
	"time"
)

// clientOptions holds configuration for the BACnet client
type clientOptions struct {
	// Network configuration
	localAddress     string
	port             int
	broadcastAddress string
	bbmdAddress      string
	bbmdPort         int
	foreignDeviceTTL time.Duration

	// Timeouts
	timeout    time.Duration
	retries    int
	retryDelay time.Duration

	// APDU configuration
	maxAPDULength int
	maxSegments   int

	logger *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		port:             DefaultPort,
		broadcastAddress: "255.255.255.255",
		timeout:          6 * time.Second,
		retries:          3,
		retryDelay:       100 * time.Millisecond,
		maxAPDULength:    MaxAPDULength,
		maxSegments:      0,
		logger:           slog.Default(),
	}
}

// Option is a functional option for configuring the client
type Option func(*clientOptions)

// WithLocalAddress sets the local IP address to bind to. Empty binds all interfaces.
func WithLocalAddress(addr string) Option {
	return func(o *clientOptions) {
		o.localAddress = addr
	}
}

// WithPort sets the local UDP port, which is also the port broadcasts go to
func WithPort(port int) Option {
	return func(o *clientOptions) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithBroadcastAddress sets the directed broadcast address used for Who-Is
func WithBroadcastAddress(addr string) Option {
	return func(o *clientOptions) {
		if addr != "" {
			o.broadcastAddress = addr
		}
	}
}

// WithBBMD registers the client as a foreign device with the given BBMD
func WithBBMD(addr string, port int, ttl time.Duration) Option {
	return func(o *clientOptions) {
		o.bbmdAddress = addr
		o.bbmdPort = port
		o.foreignDeviceTTL = ttl
	}
}

// WithTimeout sets the per-attempt confirmed request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetries sets how many times a timed out request is resent
func WithRetries(n int) Option {
	return func(o *clientOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithRetryDelay sets the delay between retries
func WithRetryDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryDelay = d
	}
}

// WithMaxAPDULength sets the maximum APDU length accepted in responses
func WithMaxAPDULength(length int) Option {
	return func(o *clientOptions) {
		if length > 0 {
			o.maxAPDULength = length
		}
	}
}

// WithMaxSegments sets the number of response segments accepted. Zero or one
// disables segmented responses.
func WithMaxSegments(n int) Option {
	return func(o *clientOptions) {
		o.maxSegments = n
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// DiscoverOptions holds configuration for a Who-Is
type DiscoverOptions struct {
	LowLimit  *uint32
	HighLimit *uint32
	// Target is set for a unicast or directed Who-Is
	Target *Address
}

// DiscoverOption is a functional option for discovery
type DiscoverOption func(*DiscoverOptions)

// WithDeviceRange limits the Who-Is to device instances low..high
func WithDeviceRange(low, high uint32) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.LowLimit = &low
		o.HighLimit = &high
	}
}

// WithTarget sends the Who-Is to a single address instead of broadcasting
func WithTarget(addr Address) DiscoverOption {
	return func(o *DiscoverOptions) {
		o.Target = &addr
	}
}

// ReadOptions holds configuration for read operations
type ReadOptions struct {
	ArrayIndex *uint32
}

// ReadOption is a functional option for read operations
type ReadOption func(*ReadOptions)

// WithArrayIndex sets the array index for reading array properties
func WithArrayIndex(index uint32) ReadOption {
	return func(o *ReadOptions) {
		o.ArrayIndex = &index
	}
}

// WriteOptions holds configuration for write operations
type WriteOptions struct {
	ArrayIndex *uint32
	Priority   *uint8
}

// WriteOption is a functional option for write operations
type WriteOption func(*WriteOptions)

// WithWriteArrayIndex sets the array index for writing array properties
func WithWriteArrayIndex(index uint32) WriteOption {
	return func(o *WriteOptions) {
		o.ArrayIndex = &index
	}
}

// WithPriority sets the priority for writing (1-16, where 1 is highest)
func WithPriority(priority uint8) WriteOption {
	return func(o *WriteOptions) {
		if priority >= 1 && priority <= 16 {
			o.Priority = &priority
		}
	}
}
