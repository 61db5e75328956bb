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
	"log/slog"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/config"
)

// Transport is the part of the BACnet client the engine drives.
// *bacnet.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	SetHandler(h bacnet.Handler)

	WhoIs(ctx context.Context, opts ...bacnet.DiscoverOption) error
	ReadProperty(ctx context.Context, addr bacnet.Address, objectID bacnet.ObjectIdentifier, propertyID bacnet.PropertyIdentifier, opts ...bacnet.ReadOption) (interface{}, error)
	ReadPropertyMultiple(ctx context.Context, addr bacnet.Address, specs []bacnet.ReadAccessSpec) ([]bacnet.PropertyValue, error)
	WriteProperty(ctx context.Context, addr bacnet.Address, objectID bacnet.ObjectIdentifier, propertyID bacnet.PropertyIdentifier, value interface{}, opts ...bacnet.WriteOption) error
}

var _ Transport = (*bacnet.Client)(nil)

// TransportFactory builds a transport from the configuration. It is called
// at start and again on every reinitialisation.
type TransportFactory func(cfg config.Config, logger *slog.Logger) (Transport, error)

// NewClientTransport builds a *bacnet.Client from cfg
func NewClientTransport(cfg config.Config, logger *slog.Logger) (Transport, error) {
	opts := []bacnet.Option{
		bacnet.WithLocalAddress(cfg.LocalAddress),
		bacnet.WithPort(cfg.Port),
		bacnet.WithBroadcastAddress(cfg.BroadcastAddress),
		bacnet.WithTimeout(cfg.APDUTimeout),
		bacnet.WithRetries(cfg.Retries),
		bacnet.WithMaxAPDULength(cfg.APDUSize),
		bacnet.WithMaxSegments(cfg.MaxSegments),
		bacnet.WithLogger(logger),
	}
	if cfg.BBMD.Address != "" {
		opts = append(opts, bacnet.WithBBMD(cfg.BBMD.Address, cfg.BBMD.Port, cfg.BBMD.TTL))
	}
	return bacnet.NewClient(opts...)
}
