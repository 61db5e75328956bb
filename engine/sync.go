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
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeo/drivers/bacnetgw/cache"
	"github.com/edgeo/drivers/bacnetgw/tree"
)

func (e *Engine) snapshot() cache.Blob {
	return cache.Blob{
		DeviceList: e.registry.Devices(),
		PointList:  e.points.Snapshot(),
	}
}

// restore replays the persisted cache into the registry and point cache
func (e *Engine) restore(ctx context.Context) {
	if e.opts.store == nil {
		return
	}
	blob, err := e.opts.store.Load(ctx)
	if err != nil {
		e.reportError(nil, fmt.Errorf("load cache: %w", err))
		return
	}
	if blob.Empty() {
		return
	}

	devices := e.registry.Restore(blob.DeviceList)
	e.points.Restore(blob.PointList)
	e.opts.metrics.SetDevices(e.registry.Len())

	if hash, err := cache.ContentHash(e.snapshot()); err == nil {
		e.persist.Prime(hash)
	}
	e.logger.Info("cache restored",
		slog.Int("devices", devices),
		slog.Int("point_devices", len(blob.PointList)),
	)
}

// BuildTree rebuilds the network tree from the registry and point cache
func (e *Engine) BuildTree() error {
	list, err := e.builder.Build(e.registry.Devices(), e.points.Snapshot())
	if errors.Is(err, tree.ErrInterrupted) {
		e.logger.Debug("tree build interrupted")
		return err
	}
	if err != nil {
		e.reportError(nil, err)
		return err
	}
	e.logger.Debug("tree built", slog.Int("roots", len(list.Roots)))
	return nil
}

// SyncTree rebuilds the network tree, then persists the cache right away
// when its content changed since the last write. Run does both on separate
// timers.
func (e *Engine) SyncTree(ctx context.Context) error {
	if err := e.BuildTree(); err != nil {
		return err
	}
	e.persistIfChanged(ctx, e.snapshot())
	return nil
}

func (e *Engine) persistIfChanged(ctx context.Context, blob cache.Blob) {
	hash, err := cache.ContentHash(blob)
	if err != nil {
		e.reportError(nil, fmt.Errorf("hash cache: %w", err))
		return
	}
	changed := e.persist.Observe(hash)
	e.opts.metrics.SetPersistInterval(e.persist.Interval())
	if !changed || e.opts.store == nil {
		return
	}

	if err := e.opts.store.Save(ctx, blob); err != nil {
		e.reportError(nil, fmt.Errorf("save cache: %w", err))
		return
	}
	e.opts.metrics.Persisted()
	e.logger.Debug("cache persisted",
		slog.Int("devices", len(blob.DeviceList)),
		slog.Duration("next_check", e.persist.Interval()),
	)
}
