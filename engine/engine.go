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

// Package engine runs device discovery, point polling and the network tree
// synchronisation on top of a BACnet transport.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/cache"
	"github.com/edgeo/drivers/bacnetgw/config"
	"github.com/edgeo/drivers/bacnetgw/metrics"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
	"github.com/edgeo/drivers/bacnetgw/tree"
)

// Engine errors
var (
	ErrNotRunning    = errors.New("engine: transport not connected")
	ErrUnknownDevice = errors.New("engine: unknown device")
)

// reinitDelay is the pause before retrying a failed reinitialisation
const reinitDelay = 5 * time.Second

// DeviceError attaches the device to a failure reported to observers
type DeviceError struct {
	DeviceID uint32
	Address  string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %d (%s): %v", e.DeviceID, e.Address, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

type options struct {
	factory     TransportFactory
	observer    Observer
	store       cache.Store
	batchPolicy BatchPolicy
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	persistStart, persistFloor, persistCeiling time.Duration
}

// Option configures an Engine
type Option func(*options)

// WithTransportFactory replaces NewClientTransport
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithObserver sets the event receiver
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStore enables persistence of the network tree cache
func WithStore(s cache.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithBatchPolicy replaces DefaultBatchPolicy
func WithBatchPolicy(p BatchPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.batchPolicy = p
		}
	}
}

// WithPersistSchedule bounds the adaptive cache write interval. Zero
// values keep the cache package defaults.
func WithPersistSchedule(start, floor, ceiling time.Duration) Option {
	return func(o *options) {
		o.persistStart, o.persistFloor, o.persistCeiling = start, floor, ceiling
	}
}

// WithMetrics records engine metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
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

// WithClock replaces time.Now for point timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Engine owns the device registry, the point cache and the tree builder,
// and drives them from three timers: discovery, polling and tree build.
// Cache writes run on a fourth, adaptive timer.
type Engine struct {
	opts   options
	logger *slog.Logger

	mu         sync.RWMutex
	cfg        config.Config
	probeTypes []bacnet.ObjectType
	decoder    model.Decoder
	transport  Transport

	registry *registry.Registry
	points   *model.PointCache
	builder  *tree.Builder
	persist  *cache.AdaptiveInterval

	// polling drops a poll tick while the previous pass still runs
	polling atomic.Bool
	// reqMu keeps at most one confirmed request in flight
	reqMu sync.Mutex

	reinit chan struct{}
}

// New creates an engine. Nothing is sent until Open or Run.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	probeTypes, err := cfg.ProbeTypes()
	if err != nil {
		return nil, err
	}

	o := options{
		factory:     NewClientTransport,
		observer:    NopObserver{},
		batchPolicy: DefaultBatchPolicy,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Engine{
		opts:       o,
		logger:     o.logger,
		cfg:        cfg,
		probeTypes: probeTypes,
		decoder:    model.NewDecoder(cfg.Precision),
		registry: registry.New(
			registry.WithRanges(cfg.DeviceRanges...),
			registry.WithLogger(o.logger),
		),
		points:  model.NewPointCache(),
		builder: tree.NewBuilder(),
		persist: cache.NewAdaptiveInterval(o.persistStart, o.persistFloor, o.persistCeiling),
		reinit:  make(chan struct{}, 1),
	}, nil
}

// Registry returns the device registry
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Points returns the point cache
func (e *Engine) Points() *model.PointCache { return e.points }

// Tree returns the last built render list
func (e *Engine) Tree() *tree.RenderList { return e.builder.Current() }

// Config returns the active configuration
func (e *Engine) Config() config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// ClientMetrics returns the counters of the current BACnet client, if the
// transport exposes them
func (e *Engine) ClientMetrics() *bacnet.Metrics {
	type metered interface{ Metrics() *bacnet.Metrics }
	if m, ok := e.client().(metered); ok {
		return m.Metrics()
	}
	return nil
}

func (e *Engine) client() Transport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.transport
}

func (e *Engine) currentDecoder() model.Decoder {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.decoder
}

// Open replays the persisted cache and connects the transport
func (e *Engine) Open(ctx context.Context) error {
	e.restore(ctx)
	if err := e.connect(ctx); err != nil {
		return err
	}
	// a Reconfigure before Open is already applied
	select {
	case <-e.reinit:
	default:
	}
	return nil
}

// Close disconnects the transport and writes the cache if it changed
func (e *Engine) Close() error {
	e.mu.Lock()
	t := e.transport
	e.transport = nil
	e.mu.Unlock()

	e.persistIfChanged(context.Background(), e.snapshot())

	if e.opts.store != nil {
		if err := e.opts.store.Close(); err != nil {
			e.logger.Warn("closing cache store", slog.String("error", err.Error()))
		}
	}
	if t != nil {
		return t.Close()
	}
	return nil
}

// Run opens the engine and runs the discovery, poll, tree and persistence
// timers until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Open(ctx); err != nil {
		return err
	}
	defer e.Close()

	cfg := e.Config()
	e.logger.Info("engine started",
		slog.Duration("discover_interval", cfg.DiscoverInterval()),
		slog.Duration("read_interval", cfg.ReadInterval()),
		slog.Duration("tree_build_interval", cfg.TreeBuildInterval),
		slog.Int("devices", e.registry.Len()),
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		e.every(ctx, true, func() time.Duration { return e.Config().DiscoverInterval() }, func(ctx context.Context) {
			_ = e.Discover(ctx)
		})
	})
	wg.Go(func() {
		var polls conc.WaitGroup
		defer polls.Wait()
		e.every(ctx, true, func() time.Duration { return e.Config().ReadInterval() }, func(ctx context.Context) {
			polls.Go(func() { e.Poll(ctx) })
		})
	})
	wg.Go(func() {
		e.every(ctx, false, func() time.Duration { return e.Config().TreeBuildInterval }, func(context.Context) {
			_ = e.BuildTree()
		})
	})
	wg.Go(func() {
		e.every(ctx, false, e.persist.Interval, func(ctx context.Context) {
			e.persistIfChanged(ctx, e.snapshot())
		})
	})
	wg.Go(func() { e.reinitLoop(ctx) })
	wg.Wait()

	e.logger.Info("engine stopped")
	return nil
}

// every calls fn, optionally right away, then each time interval elapses.
// The interval is read again after each call so reconfiguration applies
// from the next tick.
func (e *Engine) every(ctx context.Context, immediate bool, interval func() time.Duration, fn func(context.Context)) {
	if immediate {
		fn(ctx)
	}
	timer := time.NewTimer(interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fn(ctx)
			timer.Reset(interval())
		}
	}
}

func (e *Engine) connect(ctx context.Context) error {
	cfg := e.Config()
	t, err := e.opts.factory(cfg, e.logger)
	if err != nil {
		return fmt.Errorf("engine: create transport: %w", err)
	}
	t.SetHandler(bacnet.HandlerFuncs{
		IAm:   e.handleIAm,
		WhoIs: e.handleWhoIs,
		Error: e.handleTransportError,
	})
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("engine: connect: %w", err)
	}

	e.mu.Lock()
	old := e.transport
	e.transport = t
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Debug("closing previous transport", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (e *Engine) requestReinit() {
	select {
	case e.reinit <- struct{}{}:
	default:
	}
}

// reinitLoop rebuilds the transport from the current configuration. The
// registry and the point cache are left alone.
func (e *Engine) reinitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.reinit:
		}

		e.logger.Warn("reinitialising transport")
		err := e.connect(ctx)
		if err == nil {
			continue
		}
		e.reportError(nil, err)
		if bacnet.IsTerminal(err) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reinitDelay):
			e.requestReinit()
		}
	}
}

// Reconfigure applies a new configuration. Timer periods change from the
// next tick, a running tree build is interrupted, and transport settings
// trigger a reinitialisation. A running poll finishes on the old client.
func (e *Engine) Reconfigure(cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	probeTypes, err := cfg.ProbeTypes()
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.cfg
	e.cfg = cfg
	e.probeTypes = probeTypes
	e.decoder = model.NewDecoder(cfg.Precision)
	e.mu.Unlock()

	e.registry.SetRanges(cfg.DeviceRanges)
	e.builder.Interrupt()
	if !old.TransportEqual(cfg) {
		e.requestReinit()
	}

	e.logger.Info("configuration updated",
		slog.Bool("transport_changed", !old.TransportEqual(cfg)),
	)
	return nil
}

// handleTransportError routes asynchronous client errors. An invalid local
// address is terminal; anything else rebuilds the client.
func (e *Engine) handleTransportError(err error) {
	e.reportError(nil, err)
	if bacnet.IsTerminal(err) {
		return
	}
	e.requestReinit()
}

// reportError is the single sink for failures: log, metrics and observer
func (e *Engine) reportError(dev *registry.Device, err error) {
	if err == nil {
		return
	}
	if dev != nil {
		err = &DeviceError{DeviceID: dev.ID, Address: dev.Address.String(), Err: err}
	}

	level := slog.LevelWarn
	if bacnet.IsTerminal(err) {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "engine error", slog.String("error", err.Error()))

	e.opts.metrics.Error(errorKind(err))
	e.opts.observer.Error(err)
}

func errorKind(err error) string {
	var (
		bacErr   *bacnet.BACnetError
		rejErr   *bacnet.RejectError
		abortErr *bacnet.AbortError
	)
	switch {
	case bacnet.IsTerminal(err):
		return "terminal"
	case bacnet.IsTimeout(err):
		return "timeout"
	case errors.As(err, &bacErr), errors.As(err, &rejErr), errors.As(err, &abortErr):
		return "protocol"
	case errors.Is(err, tree.ErrInterrupted):
		return "interrupted"
	}
	return "other"
}
