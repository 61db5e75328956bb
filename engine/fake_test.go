package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/cache"
	"github.com/edgeo/drivers/bacnetgw/config"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

var (
	errUnknownObject   = bacnet.NewBACnetError(bacnet.ErrorClassObject, bacnet.ErrorCodeUnknownObject)
	errUnknownProperty = bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)
	errEndOfArray      = bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeInvalidArrayIndex)
)

type properties map[bacnet.PropertyIdentifier]interface{}

// fakeDevice answers like a BACnet device. A property value of type error
// is returned as that error.
type fakeDevice struct {
	info       bacnet.DeviceInfo
	name       string
	rpm        bool
	noServices bool
	rpmErr     error
	statusErr  error
	// objectList nil means OBJECT_LIST is not readable
	objectList []bacnet.ObjectIdentifier
	// listErr, when set, answers the OBJECT_LIST read at index listErrAt
	listErr   error
	listErrAt uint32
	objects    map[bacnet.ObjectIdentifier]properties
}

type readCall struct {
	addr string
	oid  bacnet.ObjectIdentifier
	prop bacnet.PropertyIdentifier
}

type fakeTransport struct {
	mu         sync.Mutex
	handler    bacnet.Handler
	devices    map[string]*fakeDevice
	connectErr error
	connects   int
	closed     bool

	reads    []readCall
	rpmCalls [][]bacnet.ReadAccessSpec
	whoIs    []bacnet.DiscoverOptions

	// block, when set, holds every ReadProperty until closed; started
	// is signalled without blocking when a call arrives
	block   chan struct{}
	started chan struct{}
}

func newFakeTransport(devices ...*fakeDevice) *fakeTransport {
	f := &fakeTransport{devices: make(map[string]*fakeDevice)}
	for _, d := range devices {
		f.add(d)
	}
	return f
}

func (f *fakeTransport) add(d *fakeDevice) {
	f.mu.Lock()
	f.devices[d.info.Address.String()] = d
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetHandler(h bacnet.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) WhoIs(_ context.Context, opts ...bacnet.DiscoverOption) error {
	var o bacnet.DiscoverOptions
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	f.whoIs = append(f.whoIs, o)
	handler := f.handler
	var infos []bacnet.DeviceInfo
	for _, d := range f.devices {
		id := d.info.ObjectID.Instance
		if o.LowLimit != nil && (id < *o.LowLimit || id > *o.HighLimit) {
			continue
		}
		infos = append(infos, d.info)
	}
	f.mu.Unlock()

	for _, info := range infos {
		handler.OnIAm(info)
	}
	return nil
}

// iAm delivers an unsolicited I-Am
func (f *fakeTransport) iAm(d *fakeDevice) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler.OnIAm(d.info)
}

func (f *fakeTransport) ReadProperty(ctx context.Context, addr bacnet.Address, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, opts ...bacnet.ReadOption) (interface{}, error) {
	var o bacnet.ReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	f.mu.Lock()
	f.reads = append(f.reads, readCall{addr: addr.String(), oid: oid, prop: prop})
	block, started := f.block, f.started
	f.mu.Unlock()

	if block != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookup(addr, oid, prop, o.ArrayIndex)
}

func (f *fakeTransport) ReadPropertyMultiple(_ context.Context, addr bacnet.Address, specs []bacnet.ReadAccessSpec) ([]bacnet.PropertyValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rpmCalls = append(f.rpmCalls, specs)
	d, ok := f.devices[addr.String()]
	switch {
	case !ok:
		return nil, bacnet.ErrTimeout
	case !d.rpm:
		return nil, &bacnet.RejectError{Reason: bacnet.RejectReason(9)}
	case d.rpmErr != nil:
		return nil, d.rpmErr
	}

	var out []bacnet.PropertyValue
	for _, spec := range specs {
		for _, prop := range spec.Properties {
			v, err := f.lookup(addr, spec.ObjectID, prop, nil)
			out = append(out, bacnet.PropertyValue{ObjectID: spec.ObjectID, PropertyID: prop, Value: v, Err: err})
		}
	}
	return out, nil
}

func (f *fakeTransport) WriteProperty(_ context.Context, addr bacnet.Address, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, value interface{}, _ ...bacnet.WriteOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.devices[addr.String()]
	if !ok {
		return bacnet.ErrTimeout
	}
	props, ok := d.objects[oid]
	if !ok {
		return errUnknownObject
	}
	props[prop] = value
	return nil
}

func (f *fakeTransport) lookup(addr bacnet.Address, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, index *uint32) (interface{}, error) {
	d, ok := f.devices[addr.String()]
	if !ok {
		return nil, bacnet.ErrTimeout
	}

	if oid.Type == bacnet.ObjectTypeDevice && oid.Instance == d.info.ObjectID.Instance {
		switch prop {
		case bacnet.PropertyObjectName:
			return d.name, nil
		case bacnet.PropertySystemStatus:
			if d.statusErr != nil {
				return nil, d.statusErr
			}
			return bacnet.Enumerated(0), nil
		case bacnet.PropertyProtocolServicesSupported:
			if d.noServices {
				return nil, errUnknownProperty
			}
			bits := make(bacnet.BitString, 40)
			bits[12] = true
			bits[14] = d.rpm
			bits[15] = true
			return bits, nil
		case bacnet.PropertyObjectList:
			if d.objectList == nil {
				return nil, errUnknownProperty
			}
			if index == nil {
				return nil, bacnet.ErrSegmentationNotSupported
			}
			if *index == 0 {
				return uint32(len(d.objectList)), nil
			}
			if d.listErr != nil && *index == d.listErrAt {
				return nil, d.listErr
			}
			if int(*index) > len(d.objectList) {
				return nil, errEndOfArray
			}
			return d.objectList[*index-1], nil
		}
	}

	props, ok := d.objects[oid]
	if !ok {
		return nil, errUnknownObject
	}
	v, ok := props[prop]
	if !ok {
		return nil, errUnknownProperty
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

// remove makes d stop answering, as if it went offline
func (f *fakeTransport) remove(d *fakeDevice) {
	f.mu.Lock()
	delete(f.devices, d.info.Address.String())
	f.mu.Unlock()
}

func (f *fakeTransport) readsOf(prop bacnet.PropertyIdentifier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reads {
		if r.prop == prop {
			n++
		}
	}
	return n
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) rpm() [][]bacnet.ReadAccessSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]bacnet.ReadAccessSpec, len(f.rpmCalls))
	copy(out, f.rpmCalls)
	return out
}

func (f *fakeTransport) set(d *fakeDevice, oid bacnet.ObjectIdentifier, prop bacnet.PropertyIdentifier, v interface{}) {
	f.mu.Lock()
	d.objects[oid][prop] = v
	f.mu.Unlock()
}

func newFakeDevice(id uint32, ip string, seg bacnet.Segmentation, maxAPDU uint16) *fakeDevice {
	return &fakeDevice{
		info: bacnet.DeviceInfo{
			ObjectID:      bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, id),
			Address:       bacnet.IPAddress(net.ParseIP(ip), 0),
			MaxAPDULength: maxAPDU,
			Segmentation:  seg,
			VendorID:      7,
		},
		name:    fmt.Sprintf("Controller %d", id),
		objects: make(map[bacnet.ObjectIdentifier]properties),
	}
}

// analogInputs adds n analog inputs 0..n-1 and lists them with the
// device object in OBJECT_LIST
func (d *fakeDevice) analogInputs(n int) *fakeDevice {
	d.objectList = []bacnet.ObjectIdentifier{d.info.ObjectID}
	for i := 0; i < n; i++ {
		oid := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, uint32(i))
		d.objects[oid] = properties{
			bacnet.PropertyObjectName:   fmt.Sprintf("Sensor %d", i),
			bacnet.PropertyPresentValue: float32(i) + 0.125,
			bacnet.PropertyUnits:        bacnet.Enumerated(62),
		}
		d.objectList = append(d.objectList, oid)
	}
	return d
}

func (d *fakeDevice) object(oid bacnet.ObjectIdentifier, props properties) *fakeDevice {
	d.objects[oid] = props
	if d.objectList != nil {
		d.objectList = append(d.objectList, oid)
	}
	return d
}

// recorder is an Observer keeping every event
type recorder struct {
	mu     sync.Mutex
	found  []uint32
	values map[uint32]map[string]*model.Point
	passes map[uint32]int
	errs   []error
}

func newRecorder() *recorder {
	return &recorder{
		values: make(map[uint32]map[string]*model.Point),
		passes: make(map[uint32]int),
	}
}

func (r *recorder) DeviceFound(dev *registry.Device) {
	r.mu.Lock()
	r.found = append(r.found, dev.ID)
	r.mu.Unlock()
}

func (r *recorder) DeviceValues(dev *registry.Device, points map[string]*model.Point) {
	r.mu.Lock()
	r.values[dev.ID] = points
	r.passes[dev.ID]++
	r.mu.Unlock()
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) passesOf(id uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes[id]
}

func (r *recorder) foundIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.found...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// memStore is an in-memory cache.Store
type memStore struct {
	mu    sync.Mutex
	blob  cache.Blob
	saves int
}

func (s *memStore) Save(_ context.Context, b cache.Blob) error {
	s.mu.Lock()
	s.blob = b
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *memStore) Load(context.Context) (cache.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Probe.MaxInstance = 5
	cfg.Probe.MissLimit = 10
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// newTestEngine returns an opened engine wired to ft
func newTestEngine(t *testing.T, cfg config.Config, ft *fakeTransport, opts ...Option) *Engine {
	t.Helper()

	base := []Option{
		WithTransportFactory(func(config.Config, *slog.Logger) (Transport, error) {
			return ft, nil
		}),
		WithLogger(testLogger()),
		WithClock(fixedClock),
	}
	e, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}
