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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo/drivers/bacnetgw/bacnet/internal/transport"
)

// ConnectionState represents the client connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// WhoIsRequest is a Who-Is heard from another node
type WhoIsRequest struct {
	Source    Address
	LowLimit  *uint32
	HighLimit *uint32
}

// Handler receives unsolicited traffic and receive path failures.
// Callbacks run on the receiver goroutine and must not block.
type Handler interface {
	OnIAm(DeviceInfo)
	OnWhoIs(WhoIsRequest)
	OnError(error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	IAm   func(DeviceInfo)
	WhoIs func(WhoIsRequest)
	Error func(error)
}

func (h HandlerFuncs) OnIAm(d DeviceInfo) {
	if h.IAm != nil {
		h.IAm(d)
	}
}

func (h HandlerFuncs) OnWhoIs(r WhoIsRequest) {
	if h.WhoIs != nil {
		h.WhoIs(r)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// transaction tracks one outstanding confirmed request
type transaction struct {
	dest Address
	resp chan *APDU

	// segmented ComplexAck reassembly
	service     uint8
	data        []byte
	nextSeq     uint8
	windowStart uint8
}

// Client is a BACnet/IP client
type Client struct {
	opts      *clientOptions
	transport *transport.UDPTransport
	broadcast net.IP

	state atomic.Int32

	pendingMu  sync.Mutex
	pending    map[uint8]*transaction
	nextInvoke uint8

	handlerMu sync.RWMutex
	handler   Handler

	metrics *Metrics
	logger  *slog.Logger

	receiverCancel context.CancelFunc
	receiverDone   chan struct{}
}

// NewClient creates a new BACnet client
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	bcast := net.ParseIP(options.broadcastAddress)
	if bcast == nil || bcast.To4() == nil {
		return nil, fmt.Errorf("%w: broadcast address %q", ErrInvalidLocalAddress, options.broadcastAddress)
	}

	c := &Client{
		opts:      options,
		broadcast: bcast.To4(),
		pending:   make(map[uint8]*transaction),
		handler:   HandlerFuncs{},
		metrics:   NewMetrics(),
		logger:    options.logger,
	}

	c.transport = transport.NewUDPTransport(options.localAddress, options.port)
	c.transport.SetWriteTimeout(options.timeout)

	return c, nil
}

// SetHandler installs the receiver of I-Am, Who-Is and error events
func (c *Client) SetHandler(h Handler) {
	if h == nil {
		h = HandlerFuncs{}
	}
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

func (c *Client) currentHandler() Handler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// Connect opens the BACnet client connection
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}

	if err := c.transport.Open(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		if errors.Is(err, transport.ErrInvalidLocalAddress) {
			return fmt.Errorf("%w: %v", ErrInvalidLocalAddress, err)
		}
		return fmt.Errorf("open transport: %w", err)
	}

	var receiverCtx context.Context
	receiverCtx, c.receiverCancel = context.WithCancel(context.Background())
	c.receiverDone = make(chan struct{})
	go c.receiver(receiverCtx)

	c.state.Store(int32(StateConnected))

	c.logger.Info("connected",
		slog.String("local_addr", c.transport.LocalAddr().String()),
		slog.String("broadcast", c.broadcast.String()),
	)

	if c.opts.bbmdAddress != "" {
		if err := c.registerForeignDevice(ctx); err != nil {
			c.logger.Warn("failed to register as foreign device",
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Close closes the BACnet client connection. Outstanding requests fail
// with ErrConnectionClosed.
func (c *Client) Close() error {
	if c.state.Swap(int32(StateDisconnected)) == int32(StateDisconnected) {
		return nil
	}

	if c.receiverCancel != nil {
		c.receiverCancel()
	}

	c.pendingMu.Lock()
	for id, tx := range c.pending {
		close(tx.resp)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	err := c.transport.Close()
	if c.receiverDone != nil {
		<-c.receiverDone
	}
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}

	c.logger.Info("disconnected")
	return nil
}

// State returns the current connection state
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Metrics returns the client metrics
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

func (c *Client) receiver(ctx context.Context) {
	defer close(c.receiverDone)

	for ctx.Err() == nil {
		data, addr, err := c.transport.ReceiveWithTimeout(100 * time.Millisecond)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || c.transport.IsClosed() {
				return
			}
			// The socket is unusable; the owner is expected to rebuild the client.
			c.logger.Error("receive failed", slog.String("error", err.Error()))
			c.currentHandler().OnError(fmt.Errorf("receive: %w", err))
			return
		}

		c.metrics.BytesReceived.Add(int64(len(data)))
		c.metrics.RecordActivity()
		c.handlePacket(data, addr)
	}
}

func (c *Client) handlePacket(data []byte, addr *net.UDPAddr) {
	pkt, err := decodePacket(data, addr)
	if err != nil {
		c.logger.Debug("dropping datagram",
			slog.String("from", addr.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if pkt.APDU == nil {
		return
	}

	apdu := pkt.APDU
	switch apdu.Type {
	case PDUTypeUnconfirmedRequest:
		c.handleUnconfirmedRequest(apdu, pkt.Source)

	case PDUTypeComplexAck:
		if apdu.Segmented {
			c.handleSegment(apdu, pkt.Source)
			return
		}
		c.deliver(apdu)

	case PDUTypeSimpleAck:
		c.deliver(apdu)

	case PDUTypeError:
		c.metrics.ErrorsReceived.Inc()
		c.deliver(apdu)

	case PDUTypeReject:
		c.metrics.RejectsReceived.Inc()
		c.deliver(apdu)

	case PDUTypeAbort:
		c.metrics.AbortsReceived.Inc()
		c.deliver(apdu)
	}
}

func (c *Client) handleUnconfirmedRequest(apdu *APDU, src Address) {
	switch UnconfirmedServiceChoice(apdu.Service) {
	case ServiceIAm:
		info, err := decodeIAm(apdu.Data, src)
		if err != nil {
			c.logger.Debug("invalid I-Am", slog.String("from", src.String()), slog.String("error", err.Error()))
			return
		}
		c.metrics.IAmReceived.Inc()
		c.logger.Debug("I-Am",
			slog.Uint64("device_id", uint64(info.ObjectID.Instance)),
			slog.String("address", src.String()),
			slog.Uint64("vendor_id", uint64(info.VendorID)),
		)
		c.currentHandler().OnIAm(info)

	case ServiceWhoIs:
		req := WhoIsRequest{Source: src}
		if len(apdu.Data) > 0 {
			low, n, err := readContextUnsigned(apdu.Data, 0)
			if err != nil {
				return
			}
			high, _, err := readContextUnsigned(apdu.Data[n:], 1)
			if err != nil {
				return
			}
			req.LowLimit, req.HighLimit = &low, &high
		}
		c.currentHandler().OnWhoIs(req)
	}
}

// decodeIAm decodes the I-Am service parameters
func decodeIAm(data []byte, src Address) (DeviceInfo, error) {
	t, hl, err := decodeTag(data)
	if err != nil {
		return DeviceInfo{}, err
	}
	if t.Class != TagClassApplication || ApplicationTag(t.Number) != TagObjectID || t.Length != 4 || len(data) < hl+4 {
		return DeviceInfo{}, ErrInvalidResponse
	}
	oid := DecodeObjectIdentifier(binary.BigEndian.Uint32(data[hl:]))
	if oid.Type != ObjectTypeDevice {
		return DeviceInfo{}, fmt.Errorf("%w: I-Am for %s", ErrInvalidResponse, oid)
	}
	offset := hl + 4

	var fields [3]uint32
	for i := range fields {
		v, n, err := readApplicationUnsigned(data[offset:])
		if err != nil {
			return DeviceInfo{}, err
		}
		fields[i] = v
		offset += n
	}

	return DeviceInfo{
		ObjectID:      oid,
		Address:       src,
		MaxAPDULength: uint16(fields[0]),
		Segmentation:  Segmentation(fields[1]),
		VendorID:      uint16(fields[2]),
	}, nil
}

// deliver hands a response to the transaction waiting for it
func (c *Client) deliver(apdu *APDU) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	// Sent under the lock so Close cannot close the channel in between
	if tx, ok := c.pending[apdu.InvokeID]; ok {
		select {
		case tx.resp <- apdu:
		default:
		}
	}
}

// handleSegment reassembles a segmented ComplexAck. Segments are
// acknowledged at the end of every window and on the last segment.
func (c *Client) handleSegment(apdu *APDU, src Address) {
	c.metrics.SegmentsReceived.Inc()

	c.pendingMu.Lock()
	tx, ok := c.pending[apdu.InvokeID]
	if !ok {
		c.pendingMu.Unlock()
		return
	}

	window := apdu.WindowSize
	if window == 0 {
		window = 1
	}

	if apdu.SequenceNum != tx.nextSeq {
		last := tx.nextSeq - 1
		c.pendingMu.Unlock()
		c.sendSegmentAck(tx.dest, apdu.InvokeID, last, window, true)
		return
	}

	if apdu.SequenceNum == 0 {
		tx.service = apdu.Service
	}
	tx.data = append(tx.data, apdu.Data...)
	tx.nextSeq++

	limit := c.opts.maxSegments * c.opts.maxAPDULength
	overflow := limit > 0 && len(tx.data) > limit
	done := !apdu.MoreFollows
	ack := done || apdu.SequenceNum-tx.windowStart+1 >= window
	if ack {
		tx.windowStart = apdu.SequenceNum + 1
	}
	var full *APDU
	if done && !overflow {
		full = &APDU{
			Type:     PDUTypeComplexAck,
			InvokeID: apdu.InvokeID,
			Service:  tx.service,
			Data:     tx.data,
		}
	}
	c.pendingMu.Unlock()

	if overflow {
		c.deliver(&APDU{Type: PDUTypeAbort, InvokeID: apdu.InvokeID, Service: uint8(AbortReasonBufferOverflow)})
		return
	}
	if ack {
		c.sendSegmentAck(tx.dest, apdu.InvokeID, apdu.SequenceNum, window, false)
	}
	if full != nil {
		c.deliver(full)
	}
}

func (c *Client) sendSegmentAck(dest Address, invokeID, seq, window uint8, negative bool) {
	ack := appendSegmentAck(nil, invokeID, seq, window)
	if negative {
		ack[0] |= 0x02
	}
	pkt := encodePacket(dest, false, false, false, ack)

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.timeout)
	defer cancel()
	if err := c.transport.Send(ctx, dest.UDPAddr(), pkt); err != nil {
		c.logger.Debug("segment ack failed", slog.String("error", err.Error()))
	}
}

func (c *Client) register(dest Address) (uint8, *transaction, error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for i := 0; i < 256; i++ {
		id := c.nextInvoke
		c.nextInvoke++
		if _, busy := c.pending[id]; busy {
			continue
		}
		tx := &transaction{dest: dest, resp: make(chan *APDU, 1)}
		c.pending[id] = tx
		return id, tx, nil
	}
	return 0, nil, ErrNoInvokeID
}

func (c *Client) unregister(id uint8, tx *transaction) {
	c.pendingMu.Lock()
	if c.pending[id] == tx {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// sendRequest sends a confirmed request, resending it on timeout up to the
// configured number of retries.
func (c *Client) sendRequest(ctx context.Context, dest Address, service ConfirmedServiceChoice, data []byte) (*APDU, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.retries; attempt++ {
		if attempt > 0 {
			c.metrics.Retries.Inc()
			c.logger.Debug("retrying request",
				slog.String("service", service.String()),
				slog.String("address", dest.String()),
				slog.Int("attempt", attempt),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.retryDelay):
			}
		}

		resp, err := c.transact(ctx, dest, service, data)
		if err == nil || !IsTimeout(err) || ctx.Err() != nil {
			return resp, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) transact(ctx context.Context, dest Address, service ConfirmedServiceChoice, data []byte) (*APDU, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	invokeID, tx, err := c.register(dest)
	if err != nil {
		return nil, err
	}
	defer c.unregister(invokeID, tx)

	apdu := appendConfirmedRequest(nil, invokeID, service, data, c.opts.maxSegments, c.opts.maxAPDULength)
	pkt := encodePacket(dest, false, false, true, apdu)

	start := time.Now()
	c.metrics.RequestsSent.Inc()
	c.metrics.ActiveRequests.Inc()
	defer c.metrics.ActiveRequests.Dec()

	if err := c.transport.Send(ctx, dest.UDPAddr(), pkt); err != nil {
		c.metrics.RequestsFailed.Inc()
		return nil, fmt.Errorf("send request: %w", err)
	}
	c.metrics.BytesSent.Add(int64(len(pkt)))

	timer := time.NewTimer(c.opts.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.metrics.RequestsFailed.Inc()
		return nil, ctx.Err()

	case <-timer.C:
		c.metrics.RequestsTimedOut.Inc()
		return nil, ErrTimeout

	case resp, ok := <-tx.resp:
		c.metrics.RequestLatency.Record(time.Since(start))

		if !ok {
			return nil, ErrConnectionClosed
		}

		switch resp.Type {
		case PDUTypeSimpleAck, PDUTypeComplexAck:
			c.metrics.RequestsSucceeded.Inc()
			return resp, nil

		case PDUTypeError:
			c.metrics.RequestsFailed.Inc()
			return nil, decodeError(resp.Data)

		case PDUTypeReject:
			c.metrics.RequestsFailed.Inc()
			return nil, &RejectError{
				InvokeID: resp.InvokeID,
				Reason:   RejectReason(resp.Service),
			}

		case PDUTypeAbort:
			c.metrics.RequestsFailed.Inc()
			return nil, &AbortError{
				InvokeID: resp.InvokeID,
				Server:   resp.Server,
				Reason:   AbortReason(resp.Service),
			}

		default:
			return nil, fmt.Errorf("%w: unexpected PDU type %02x", ErrInvalidResponse, resp.Type)
		}
	}
}

// decodeError decodes the body of an Error PDU. Some services wrap the
// class and code in context tag 0.
func decodeError(data []byte) error {
	if t, hl, err := decodeTag(data); err == nil && t.IsOpening(0) {
		data = data[hl:]
	}
	bacnetErr, _, err := decodeErrorBody(data)
	if err != nil {
		return ErrInvalidResponse
	}
	return bacnetErr
}

func (c *Client) sendUnconfirmed(ctx context.Context, dest Address, broadcast bool, service UnconfirmedServiceChoice, data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	// A broadcast also reaches stations behind routers
	pkt := encodePacket(dest, broadcast, broadcast, false, appendUnconfirmedRequest(nil, service, data))

	c.metrics.RequestsSent.Inc()
	if err := c.transport.Send(ctx, dest.UDPAddr(), pkt); err != nil {
		c.metrics.RequestsFailed.Inc()
		return fmt.Errorf("send unconfirmed request: %w", err)
	}
	c.metrics.BytesSent.Add(int64(len(pkt)))
	c.metrics.RequestsSucceeded.Inc()
	return nil
}

// registerForeignDevice registers as a foreign device with the BBMD
func (c *Client) registerForeignDevice(ctx context.Context) error {
	port := c.opts.bbmdPort
	if port == 0 {
		port = DefaultPort
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(c.opts.bbmdAddress, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("resolve BBMD address: %w", err)
	}

	data := []byte{byte(BVLCTypeBACnetIP), byte(BVLCRegisterForeignDevice), 0, 6}
	data = binary.BigEndian.AppendUint16(data, uint16(c.opts.foreignDeviceTTL.Seconds()))

	if err := c.transport.Send(ctx, addr, data); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	c.logger.Info("registered as foreign device",
		slog.String("bbmd", addr.String()),
		slog.Duration("ttl", c.opts.foreignDeviceTTL),
	)
	return nil
}

// WhoIs sends a Who-Is. It returns once the request is sent; answers arrive
// as OnIAm events on the installed Handler.
func (c *Client) WhoIs(ctx context.Context, opts ...DiscoverOption) error {
	options := &DiscoverOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var data []byte
	if options.LowLimit != nil && options.HighLimit != nil {
		data = appendContextUnsigned(data, 0, *options.LowLimit)
		data = appendContextUnsigned(data, 1, *options.HighLimit)
	}

	dest := Address{IP: c.broadcast, Port: c.opts.port}
	broadcast := true
	if options.Target != nil {
		dest, broadcast = *options.Target, false
	}

	if err := c.sendUnconfirmed(ctx, dest, broadcast, ServiceWhoIs, data); err != nil {
		return err
	}
	c.metrics.WhoIsSent.Inc()
	return nil
}

// ReadProperty reads one property of an object on the device at addr
func (c *Client) ReadProperty(ctx context.Context, addr Address, objectID ObjectIdentifier, propertyID PropertyIdentifier, opts ...ReadOption) (interface{}, error) {
	options := &ReadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	data := appendContextObjectID(nil, 0, objectID)
	data = appendContextUnsigned(data, 1, uint32(propertyID))
	if options.ArrayIndex != nil {
		data = appendContextUnsigned(data, 2, *options.ArrayIndex)
	}

	resp, err := c.sendRequest(ctx, addr, ServiceReadProperty, data)
	if err != nil {
		return nil, err
	}
	return decodeReadPropertyAck(resp.Data)
}

// decodeReadPropertyAck decodes a ReadProperty-ACK and returns the value
func decodeReadPropertyAck(data []byte) (interface{}, error) {
	offset := 0
	for _, n := range []uint8{0, 1} {
		t, hl, err := decodeTag(data[offset:])
		if err != nil || !t.IsContext(n) || len(data) < offset+hl+t.Length {
			return nil, ErrInvalidResponse
		}
		offset += hl + t.Length
	}

	t, hl, err := decodeTag(data[offset:])
	if err != nil {
		return nil, ErrInvalidResponse
	}
	if t.IsContext(2) {
		offset += hl + t.Length
		if offset > len(data) {
			return nil, ErrInvalidResponse
		}
		if t, hl, err = decodeTag(data[offset:]); err != nil {
			return nil, ErrInvalidResponse
		}
	}
	if !t.IsOpening(3) {
		return nil, ErrInvalidResponse
	}

	value, _, err := decodeValueList(data[offset+hl:])
	return value, err
}

// ReadPropertyMultiple reads every property of every spec in one request.
// Results come back in request order. A property the device could not
// read has Err set instead of Value.
func (c *Client) ReadPropertyMultiple(ctx context.Context, addr Address, specs []ReadAccessSpec) ([]PropertyValue, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	data := make([]byte, 0, 16*len(specs))
	for _, spec := range specs {
		data = appendContextObjectID(data, 0, spec.ObjectID)
		data = appendOpeningTag(data, 1)
		for _, prop := range spec.Properties {
			data = appendContextUnsigned(data, 0, uint32(prop))
		}
		data = appendClosingTag(data, 1)
	}

	resp, err := c.sendRequest(ctx, addr, ServiceReadPropertyMultiple, data)
	if err != nil {
		return nil, err
	}
	return decodeReadPropertyMultipleAck(resp.Data)
}

func decodeReadPropertyMultipleAck(data []byte) ([]PropertyValue, error) {
	var results []PropertyValue
	offset := 0

	for offset < len(data) {
		t, hl, err := decodeTag(data[offset:])
		if err != nil || !t.IsContext(0) || t.Length != 4 || len(data) < offset+hl+4 {
			return results, ErrInvalidResponse
		}
		oid := DecodeObjectIdentifier(binary.BigEndian.Uint32(data[offset+hl:]))
		offset += hl + 4

		t, hl, err = decodeTag(data[offset:])
		if err != nil || !t.IsOpening(1) {
			return results, ErrInvalidResponse
		}
		offset += hl

		for {
			t, hl, err = decodeTag(data[offset:])
			if err != nil {
				return results, ErrInvalidResponse
			}
			if t.IsClosing(1) {
				offset += hl
				break
			}

			prop, n, err := readContextUnsigned(data[offset:], 2)
			if err != nil {
				return results, err
			}
			offset += n

			pv := PropertyValue{ObjectID: oid, PropertyID: PropertyIdentifier(prop)}
			if idx, n, err := readContextUnsigned(data[offset:], 3); err == nil {
				pv.ArrayIndex = &idx
				offset += n
			}

			t, hl, err = decodeTag(data[offset:])
			if err != nil {
				return results, ErrInvalidResponse
			}
			offset += hl

			switch {
			case t.IsOpening(4):
				value, end, err := decodeValueList(data[offset:])
				if err != nil {
					return results, err
				}
				pv.Value = value
				offset += end
				if _, hl, err = decodeTag(data[offset:]); err != nil {
					return results, ErrInvalidResponse
				}
				offset += hl

			case t.IsOpening(5):
				bacnetErr, n, err := decodeErrorBody(data[offset:])
				if err != nil {
					return results, err
				}
				pv.Err = bacnetErr
				offset += n
				if t, hl, err = decodeTag(data[offset:]); err != nil || !t.IsClosing(5) {
					return results, ErrInvalidResponse
				}
				offset += hl

			default:
				return results, ErrInvalidResponse
			}

			results = append(results, pv)
		}
	}

	return results, nil
}

// WriteProperty writes a property of an object on the device at addr
func (c *Client) WriteProperty(ctx context.Context, addr Address, objectID ObjectIdentifier, propertyID PropertyIdentifier, value interface{}, opts ...WriteOption) error {
	options := &WriteOptions{}
	for _, opt := range opts {
		opt(options)
	}

	data := appendContextObjectID(nil, 0, objectID)
	data = appendContextUnsigned(data, 1, uint32(propertyID))
	if options.ArrayIndex != nil {
		data = appendContextUnsigned(data, 2, *options.ArrayIndex)
	}

	data = appendOpeningTag(data, 3)
	data, err := appendApplicationValue(data, value)
	if err != nil {
		return fmt.Errorf("encode %T: %w", value, err)
	}
	data = appendClosingTag(data, 3)

	if options.Priority != nil {
		data = appendContextUnsigned(data, 4, uint32(*options.Priority))
	}

	_, err = c.sendRequest(ctx, addr, ServiceWriteProperty, data)
	return err
}
