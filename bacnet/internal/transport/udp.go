// Package transport provides the UDP transport for BACnet/IP communication
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrInvalidLocalAddress is returned by Open when the local address cannot be
// parsed or does not belong to this host.
var ErrInvalidLocalAddress = errors.New("transport: invalid local address")

// ErrClosed is returned when the transport is used after Close
var ErrClosed = errors.New("transport: not open")

// maxDatagram fits any BACnet/IP frame (1476 byte APDU plus headers)
const maxDatagram = 1536

// UDPTransport implements BACnet/IP transport over UDP
type UDPTransport struct {
	localIP      string
	port         int
	conn         *net.UDPConn
	mu           sync.RWMutex
	writeTimeout time.Duration
	closed       bool
}

// NewUDPTransport creates a transport bound to localIP:port. An empty
// localIP binds all interfaces.
func NewUDPTransport(localIP string, port int) *UDPTransport {
	return &UDPTransport{
		localIP:      localIP,
		port:         port,
		writeTimeout: 3 * time.Second,
	}
}

// SetWriteTimeout sets the write timeout used when the context has no deadline
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open opens the UDP socket with broadcast enabled
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil && !t.closed {
		return nil
	}

	var ip net.IP
	if t.localIP != "" {
		ip = net.ParseIP(t.localIP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: %q", ErrInvalidLocalAddress, t.localIP)
		}
	}

	lc := net.ListenConfig{Control: setBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(ipString(ip), strconv.Itoa(t.port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRNOTAVAIL) {
			return fmt.Errorf("%w: %v", ErrInvalidLocalAddress, err)
		}
		return fmt.Errorf("listen UDP: %w", err)
	}

	t.conn = pc.(*net.UDPConn)
	t.closed = false
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func setBroadcast(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
		if serr == nil {
			serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

// Close closes the UDP connection
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local address
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Send sends data to a specific address
func (t *UDPTransport) Send(ctx context.Context, addr *net.UDPAddr, data []byte) error {
	t.mu.RLock()
	conn, closed := t.conn, t.closed
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil || closed {
		return ErrClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}

	return nil
}

// ReceiveWithTimeout waits at most timeout for one datagram. A timeout is
// reported as a net.Error with Timeout() true.
func (t *UDPTransport) ReceiveWithTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	t.mu.RLock()
	conn, closed := t.conn, t.closed
	t.mu.RUnlock()

	if conn == nil || closed {
		return nil, nil, ErrClosed
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], addr, nil
}

// IsClosed returns true if the transport is closed
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
