package network

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines an interface for the UDP socket operations the bridge
// needs. The abstraction enables unit testing without real multicast
// membership.
type UDPSocket interface {
	// ReadFromUDP reads a single datagram from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends a datagram to the given address.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory creates sockets joined to a multicast group. Injected
// so tests can substitute mock sockets and so bind failures can be
// simulated.
type UDPSocketFactory interface {
	// ListenMulticastUDP binds to gaddr's port and joins its group on the
	// default interface.
	ListenMulticastUDP(network string, gaddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocket wraps *net.UDPConn to implement UDPSocket.
type RealUDPSocket struct {
	conn *net.UDPConn
}

// NewRealUDPSocket wraps an existing *net.UDPConn.
func NewRealUDPSocket(conn *net.UDPConn) *RealUDPSocket {
	return &RealUDPSocket{conn: conn}
}

// ReadFromUDP reads from the UDP connection.
func (r *RealUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	return r.conn.ReadFromUDP(b)
}

// WriteToUDP writes to the given address.
func (r *RealUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(b, addr)
}

// SetReadBuffer sets the receive buffer size.
func (r *RealUDPSocket) SetReadBuffer(bytes int) error {
	return r.conn.SetReadBuffer(bytes)
}

// SetReadDeadline sets the read deadline.
func (r *RealUDPSocket) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

// Close closes the UDP connection.
func (r *RealUDPSocket) Close() error {
	return r.conn.Close()
}

// LocalAddr returns the local network address.
func (r *RealUDPSocket) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenMulticastUDP.
type RealUDPSocketFactory struct{}

// NewRealUDPSocketFactory creates a new RealUDPSocketFactory.
func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

// ListenMulticastUDP joins the multicast group on the default interface.
func (f *RealUDPSocketFactory) ListenMulticastUDP(network string, gaddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenMulticastUDP(network, nil, gaddr)
	if err != nil {
		return nil, err
	}
	return NewRealUDPSocket(conn), nil
}

// MockUDPSocket implements UDPSocket for testing.
type MockUDPSocket struct {
	// Packets holds the datagrams to return from ReadFromUDP.
	Packets []MockUDPPacket
	// ReadIndex tracks the current position in Packets.
	ReadIndex int
	// Sent records every WriteToUDP call.
	Sent []MockSentPacket
	// Closed indicates whether Close was called.
	Closed bool
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// ReadDeadline holds the value set by SetReadDeadline.
	ReadDeadline time.Time
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// ReadError is returned on the next ReadFromUDP call if set.
	ReadError error
	// WriteError is returned by WriteToUDP if set.
	WriteError error
}

// MockUDPPacket represents an inbound datagram for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockSentPacket records an outbound datagram.
type MockSentPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets []MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("239.255.42.99"),
			Port: 1510,
		},
	}
}

// ReadFromUDP returns the next packet from the mock buffer, or a timeout
// error once the buffer is exhausted.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		return 0, nil, &net.OpError{
			Op:  "read",
			Net: "udp",
			Err: &timeoutError{},
		}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n = copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

// WriteToUDP records the outbound datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Sent = append(m.Sent, MockSentPacket{
		Data: append([]byte(nil), b...),
		Addr: addr,
	})
	return len(b), nil
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline records the deadline.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	m.ReadDeadline = t
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// Enqueue appends an inbound datagram for a later ReadFromUDP.
func (m *MockUDPSocket) Enqueue(data []byte) {
	m.Packets = append(m.Packets, MockUDPPacket{Data: append([]byte(nil), data...)})
}

// MockUDPSocketFactory implements UDPSocketFactory for testing. The mutex
// makes SetError and CallCount safe to use while a bridge goroutine is
// binding.
type MockUDPSocketFactory struct {
	// Sockets are returned from successive ListenMulticastUDP calls. The
	// last entry is reused once the slice is exhausted.
	Sockets []*MockUDPSocket
	// Error is returned by ListenMulticastUDP if set.
	Error error
	// ListenCalls records all ListenMulticastUDP calls.
	ListenCalls []MockListenCall

	mu   sync.Mutex
	next int
}

// MockListenCall records a call to ListenMulticastUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// NewMockUDPSocketFactory creates a factory returning the given sockets
// in order.
func NewMockUDPSocketFactory(sockets ...*MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Sockets: sockets}
}

// ListenMulticastUDP returns the next configured mock socket.
func (f *MockUDPSocketFactory) ListenMulticastUDP(network string, gaddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListenCalls = append(f.ListenCalls, MockListenCall{
		Network: network,
		Addr:    gaddr,
	})
	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Sockets) == 0 {
		return nil, net.ErrClosed
	}
	sock := f.Sockets[f.next]
	if f.next < len(f.Sockets)-1 {
		f.next++
	}
	return sock, nil
}

// SetError changes the injected bind error.
func (f *MockUDPSocketFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Error = err
}

// CallCount returns the number of ListenMulticastUDP calls so far.
func (f *MockUDPSocketFactory) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ListenCalls)
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
