// Package network provides the UDP multicast transport the bridge uses to
// talk to a NatNet server: a socket joined to the server's data group plus
// unicast-style sends to its command port.
package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// DefaultReceiveBuffer is the socket receive buffer requested on bind.
// Mocap frames are small but bursty; a generous buffer rides out
// scheduling hiccups without drops.
const DefaultReceiveBuffer = 1024 * 1024

// pollDeadline bounds a single TryReceive. Short enough that the caller's
// loop stays responsive, long enough not to spin.
const pollDeadline = time.Millisecond

const maxDatagramSize = 64 * 1024

// MulticastClient is a UDP endpoint bound to the mocap server's data port
// and multicast group. Commands are sent to the group address at the
// server's command port; telemetry arrives on the joined group.
type MulticastClient struct {
	sock        UDPSocket
	commandAddr *net.UDPAddr
	buf         []byte
}

// MulticastClientConfig contains the parameters for joining a server's
// data stream.
type MulticastClientConfig struct {
	DataPort         int
	CommandPort      int
	MulticastAddress string
	ReceiveBuffer    int
	// SocketFactory is optional; tests substitute mock sockets.
	SocketFactory UDPSocketFactory
}

// NewMulticastClient joins the configured multicast group and prepares the
// command destination. The bind itself is the only fallible step; a
// failure leaves nothing open.
func NewMulticastClient(config MulticastClientConfig) (*MulticastClient, error) {
	group := net.ParseIP(config.MulticastAddress)
	if group == nil {
		return nil, fmt.Errorf("invalid multicast address %q", config.MulticastAddress)
	}
	if !group.IsMulticast() {
		return nil, fmt.Errorf("address %q is not a multicast group", config.MulticastAddress)
	}

	factory := config.SocketFactory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}

	sock, err := factory.ListenMulticastUDP("udp", &net.UDPAddr{
		IP:   group,
		Port: config.DataPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join multicast group %s:%d: %w",
			config.MulticastAddress, config.DataPort, err)
	}

	rcvBuf := config.ReceiveBuffer
	if rcvBuf == 0 {
		rcvBuf = DefaultReceiveBuffer
	}
	if err := sock.SetReadBuffer(rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer size to %d: %v", rcvBuf, err)
	}

	return &MulticastClient{
		sock: sock,
		commandAddr: &net.UDPAddr{
			IP:   group,
			Port: config.CommandPort,
		},
		buf: make([]byte, maxDatagramSize),
	}, nil
}

// Send transmits a command payload to the server's command port.
func (c *MulticastClient) Send(payload []byte) (int, error) {
	return c.sock.WriteToUDP(payload, c.commandAddr)
}

// TryReceive polls for one datagram without blocking beyond a short
// deadline. It returns (nil, nil) when nothing is pending; that is the
// normal "no new data yet" case, not an error. The returned slice is an
// owned copy.
func (c *MulticastClient) TryReceive() ([]byte, error) {
	if err := c.sock.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, _, err := c.sock.ReadFromUDP(c.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

// LocalAddr returns the bound address.
func (c *MulticastClient) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// Close releases the socket. Safe to call on an already-closed client.
func (c *MulticastClient) Close() error {
	if c.sock == nil {
		return nil
	}
	sock := c.sock
	c.sock = nil
	return sock.Close()
}
