package network

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func TestNewMulticastClientInvalidAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"not an ip", "not-an-ip"},
		{"empty", ""},
		{"unicast", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMulticastClient(MulticastClientConfig{
				DataPort:         1510,
				CommandPort:      1511,
				MulticastAddress: tt.addr,
				SocketFactory:    NewMockUDPSocketFactory(NewMockUDPSocket(nil)),
			})
			if err == nil {
				t.Fatalf("Expected error for address %q", tt.addr)
			}
		})
	}
}

func TestNewMulticastClientBindFailure(t *testing.T) {
	factory := &MockUDPSocketFactory{Error: errors.New("address in use")}
	_, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    factory,
	})
	if err == nil {
		t.Fatal("Expected bind error")
	}
	if len(factory.ListenCalls) != 1 {
		t.Fatalf("Expected 1 listen call, got %d", len(factory.ListenCalls))
	}
}

func TestNewMulticastClientBind(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	factory := NewMockUDPSocketFactory(sock)

	client, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    factory,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if len(factory.ListenCalls) != 1 {
		t.Fatalf("Expected 1 listen call, got %d", len(factory.ListenCalls))
	}
	call := factory.ListenCalls[0]
	if call.Network != "udp" {
		t.Errorf("Expected network 'udp', got %q", call.Network)
	}
	if call.Addr.Port != 1510 {
		t.Errorf("Expected data port 1510, got %d", call.Addr.Port)
	}
	if !call.Addr.IP.Equal(net.ParseIP("239.255.42.99")) {
		t.Errorf("Expected group 239.255.42.99, got %s", call.Addr.IP)
	}
	if sock.ReadBufferSize != DefaultReceiveBuffer {
		t.Errorf("Expected receive buffer %d, got %d", DefaultReceiveBuffer, sock.ReadBufferSize)
	}
}

func TestSendTargetsCommandPort(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	client, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    NewMockUDPSocketFactory(sock),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	payload := []byte{0x00, 0x00, 0x00, 0x00}
	n, err := client.Send(payload)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if n != len(payload) {
		t.Errorf("Expected %d bytes sent, got %d", len(payload), n)
	}

	if len(sock.Sent) != 1 {
		t.Fatalf("Expected 1 sent packet, got %d", len(sock.Sent))
	}
	sent := sock.Sent[0]
	if !bytes.Equal(sent.Data, payload) {
		t.Errorf("Sent payload mismatch: %v", sent.Data)
	}
	if sent.Addr.Port != 1511 {
		t.Errorf("Expected command port 1511, got %d", sent.Addr.Port)
	}
	if !sent.Addr.IP.Equal(net.ParseIP("239.255.42.99")) {
		t.Errorf("Expected command host 239.255.42.99, got %s", sent.Addr.IP)
	}
}

func TestTryReceive(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	sock.Enqueue([]byte{0x01, 0x02, 0x03})

	client, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    NewMockUDPSocketFactory(sock),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	buf, err := client.TryReceive()
	if err != nil {
		t.Fatalf("TryReceive failed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Unexpected datagram %v", buf)
	}
	if sock.ReadDeadline.IsZero() {
		t.Error("Expected a read deadline to be set")
	}

	// Exhausted queue reads back as a timeout, which is not an error.
	buf, err = client.TryReceive()
	if err != nil {
		t.Fatalf("Expected nil error on timeout, got %v", err)
	}
	if buf != nil {
		t.Errorf("Expected nil buffer on timeout, got %v", buf)
	}
}

func TestTryReceiveSocketError(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	sock.ReadError = errors.New("connection refused")

	client, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    NewMockUDPSocketFactory(sock),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	if _, err := client.TryReceive(); err == nil {
		t.Fatal("Expected non-timeout socket error to surface")
	}
}

func TestCloseIdempotent(t *testing.T) {
	sock := NewMockUDPSocket(nil)
	client, err := NewMulticastClient(MulticastClientConfig{
		DataPort:         1510,
		CommandPort:      1511,
		MulticastAddress: "239.255.42.99",
		SocketFactory:    NewMockUDPSocketFactory(sock),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sock.Closed {
		t.Error("Expected underlying socket to be closed")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
