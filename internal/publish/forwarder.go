package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// PoseForwarder sends pose events as JSON datagrams to a downstream
// consumer. Forwarding is asynchronous with a bounded queue: a slow or
// absent consumer drops events instead of backing up the dispatch path.
type PoseForwarder struct {
	conn        *net.UDPConn
	channel     chan PoseEvent
	logInterval time.Duration
	address     string
	closeOnce   sync.Once
}

// NewPoseForwarder creates a forwarder sending to addr:port.
func NewPoseForwarder(addr string, port int, logInterval time.Duration) (*PoseForwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	udpAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	if logInterval == 0 {
		logInterval = time.Minute
	}

	return &PoseForwarder{
		conn:        conn,
		channel:     make(chan PoseEvent, 1000),
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Start begins the forwarding goroutine. Send failures are counted and
// reported at the log interval rather than per event.
func (f *PoseForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()
		defer f.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-f.channel:
				payload, err := json.Marshal(jsonlRecord{
					TS:        ev.Timestamp.UTC().Format(time.RFC3339Nano),
					PoseEvent: ev,
				})
				if err == nil {
					_, err = f.conn.Write(payload)
				}
				if err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					log.Printf("Dropped %d forwarded pose events due to errors (latest: %v)",
						droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	log.Printf("Forwarding pose events to %s", f.address)
}

// Close releases the forwarding socket. Required when Start is never
// called; safe to call more than once.
func (f *PoseForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.conn.Close()
	})
	return err
}

// ForwardAsync queues an event without blocking; a full queue drops it.
func (f *PoseForwarder) ForwardAsync(ev PoseEvent) {
	select {
	case f.channel <- ev:
	default:
	}
}

// Consume bridges a hub subscription into the forwarder.
func (f *PoseForwarder) Consume(ctx context.Context, in <-chan PoseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			f.ForwardAsync(ev)
		}
	}
}
