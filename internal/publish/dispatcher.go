package publish

import (
	"log"
	"time"

	"github.com/arena-data/mocap.bridge/internal/bridge"
	"github.com/arena-data/mocap.bridge/internal/db"
	"github.com/arena-data/mocap.bridge/internal/mocap"
)

// Dispatcher filters each frame's rigid bodies through a target set and
// broadcasts the matching poses. One is built per connection epoch, once
// the protocol version is known; the target set does not change for the
// dispatcher's lifetime.
type Dispatcher struct {
	byBodyID map[int32][]Target
	hub      *Hub
}

// NewDispatcher builds a dispatcher over a fixed target set.
func NewDispatcher(targets []Target, hub *Hub) *Dispatcher {
	byID := make(map[int32][]Target, len(targets))
	for _, t := range targets {
		byID[t.RigidBodyID] = append(byID[t.RigidBodyID], t)
	}
	return &Dispatcher{byBodyID: byID, hub: hub}
}

// Publish emits one pose event per (body, matching target) pair. Bodies
// with no target are dropped; an empty frame is a valid no-op.
func (d *Dispatcher) Publish(ts time.Time, bodies []mocap.RigidBody) {
	for _, body := range bodies {
		for _, t := range d.byBodyID[body.ID] {
			d.hub.Broadcast(makeEvent(t, body, ts))
		}
	}
}

// TargetCount returns the number of configured targets.
func (d *Dispatcher) TargetCount() int {
	n := 0
	for _, ts := range d.byBodyID {
		n += len(ts)
	}
	return n
}

// NewDispatcherFactory returns the epoch dispatcher constructor the
// bridge calls when a handshake completes: it reads the enabled publisher
// configs and binds them to the epoch's protocol version. A config store
// error yields a dispatcher with no targets rather than a stalled
// connection.
func NewDispatcherFactory(database *db.DB, hub *Hub) bridge.DispatcherFactory {
	return func(ver mocap.Version) bridge.Dispatcher {
		configs, err := database.GetEnabledPublisherConfigs()
		if err != nil {
			log.Printf("failed to load publisher configs, publishing nothing: %v", err)
		}
		targets := BuildTargets(ver, configs)
		log.Printf("publisher targets built: %d targets for NatNet %s", len(targets), ver)
		return NewDispatcher(targets, hub)
	}
}
