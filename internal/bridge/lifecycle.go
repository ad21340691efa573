// Package bridge drives the connection to a NatNet motion-capture server:
// a small state machine that binds the multicast transport, handshakes
// until the server's protocol version is known, then polls for frames and
// dispatches rigid body poses. The polling loop is the single owner of
// the socket and the data model; reconfiguration from other goroutines is
// routed into the loop as a message so no lifecycle state is ever shared
// mid-update.
package bridge

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arena-data/mocap.bridge/internal/mocap"
	"github.com/arena-data/mocap.bridge/internal/natnet"
	"github.com/arena-data/mocap.bridge/internal/network"
)

// State describes where the lifecycle currently is.
type State int32

const (
	// StateDisabled means no transport is bound and nothing is polled.
	StateDisabled State = iota
	// StateHandshaking means the transport is bound and connect requests
	// are being sent until the server's version is known.
	StateHandshaking
	// StateStreaming means frames are being decoded and dispatched.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Default pacing. The handshake backs off hard when the server is silent
// (it may simply not be running yet) and polls eagerly once packets flow.
const (
	DefaultHandshakeSettle = 10 * time.Millisecond
	DefaultHandshakeRetry  = time.Second
	DefaultPollInterval    = 100 * time.Microsecond
)

// ConnectionConfig describes one connection to a mocap server. It is
// replaced wholesale on reconfiguration, never partially updated.
type ConnectionConfig struct {
	Enabled          bool
	CommandPort      int
	DataPort         int
	MulticastAddress string
	// VersionHint pre-seeds the server's protocol version when it is
	// known out-of-band, skipping the wait for a server-info message.
	VersionHint *mocap.Version
}

// Dispatcher receives one timestamped rigid body list per decoded frame.
// The slice handed to Publish is an owned copy; implementations may hold
// it past the call.
type Dispatcher interface {
	Publish(ts time.Time, bodies []mocap.RigidBody)
}

// DispatcherFactory builds the dispatcher for an epoch once the server's
// protocol version is known. Some target encodings depend on the version,
// so construction cannot happen earlier.
type DispatcherFactory func(ver mocap.Version) Dispatcher

// BridgeConfig contains construction options for a Bridge.
type BridgeConfig struct {
	Connection    ConnectionConfig
	NewDispatcher DispatcherFactory
	SocketFactory network.UDPSocketFactory
	ReceiveBuffer int

	// Pacing overrides, zero means default. Tests shrink these.
	HandshakeSettle time.Duration
	HandshakeRetry  time.Duration
	PollInterval    time.Duration
}

type reconfigRequest struct {
	cfg  ConnectionConfig
	done chan error
}

// Bridge owns the connection lifecycle. All socket and model access
// happens on the goroutine running Run; Reconfigure and Status are the
// only concurrency-safe entry points.
type Bridge struct {
	newDispatcher DispatcherFactory
	socketFactory network.UDPSocketFactory
	rcvBuf        int

	settle time.Duration
	retry  time.Duration
	poll   time.Duration

	// Poll-goroutine-only state.
	connCfg    ConnectionConfig
	model      *mocap.DataModel
	client     *network.MulticastClient
	dispatcher Dispatcher

	state    atomic.Int32
	frames   atomic.Uint64
	packets  atomic.Uint64
	reconfig chan reconfigRequest

	statusMu   sync.RWMutex
	epochID    string
	serverInfo *mocap.ServerInfo
	statusCfg  ConnectionConfig
}

// NewBridge creates an unstarted Bridge. The initial connection config is
// applied when Run starts.
func NewBridge(config BridgeConfig) *Bridge {
	settle := config.HandshakeSettle
	if settle == 0 {
		settle = DefaultHandshakeSettle
	}
	retry := config.HandshakeRetry
	if retry == 0 {
		retry = DefaultHandshakeRetry
	}
	poll := config.PollInterval
	if poll == 0 {
		poll = DefaultPollInterval
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = network.NewRealUDPSocketFactory()
	}

	b := &Bridge{
		newDispatcher: config.NewDispatcher,
		socketFactory: socketFactory,
		rcvBuf:        config.ReceiveBuffer,
		settle:        settle,
		retry:         retry,
		poll:          poll,
		connCfg:       config.Connection,
		model:         mocap.NewDataModel(),
		reconfig:      make(chan reconfigRequest),
	}
	b.statusCfg = config.Connection
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Run executes the polling loop until ctx is cancelled. It applies the
// initial connection config, then cycles: check shutdown and pending
// reconfigurations, take one step of the current state. The loop never
// exits because of server unavailability.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.apply(b.connCfg); err != nil {
		// Bind failures are not fatal: the handshake step retries the
		// bind until the socket comes up or the config changes.
		log.Printf("initial connection setup failed (will retry): %v", err)
	}
	defer b.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-b.reconfig:
			req.done <- b.apply(req.cfg)
			continue
		default:
		}

		switch b.State() {
		case StateDisabled:
			// Nothing to poll. Block until something changes.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req := <-b.reconfig:
				req.done <- b.apply(req.cfg)
			}
		case StateHandshaking:
			b.handshakeStep(ctx)
		case StateStreaming:
			b.streamStep(ctx)
		}
	}
}

// Reconfigure replaces the active connection config. It blocks until the
// polling loop has torn down the old epoch and applied the new one, so on
// return the caller observes a fully reset lifecycle. The previous config
// is restored when the new one cannot be bound.
func (b *Bridge) Reconfigure(ctx context.Context, cfg ConnectionConfig) error {
	req := reconfigRequest{cfg: cfg, done: make(chan error, 1)}
	select {
	case b.reconfig <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply tears down the current epoch and starts one for cfg. Runs on the
// polling goroutine only.
func (b *Bridge) apply(cfg ConnectionConfig) error {
	prev := b.connCfg
	prevActive := b.client != nil

	// Old transport is closed before any new bind: two descriptions never
	// hold sockets at the same time.
	b.teardown()
	b.connCfg = cfg
	b.setStatusConfig(cfg)

	if !cfg.Enabled {
		log.Printf("mocap connection disabled")
		return nil
	}

	if err := b.bind(cfg); err != nil {
		if prevActive && prev.Enabled {
			// Reconfiguration is all-or-nothing: fall back to the config
			// that was working rather than leaving no transport at all.
			b.connCfg = prev
			b.setStatusConfig(prev)
			if rbErr := b.bind(prev); rbErr != nil {
				log.Printf("rollback to previous connection failed (will retry): %v", rbErr)
				b.state.Store(int32(StateHandshaking))
			}
		} else {
			// Nothing to roll back to; keep retrying the new config.
			b.state.Store(int32(StateHandshaking))
		}
		return err
	}
	return nil
}

// bind joins the multicast group for cfg and starts a new epoch. On
// return the bridge is Handshaking, or already Streaming when a version
// hint made the handshake unnecessary.
func (b *Bridge) bind(cfg ConnectionConfig) error {
	client, err := network.NewMulticastClient(network.MulticastClientConfig{
		DataPort:         cfg.DataPort,
		CommandPort:      cfg.CommandPort,
		MulticastAddress: cfg.MulticastAddress,
		ReceiveBuffer:    b.rcvBuf,
		SocketFactory:    b.socketFactory,
	})
	if err != nil {
		return err
	}

	b.client = client
	b.model.Reset()
	if cfg.VersionHint != nil {
		b.model.SetVersions(*cfg.VersionHint)
	}

	epoch := uuid.New().String()
	b.statusMu.Lock()
	b.epochID = epoch
	b.serverInfo = nil
	b.statusMu.Unlock()

	b.state.Store(int32(StateHandshaking))
	log.Printf("mocap connection bound: group=%s data=%d command=%d epoch=%s",
		cfg.MulticastAddress, cfg.DataPort, cfg.CommandPort, epoch)

	if b.model.HasServerInfo() {
		// Version known out-of-band; no server-info message needed.
		b.finishHandshake()
	}
	return nil
}

// handshakeStep performs one iteration of the handshake: (re)bind if the
// socket is missing, send a connect request, poll for a response. This is
// an unbounded retry; the server may not be running yet and there is no
// higher-level supervisor to hand the problem to.
func (b *Bridge) handshakeStep(ctx context.Context) {
	if b.client == nil {
		if err := b.bind(b.connCfg); err != nil {
			log.Printf("bind failed, retrying: %v", err)
			b.pause(ctx, b.retry)
			return
		}
		if b.State() == StateStreaming {
			return
		}
	}

	if _, err := b.client.Send(natnet.EncodeConnectRequest()); err != nil {
		log.Printf("connect request send failed: %v", err)
	}

	buf, err := b.client.TryReceive()
	if err != nil {
		log.Printf("handshake receive error: %v", err)
		b.pause(ctx, b.retry)
		return
	}
	if buf == nil {
		b.pause(ctx, b.retry)
		return
	}

	b.packets.Add(1)
	// Decode misses are not fatal; keep asking until server info lands.
	if _, err := natnet.Decode(buf, b.model); err != nil {
		b.pause(ctx, b.settle)
		return
	}
	if b.model.HasServerInfo() {
		b.finishHandshake()
		return
	}
	b.pause(ctx, b.settle)
}

// finishHandshake promotes the epoch to Streaming and builds the
// dispatcher now that the protocol version is known.
func (b *Bridge) finishHandshake() {
	info := b.model.ServerInfo()

	b.statusMu.Lock()
	infoCopy := *info
	b.serverInfo = &infoCopy
	b.statusMu.Unlock()

	if b.newDispatcher != nil {
		b.dispatcher = b.newDispatcher(info.NatNetVersion)
	}
	b.state.Store(int32(StateStreaming))
	log.Printf("mocap initialization complete: server=%s natnet=%s",
		info.ServerVersion, info.NatNetVersion)
}

// streamStep performs one iteration of the steady-state loop: poll,
// decode, dispatch, clear. An empty poll is the normal case, not an
// error; malformed datagrams are dropped without comment.
func (b *Bridge) streamStep(ctx context.Context) {
	buf, err := b.client.TryReceive()
	switch {
	case err != nil:
		// Socket-level errors mid-stream (server restart, transient
		// network trouble) are survivable; keep polling.
		log.Printf("stream receive error: %v", err)
	case buf != nil:
		b.packets.Add(1)
		id, derr := natnet.Decode(buf, b.model)
		if derr == nil && id == natnet.MsgFrameOfData {
			bodies := b.model.RigidBodySnapshot()
			if b.dispatcher != nil {
				b.dispatcher.Publish(time.Now(), bodies)
			}
			b.frames.Add(1)
			b.model.Clear()
		}
	}
	b.pause(ctx, b.poll)
}

// teardown releases the current epoch's resources. Runs on the polling
// goroutine (or after Run has returned).
func (b *Bridge) teardown() {
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			log.Printf("warning: failed to close multicast client: %v", err)
		}
		b.client = nil
	}
	b.model.Reset()
	b.dispatcher = nil
	b.state.Store(int32(StateDisabled))

	b.statusMu.Lock()
	b.epochID = ""
	b.serverInfo = nil
	b.statusMu.Unlock()
}

// pause sleeps for d, returning early on shutdown so a pending pacing
// interval bounds reconfiguration and shutdown latency rather than
// blocking them.
func (b *Bridge) pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (b *Bridge) setStatusConfig(cfg ConnectionConfig) {
	b.statusMu.Lock()
	b.statusCfg = cfg
	b.statusMu.Unlock()
}

// Status is a point-in-time snapshot of the lifecycle for the admin API.
type Status struct {
	State            string `json:"state"`
	EpochID          string `json:"epoch_id,omitempty"`
	Enabled          bool   `json:"enabled"`
	MulticastAddress string `json:"multicast_address,omitempty"`
	DataPort         int    `json:"data_port,omitempty"`
	CommandPort      int    `json:"command_port,omitempty"`
	ServerVersion    string `json:"server_version,omitempty"`
	NatNetVersion    string `json:"natnet_version,omitempty"`
	PacketsReceived  uint64 `json:"packets_received"`
	FramesDispatched uint64 `json:"frames_dispatched"`
}

// Status returns a snapshot safe to read from any goroutine.
func (b *Bridge) Status() Status {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()

	s := Status{
		State:            b.State().String(),
		EpochID:          b.epochID,
		Enabled:          b.statusCfg.Enabled,
		MulticastAddress: b.statusCfg.MulticastAddress,
		DataPort:         b.statusCfg.DataPort,
		CommandPort:      b.statusCfg.CommandPort,
		PacketsReceived:  b.packets.Load(),
		FramesDispatched: b.frames.Load(),
	}
	if b.serverInfo != nil {
		s.ServerVersion = b.serverInfo.ServerVersion.String()
		s.NatNetVersion = b.serverInfo.NatNetVersion.String()
	}
	return s
}
