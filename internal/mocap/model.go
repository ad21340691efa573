// Package mocap defines the in-memory model for motion-capture data
// received from a NatNet server: protocol versions, rigid body poses,
// and the single mutable frame slot the bridge decodes into.
package mocap

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a NatNet-style four-part protocol version.
type Version struct {
	Major    uint8
	Minor    uint8
	Build    uint8
	Revision uint8
}

// NewVersion constructs a Version from the wire encoding (four bytes,
// major first).
func NewVersion(b [4]byte) Version {
	return Version{Major: b[0], Minor: b[1], Build: b[2], Revision: b[3]}
}

// AtLeast reports whether the version is >= major.minor.
func (v Version) AtLeast(major, minor uint8) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// ParseVersion parses a dotted version string with one to four parts
// ("3.0" or "3.0.0.0"). Missing parts are zero.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	var fields [4]uint8
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		fields[i] = uint8(n)
	}
	return NewVersion(fields), nil
}

// ServerInfo holds the versions advertised by the mocap server. It is
// write-once per connection epoch: the bridge trusts no frame data until
// it is present, and it does not change until the next reconfiguration.
type ServerInfo struct {
	AppName       string
	ServerVersion Version
	NatNetVersion Version
}

// Vec3 is a position in meters.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation in (x, y, z, w) order as streamed by NatNet.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// RigidBody is one tracked object in a frame: a stable identifier plus a
// 6-DOF pose. MeanError and TrackingValid are only populated for server
// versions that stream them.
type RigidBody struct {
	ID            int32
	Position      Vec3
	Orientation   Quaternion
	MeanError     float64
	TrackingValid bool
}

// Frame is one discrete update of all tracked rigid bodies.
type Frame struct {
	Number      int32
	RigidBodies []RigidBody
}

// DataModel is the single mutable slot the decode loop writes into. It is
// not a queue: each cycle overwrites the frame and clears it after
// dispatch. It must only be touched from the bridge's polling goroutine;
// consumers receive owned copies via RigidBodySnapshot.
type DataModel struct {
	serverInfo *ServerInfo
	Frame      Frame
}

// NewDataModel returns an empty model with no server info.
func NewDataModel() *DataModel {
	return &DataModel{}
}

// HasServerInfo reports whether a server-info message has been decoded or
// a version hint applied for the current epoch.
func (m *DataModel) HasServerInfo() bool {
	return m.serverInfo != nil
}

// ServerInfo returns the current server info, or nil before the handshake
// has completed.
func (m *DataModel) ServerInfo() *ServerInfo {
	return m.serverInfo
}

// NatNetVersion returns the negotiated protocol version. It must only be
// called once HasServerInfo reports true; the bridge's state machine
// guarantees that ordering.
func (m *DataModel) NatNetVersion() Version {
	return m.serverInfo.NatNetVersion
}

// SetServerInfo records the versions advertised by the server. Server
// info is write-once per epoch: later messages (a server restart
// mid-epoch, or a redundant response) do not overwrite it.
func (m *DataModel) SetServerInfo(info ServerInfo) {
	if m.serverInfo != nil {
		return
	}
	m.serverInfo = &info
}

// SetVersions seeds both versions from a single hint, used when the
// server's protocol version is known out-of-band and no server-info
// message needs to be observed.
func (m *DataModel) SetVersions(v Version) {
	m.serverInfo = &ServerInfo{ServerVersion: v, NatNetVersion: v}
}

// Clear empties the frame slot to prepare for the next cycle. It never
// touches server info and calling it twice is the same as calling it once.
func (m *DataModel) Clear() {
	m.Frame = Frame{}
}

// Reset drops both the frame and the server info. Used on reconfiguration
// when a new epoch begins.
func (m *DataModel) Reset() {
	m.Frame = Frame{}
	m.serverInfo = nil
}

// RigidBodySnapshot returns an owned copy of the current frame's rigid
// bodies. The copy is unaffected by a later Clear or decode, so it is safe
// to hand to a dispatcher running concurrently.
func (m *DataModel) RigidBodySnapshot() []RigidBody {
	if len(m.Frame.RigidBodies) == 0 {
		return []RigidBody{}
	}
	out := make([]RigidBody, len(m.Frame.RigidBodies))
	copy(out, m.Frame.RigidBodies)
	return out
}
