// Package publish maps decoded rigid bodies onto consumer-facing pose
// events and fans them out: a target set decides which bodies are
// published under which names, and a hub broadcasts the resulting events
// to subscribers (log writers, UDP forwarders).
package publish

import (
	"math"
	"time"

	"github.com/arena-data/mocap.bridge/internal/db"
	"github.com/arena-data/mocap.bridge/internal/mocap"
)

// Target binds one rigid body ID to a published name, together with the
// coordinate convention negotiated for the epoch.
type Target struct {
	Name        string
	RigidBodyID int32
	// ConvertYUp rotates poses from the server's y-up convention into
	// z-up before publishing.
	ConvertYUp bool
}

// BuildTargets converts stored publisher configs into the target set for
// one epoch. It is a pure function of the protocol version and the raw
// configs: servers streaming NatNet 2.0 or newer use a y-up coordinate
// convention and their poses are rotated to z-up on the way out. The
// result is immutable until the next epoch.
func BuildTargets(ver mocap.Version, configs []db.PublisherConfig) []Target {
	targets := make([]Target, 0, len(configs))
	convert := ver.AtLeast(2, 0)
	for _, c := range configs {
		if !c.Enabled {
			continue
		}
		targets = append(targets, Target{
			Name:        c.Name,
			RigidBodyID: int32(c.RigidBodyID),
			ConvertYUp:  convert,
		})
	}
	return targets
}

// Pose2D is the planar projection of a pose: position on the ground
// plane plus heading.
type Pose2D struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// PoseEvent is one published pose for one target.
type PoseEvent struct {
	Target        string           `json:"target"`
	BodyID        int32            `json:"body_id"`
	Timestamp     time.Time        `json:"-"`
	Position      mocap.Vec3       `json:"position"`
	Orientation   mocap.Quaternion `json:"orientation"`
	Planar        Pose2D           `json:"planar"`
	MeanError     float64          `json:"mean_error,omitempty"`
	TrackingValid bool             `json:"tracking_valid"`
}

// makeEvent builds the event for one body/target pair, applying the
// target's coordinate conversion and deriving the planar projection.
func makeEvent(t Target, body mocap.RigidBody, ts time.Time) PoseEvent {
	pos := body.Position
	ori := body.Orientation
	if t.ConvertYUp {
		pos, ori = yUpToZUp(pos, ori)
	}
	return PoseEvent{
		Target:        t.Name,
		BodyID:        body.ID,
		Timestamp:     ts,
		Position:      pos,
		Orientation:   ori,
		Planar:        Pose2D{X: pos.X, Y: pos.Y, Yaw: yaw(ori)},
		MeanError:     body.MeanError,
		TrackingValid: body.TrackingValid,
	}
}

// yUpToZUp rotates a pose from the server's y-up frame into z-up:
// x stays, the old -z becomes y, the old y becomes z.
func yUpToZUp(p mocap.Vec3, q mocap.Quaternion) (mocap.Vec3, mocap.Quaternion) {
	return mocap.Vec3{X: p.X, Y: -p.Z, Z: p.Y},
		mocap.Quaternion{X: q.X, Y: -q.Z, Z: q.Y, W: q.W}
}

// yaw extracts the heading around the vertical axis from a z-up
// quaternion.
func yaw(q mocap.Quaternion) float64 {
	return math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
}
