package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arena-data/mocap.bridge/internal/mocap"
)

func collectEvents(ch <-chan PoseEvent) []PoseEvent {
	var events []PoseEvent
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestDispatcherFiltersByBodyID(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	_, ch := hub.Subscribe()

	d := NewDispatcher([]Target{
		{Name: "robot", RigidBodyID: 1},
		{Name: "tool", RigidBodyID: 3},
	}, hub)
	require.Equal(t, 2, d.TargetCount())

	d.Publish(time.Now(), []mocap.RigidBody{
		{ID: 1, Position: mocap.Vec3{X: 1}},
		{ID: 2, Position: mocap.Vec3{X: 2}}, // no target, dropped
		{ID: 3, Position: mocap.Vec3{X: 3}},
	})

	events := collectEvents(ch)
	require.Len(t, events, 2)
	assert.Equal(t, "robot", events[0].Target)
	assert.Equal(t, int32(1), events[0].BodyID)
	assert.Equal(t, "tool", events[1].Target)
	assert.Equal(t, int32(3), events[1].BodyID)
}

func TestDispatcherMultipleTargetsPerBody(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	_, ch := hub.Subscribe()

	d := NewDispatcher([]Target{
		{Name: "robot", RigidBodyID: 1},
		{Name: "robot_alias", RigidBodyID: 1},
	}, hub)

	d.Publish(time.Now(), []mocap.RigidBody{{ID: 1}})

	events := collectEvents(ch)
	require.Len(t, events, 2)
	names := []string{events[0].Target, events[1].Target}
	assert.ElementsMatch(t, []string{"robot", "robot_alias"}, names)
}

func TestDispatcherEmptyFrame(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	_, ch := hub.Subscribe()

	d := NewDispatcher([]Target{{Name: "robot", RigidBodyID: 1}}, hub)
	d.Publish(time.Now(), nil)
	d.Publish(time.Now(), []mocap.RigidBody{})

	assert.Empty(t, collectEvents(ch))
}

func TestDispatcherNoTargets(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	_, ch := hub.Subscribe()

	d := NewDispatcher(nil, hub)
	assert.Equal(t, 0, d.TargetCount())

	d.Publish(time.Now(), []mocap.RigidBody{{ID: 1}})
	assert.Empty(t, collectEvents(ch))
}
