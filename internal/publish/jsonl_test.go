package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/arena-data/mocap.bridge/internal/mocap"
)

func TestJSONLWriterConsume(t *testing.T) {
	var buf bytes.Buffer
	writer := NewJSONLWriter(&buf)

	ts := time.Date(2026, 8, 30, 12, 0, 0, 500000000, time.UTC)
	in := make(chan PoseEvent, 2)
	in <- PoseEvent{
		Target:        "robot",
		BodyID:        1,
		Timestamp:     ts,
		Position:      mocap.Vec3{X: 1.5, Y: -2, Z: 0.25},
		Orientation:   mocap.Quaternion{W: 1},
		Planar:        Pose2D{X: 1.5, Y: -2, Yaw: 0},
		TrackingValid: true,
	}
	in <- PoseEvent{Target: "tool", BodyID: 3, Timestamp: ts}
	close(in)

	writer.Consume(context.Background(), in)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("First line is not valid JSON: %v", err)
	}
	if record["target"] != "robot" {
		t.Errorf("Expected target 'robot', got %v", record["target"])
	}
	if record["ts"] != "2026-08-30T12:00:00.5Z" {
		t.Errorf("Unexpected timestamp %v", record["ts"])
	}
	if record["tracking_valid"] != true {
		t.Errorf("Expected tracking_valid true, got %v", record["tracking_valid"])
	}
	if _, ok := record["position"]; !ok {
		t.Error("Expected position field")
	}
	// The raw time.Time field is excluded from the JSON encoding; only
	// the formatted ts string is published.
	if _, ok := record["Timestamp"]; ok {
		t.Error("Raw timestamp field should not be encoded")
	}
}

func TestJSONLWriterStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	writer := NewJSONLWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan PoseEvent)
	done := make(chan struct{})
	go func() {
		writer.Consume(ctx, in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after context cancellation")
	}
}
