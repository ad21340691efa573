package natnet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arena-data/mocap.bridge/internal/mocap"
)

// FRAME-OF-DATA PAYLOAD (little-endian, layout depends on NatNet version):
// ├── int32 frame number
// ├── int32 marker set count
// │   └── per set: NUL-terminated name, int32 marker count, markers × 3 float32
// ├── int32 unlabeled marker count, markers × 3 float32
// └── int32 rigid body count
//     └── per body: int32 id, 3 float32 position, 4 float32 quaternion (x,y,z,w)
//         ├── < 3.0: int32 attached marker count, markers × 3 float32,
//         │   and for >= 2.0 also per-marker int32 ids + float32 sizes
//         ├── >= 2.0: float32 mean marker error
//         └── >= 2.6: uint16 params (bit 0 = tracking valid)
//
// Skeletons, labeled markers, and everything after the rigid body section
// carry nothing the bridge publishes, so the remainder is ignored.

// frameReader is a bounds-checked cursor over a frame payload. Every read
// fails with ErrShortMessage instead of panicking on truncated data.
type frameReader struct {
	buf []byte
	off int
}

func (r *frameReader) remain() int { return len(r.buf) - r.off }

func (r *frameReader) skip(n int) error {
	if n < 0 || r.remain() < n {
		return fmt.Errorf("%w: skip %d with %d remaining", ErrShortMessage, n, r.remain())
	}
	r.off += n
	return nil
}

func (r *frameReader) int32() (int32, error) {
	if r.remain() < 4 {
		return 0, fmt.Errorf("%w: int32 at offset %d", ErrShortMessage, r.off)
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *frameReader) uint16() (uint16, error) {
	if r.remain() < 2 {
		return 0, fmt.Errorf("%w: uint16 at offset %d", ErrShortMessage, r.off)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *frameReader) float32() (float32, error) {
	if r.remain() < 4 {
		return 0, fmt.Errorf("%w: float32 at offset %d", ErrShortMessage, r.off)
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

// cstring advances past a NUL-terminated string and returns it.
func (r *frameReader) cstring() (string, error) {
	for i := r.off; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.off:i])
			r.off = i + 1
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at offset %d", ErrShortMessage, r.off)
}

// decodeFrame parses a frame-of-data payload into a Frame. Marker data is
// skipped over; only rigid bodies are materialized.
func decodeFrame(payload []byte, ver mocap.Version) (mocap.Frame, error) {
	r := &frameReader{buf: payload}
	var frame mocap.Frame

	number, err := r.int32()
	if err != nil {
		return frame, err
	}
	frame.Number = number

	if err := skipMarkerSets(r); err != nil {
		return frame, err
	}

	// Unlabeled markers: count then xyz triples.
	unlabeled, err := r.int32()
	if err != nil {
		return frame, err
	}
	if err := skipCounted(r, unlabeled, 12); err != nil {
		return frame, err
	}

	bodyCount, err := r.int32()
	if err != nil {
		return frame, err
	}
	if bodyCount < 0 {
		return frame, fmt.Errorf("natnet: negative rigid body count %d", bodyCount)
	}

	frame.RigidBodies = make([]mocap.RigidBody, 0, bodyCount)
	for i := int32(0); i < bodyCount; i++ {
		body, err := decodeRigidBody(r, ver)
		if err != nil {
			return frame, fmt.Errorf("rigid body %d: %w", i, err)
		}
		frame.RigidBodies = append(frame.RigidBodies, body)
	}

	return frame, nil
}

func decodeRigidBody(r *frameReader, ver mocap.Version) (mocap.RigidBody, error) {
	var body mocap.RigidBody

	id, err := r.int32()
	if err != nil {
		return body, err
	}
	body.ID = id

	var pose [7]float32
	for i := range pose {
		v, err := r.float32()
		if err != nil {
			return body, err
		}
		pose[i] = v
	}
	body.Position = mocap.Vec3{X: float64(pose[0]), Y: float64(pose[1]), Z: float64(pose[2])}
	body.Orientation = mocap.Quaternion{
		X: float64(pose[3]), Y: float64(pose[4]), Z: float64(pose[5]), W: float64(pose[6]),
	}

	// Servers older than 3.0 stream the body's attached markers inline.
	if !ver.AtLeast(3, 0) {
		markers, err := r.int32()
		if err != nil {
			return body, err
		}
		if err := skipCounted(r, markers, 12); err != nil {
			return body, err
		}
		if ver.AtLeast(2, 0) {
			// Per-marker ids then per-marker sizes.
			if err := skipCounted(r, markers, 4); err != nil {
				return body, err
			}
			if err := skipCounted(r, markers, 4); err != nil {
				return body, err
			}
		}
	}

	if ver.AtLeast(2, 0) {
		meanErr, err := r.float32()
		if err != nil {
			return body, err
		}
		body.MeanError = float64(meanErr)
	}

	if ver.AtLeast(2, 6) {
		params, err := r.uint16()
		if err != nil {
			return body, err
		}
		body.TrackingValid = params&0x01 != 0
	} else {
		// Older servers have no validity bit; trust every pose.
		body.TrackingValid = true
	}

	return body, nil
}

func skipMarkerSets(r *frameReader) error {
	sets, err := r.int32()
	if err != nil {
		return err
	}
	for i := int32(0); i < sets; i++ {
		if _, err := r.cstring(); err != nil {
			return err
		}
		markers, err := r.int32()
		if err != nil {
			return err
		}
		if err := skipCounted(r, markers, 12); err != nil {
			return err
		}
	}
	return nil
}

// skipCounted skips count records of size bytes each, rejecting negative
// counts from malformed payloads.
func skipCounted(r *frameReader, count int32, size int) error {
	if count < 0 {
		return fmt.Errorf("natnet: negative count %d", count)
	}
	return r.skip(int(count) * size)
}
