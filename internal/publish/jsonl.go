package publish

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// JSONLWriter consumes pose events from a hub subscription and writes one
// JSON record per line.
type JSONLWriter struct {
	enc *json.Encoder
}

type jsonlRecord struct {
	TS string `json:"ts"`
	PoseEvent
}

// NewJSONLWriter creates a writer emitting to w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

// Consume drains events until ctx is cancelled or the channel closes.
// Encode errors are swallowed; a broken log sink must not stop the
// pipeline.
func (j *JSONLWriter) Consume(ctx context.Context, in <-chan PoseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			_ = j.enc.Encode(jsonlRecord{
				TS:        ev.Timestamp.UTC().Format(time.RFC3339Nano),
				PoseEvent: ev,
			})
		}
	}
}
