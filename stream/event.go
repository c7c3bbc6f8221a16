// Package stream provides the tagged Event union and SSE writer shared
// by the Orchestrator's streaming synthesis, the Reasoning Engine's
// thinking/response classification, and the Agent Loop's progress
// events. Grounded on the teacher's ui/transports/sse package: same
// "event: <type>\ndata: <json>\n\n" wire format and flusher-based
// writer, generalized from chat-agent session events to Hydra's own
// event kinds.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind tags an Event so the UI can render thinking, response, tool, and
// lifecycle events distinctly.
type Kind string

const (
	KindMetadata       Kind = "metadata"
	KindThinking       Kind = "thinking"
	KindResponse       Kind = "response"
	KindToolBegin      Kind = "tool_begin"
	KindToolEnd        Kind = "tool_end"
	KindStateTransition Kind = "state_transition"
	KindError          Kind = "error"
	KindDone           Kind = "done"
)

// Event is one frame of a streamed operation.
type Event struct {
	Kind Kind         `json:"kind"`
	Data interface{} `json:"data"`
}

// Writer streams Events to an http.ResponseWriter as Server-Sent Events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for SSE output. It returns an error if the
// underlying ResponseWriter doesn't support flushing mid-response.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one Event frame and flushes it immediately.
func (sw *Writer) Send(kind Kind, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", kind, payload); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Done sends the terminal event, signaling the client to close the
// connection.
func (sw *Writer) Done() error {
	return sw.Send(KindDone, map[string]bool{"finished": true})
}

// Error sends an error event; the caller should stop writing afterward.
func (sw *Writer) Error(err error) error {
	return sw.Send(KindError, map[string]string{"message": err.Error()})
}
