// Package eventlog emits the line-delimited JSON event stream the external
// controller consumes on standard error.
package eventlog

import (
	"encoding/json"
	"io"
	"sync"
)

// Event names the seven load-bearing lifecycle events the controller relies
// on for precise ordering, plus the informational kinds used for chatter.
type Event string

const (
	Info             Event = "info"
	Debug            Event = "debug"
	Error            Event = "error"
	StreamError      Event = "stream_error"
	StreamOpened     Event = "stream_opened"
	BufferReady      Event = "buffer_ready"
	CrossfadeStarted Event = "crossfade_started"
	DeckChanged      Event = "deck_changed"
	ApproachingEnd   Event = "approaching_end"
	End              Event = "end"
	AutoEndSwitch    Event = "auto_end_switch"
	AutoLoopRestart  Event = "auto_loop_restart"
	DeckRestarted    Event = "deck_restarted"
)

type message struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Logger serializes {"event":..., "data":...} records to an underlying
// writer, one per line. Safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// New wraps w (typically os.Stderr) as an event emitter.
func New(w io.Writer) *Logger {
	return &Logger{enc: json.NewEncoder(w)}
}

// Emit writes one event record. Write failures are ignored: a disconnected
// controller must never take down the mixer loop.
func (l *Logger) Emit(event Event, data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(message{Event: string(event), Data: data})
}
