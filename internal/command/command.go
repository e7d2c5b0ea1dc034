// Package command decodes the JSON control protocol read from standard
// input and forwards it to the mixer over a bounded channel.
package command

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/doubledeck/mixengine/internal/eventlog"
)

// Op names one of the mixer's supported operations.
type Op string

const (
	OpLoad                  Op = "load"
	OpPlay                  Op = "play"
	OpStopDeck              Op = "stop_deck"
	OpCrossfade             Op = "crossfade"
	OpSetProactiveCrossfade Op = "set_proactive_crossfade"
	OpSetLoop               Op = "set_loop"
	OpSkipTo                Op = "skip_to"
	OpApproveProposal       Op = "approve_proposal"
	OpRestartDeck           Op = "restart_deck"
	OpPauseAll              Op = "pause_all"
	OpResumeAll             Op = "resume_all"
	OpStop                  Op = "stop"
)

// Command is the decoded shape of every JSON object on the control
// protocol. Fields are a union of every op's payload; only the fields
// relevant to Op are meaningful for a given command.
type Command struct {
	Op Op `json:"op"`

	URL      string `json:"url,omitempty"`
	Deck     string `json:"deck,omitempty"`
	Autoplay *bool  `json:"autoplay,omitempty"`

	DurationMs uint64 `json:"duration_ms,omitempty"`
	ToDeck     string `json:"to_deck,omitempty"`

	Enabled bool `json:"enabled,omitempty"`

	TargetDeck string `json:"target_deck,omitempty"`
	NewDeck    string `json:"new_deck,omitempty"`
}

// AutoplayOrDefault returns the autoplay flag on a load command, defaulting
// to true when the field was omitted, matching the protocol's default.
func (c Command) AutoplayOrDefault() bool {
	if c.Autoplay == nil {
		return true
	}
	return *c.Autoplay
}

// Stream reads self-delimiting JSON command objects from r until it is
// exhausted or ctx-like cancellation closes done, forwarding each decoded
// command on out. Framing does not rely on newlines or any other
// separator between values — only on balanced braces — so whitespace
// (including none at all) between commands is accepted.
//
// A malformed object is dropped (with only a debug event on log, when log
// is non-nil); because object boundaries are
// located by brace-depth tracking rather than by the JSON decoder itself,
// a decode failure on one object never desynchronizes framing for the
// next one.
func Stream(r io.Reader, out chan<- Command, log *eventlog.Logger, done <-chan struct{}) {
	scanner := newObjectScanner(r)
	for {
		raw, err := scanner.Next()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			if log != nil {
				log.Emit(eventlog.Debug, "dropped malformed command")
			}
			continue
		}
		select {
		case out <- cmd:
		case <-done:
			return
		}
	}
}

// objectScanner extracts one balanced top-level JSON object at a time from
// a byte stream, skipping whitespace and any stray bytes that precede a
// recognizable object start so a bad command can never wedge the stream.
type objectScanner struct {
	br *bufio.Reader
}

func newObjectScanner(r io.Reader) *objectScanner {
	return &objectScanner{br: bufio.NewReaderSize(r, 4096)}
}

func (s *objectScanner) Next() ([]byte, error) {
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if isJSONSpace(b) {
			continue
		}
		if b != '{' {
			// Not the start of an object: drop it and keep looking for
			// the next plausible boundary rather than failing the stream.
			continue
		}
		return s.readObject(b)
	}
}

func (s *objectScanner) readObject(first byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(first)
	depth := 1
	inString := false
	escaped := false
	for {
		b, err := s.br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf.Bytes(), nil
			}
		}
	}
}

func isJSONSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
