// Package deck implements the consumer-side state for one playback deck:
// a FIFO of pending samples, a retained full-history buffer for replay, and
// the bookkeeping the mixer loop needs to decide when a deck is ready,
// exhausted, or stalled. It owns no locks — the mixer goroutine is the only
// caller, matching the single-threaded ownership model in the spec.
package deck

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/doubledeck/mixengine/internal/eventlog"
	"github.com/doubledeck/mixengine/internal/pcm"
)

// Name identifies one of the two decks. A third sentinel value appears in
// the original engine's buffer-ready comparisons ("C", meaning "neither
// deck active") but no command can produce it; this package only
// constructs A and B, so that case is unreachable by construction.
type Name string

const (
	A Name = "A"
	B Name = "B"
)

// Starter launches a decoder pipeline for url and returns the channel it
// will deliver float-sample chunks on. Injected so the mixer and tests
// never depend on the concrete subprocess-based decoder directly — the
// same seam the teacher uses for its injectable CaptionFunc/NameFunc.
type Starter func(url string, name Name, cancel *atomic.Bool) <-chan []float32

// Deck holds one playback unit's sample queue and lifecycle state.
type Deck struct {
	Name Name

	samples []float32 // queue of pending samples; head is the consumed cursor
	head    int
	full    []float32 // every sample ever received since the last load, for replay

	isLoading bool
	hasEnded  bool

	recv <-chan []float32 // nil when no producer is attached

	totalSamplesRead    int
	realSamplesReceived int
	samplesPlayed       int

	approachingEndSent bool

	cancel *atomic.Bool

	loadStartedAt *time.Time

	log *eventlog.Logger
}

// New creates an idle deck with no attached producer.
func New(name Name, log *eventlog.Logger) *Deck {
	return &Deck{Name: name, log: log}
}

// Load cancels any decoder already attached to this deck, clears all
// retained samples and counters, and attaches a fresh one via start.
func (d *Deck) Load(url string, start Starter) {
	if d.cancel != nil {
		d.cancel.Store(true)
	}

	d.samples = nil
	d.head = 0
	d.full = nil
	d.totalSamplesRead = 0
	d.realSamplesReceived = 0
	d.samplesPlayed = 0
	d.hasEnded = false
	d.approachingEndSent = false
	d.isLoading = true

	now := time.Now()
	d.loadStartedAt = &now

	cancel := new(atomic.Bool)
	d.cancel = cancel
	d.recv = start(url, d.Name, cancel)
}

// Cancel signals any attached decoder to abort. Go has no destructors, so
// callers must invoke this explicitly before discarding a Deck value (the
// mixer does this in StopDeck and whenever it replaces a deck outright).
func (d *Deck) Cancel() {
	if d.cancel != nil {
		d.cancel.Store(true)
	}
}

// PollReceiver drains every immediately-available chunk from the attached
// decoder channel without blocking, appending each to both the pending
// queue and the full-history buffer. If the channel has disconnected, it
// latches HasEnded and detaches the receiver.
func (d *Deck) PollReceiver() {
	if d.recv == nil {
		return
	}
	chunksReceived := 0
	for {
		select {
		case chunk, ok := <-d.recv:
			if !ok {
				if !d.hasEnded {
					d.hasEnded = true
				}
				d.recv = nil
				if d.log != nil {
					d.log.Emit(eventlog.Info, fmt.Sprintf(
						"deck %s receiver closed: %d chunks received, %d samples buffered",
						d.Name, chunksReceived, d.queueLen()))
				}
				return
			}
			chunksReceived++
			d.realSamplesReceived += len(chunk)
			if d.loadStartedAt != nil {
				d.loadStartedAt = nil
			}
			d.full = append(d.full, chunk...)
			d.samples = append(d.samples, chunk...)
		default:
			return
		}
	}
}

// Next returns the next sample for mix output. It polls the receiver first.
// The returned bool is false only when the deck is fully exhausted and has
// nothing left to offer — including silence; true means a sample (possibly
// 0.0 silence padding while still loading) was produced.
func (d *Deck) Next() (float32, bool) {
	d.PollReceiver()

	if v, ok := d.popFront(); ok {
		d.samplesPlayed++
		d.totalSamplesRead++
		return v, true
	}

	if d.hasEnded {
		return 0, false
	}

	// Post-restart exhaustion: no producer left and we've already played
	// something, so there is no more data coming — surface as ended.
	if d.recv == nil && d.samplesPlayed > 0 {
		d.hasEnded = true
		return 0, false
	}

	d.totalSamplesRead++
	return 0, true
}

// IsReadyForCrossfade reports whether at least 0.5s of stereo audio is
// queued.
func (d *Deck) IsReadyForCrossfade() bool {
	return d.queueLen() >= pcm.CrossfadeReadyThreshold
}

// Restart replays the deck from its retained full-history buffer without
// re-fetching, resetting play-position counters.
func (d *Deck) Restart() {
	d.samples = append([]float32(nil), d.full...)
	d.head = 0
	d.samplesPlayed = 0
	d.totalSamplesRead = 0
}

// QueueLen returns the number of samples currently queued for playback.
func (d *Deck) QueueLen() int { return d.queueLen() }

// HasEnded reports whether the decoder channel has disconnected.
func (d *Deck) HasEnded() bool { return d.hasEnded }

// HasReceiver reports whether a decoder is still attached.
func (d *Deck) HasReceiver() bool { return d.recv != nil }

// Exhausted reports the "decoder finished and nothing left queued" state
// the mixer uses to gate approaching_end/end/auto-gapless decisions.
func (d *Deck) Exhausted() bool { return d.hasEnded && d.recv == nil }

// SamplesPlayed returns the count of samples actually delivered to output.
func (d *Deck) SamplesPlayed() int { return d.samplesPlayed }

// ResetSamplesPlayed zeroes the played counter — done whenever this deck
// becomes (or resumes being) the active deck.
func (d *Deck) ResetSamplesPlayed() { d.samplesPlayed = 0 }

// ApproachingEndSent reports whether the approaching_end latch has fired.
func (d *Deck) ApproachingEndSent() bool { return d.approachingEndSent }

// SetApproachingEndSent sets or clears the approaching_end latch.
func (d *Deck) SetApproachingEndSent(v bool) { d.approachingEndSent = v }

// FullSamplesLen reports the size of the retained replay buffer.
func (d *Deck) FullSamplesLen() int { return len(d.full) }

// LoadStalled reports whether this deck's current load has gone at least
// since seconds without receiving a single byte of real data.
func (d *Deck) LoadStalled(since time.Duration) bool {
	if d.loadStartedAt == nil {
		return false
	}
	return time.Since(*d.loadStartedAt) >= since
}

func (d *Deck) queueLen() int { return len(d.samples) - d.head }

func (d *Deck) popFront() (float32, bool) {
	if d.head >= len(d.samples) {
		return 0, false
	}
	v := d.samples[d.head]
	d.head++
	// Compact once the consumed prefix dominates the backing array so a
	// long-running deck doesn't retain an ever-growing slice.
	if d.head > 4096 && d.head*2 > len(d.samples) {
		d.samples = append([]float32(nil), d.samples[d.head:]...)
		d.head = 0
	}
	return v, true
}
