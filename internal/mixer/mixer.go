// Package mixer implements the single-threaded real-time state machine
// that drains the two decks, applies crossfade/skip/loop/auto-gapless
// policy, and emits one PCM chunk per iteration along with the lifecycle
// events the controller depends on.
package mixer

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/doubledeck/mixengine/internal/command"
	"github.com/doubledeck/mixengine/internal/deck"
	"github.com/doubledeck/mixengine/internal/eventlog"
	"github.com/doubledeck/mixengine/internal/pcm"
)

// TriggeredBy enumerates the full set of reasons a deck_changed event can
// name, matching the original engine's complete taxonomy rather than the
// abbreviated set spec prose calls out by example.
type TriggeredBy string

const (
	PlayCommand         TriggeredBy = "play_command"
	PendingSkip         TriggeredBy = "pending_skip"
	SkipCommand         TriggeredBy = "skip_command"
	CrossfadeCompletion TriggeredBy = "crossfade_completion"
	CrossfadeSnap       TriggeredBy = "crossfade_snap"
	AutoGaplessStall    TriggeredBy = "auto_gapless_stall"
	AutoGapless         TriggeredBy = "auto_gapless"
	MidChunkAutoGapless TriggeredBy = "mid_chunk_auto_gapless"
)

// ErrStop is returned by Run when the stop command is processed.
var ErrStop = errors.New("mixer: stop command received")

type pendingTransition struct {
	target      deck.Name
	since       time.Time
	isCrossfade bool
	durationMs  uint64
}

type autoGaplessStall struct {
	target deck.Name
	since  time.Time
}

// Mixer owns both decks and every piece of transition state. It is not
// safe for concurrent use: Run's goroutine is meant to be the only caller,
// matching the spec's single mixer thread.
type Mixer struct {
	decks map[deck.Name]*deck.Deck
	start deck.Starter
	log   *eventlog.Logger
	out   io.Writer
	tap   func([]float32)

	cmds <-chan command.Command

	activeDeck deck.Name

	crossfading    bool
	crossfadeTotal int
	crossfadeLeft  int
	targetDeck     deck.Name

	proactiveCrossfadeTriggered bool
	proactiveCrossfadeEnabled   bool
	loopMode                    bool
	isPlaying                   bool

	pendingTransition *pendingTransition
	autoGaplessStall  *autoGaplessStall

	bufferPrevReady map[deck.Name]bool
	endSent         map[deck.Name]bool

	bufferMonitorCounter int
	lastStatusLog        time.Time

	statusMu sync.RWMutex
	status   Status
}

// Status is a snapshot of mixer state safe to read from any goroutine,
// refreshed once per loop iteration. Grounded on the teacher's
// autodj.Scheduler.Status() pattern: an RWMutex-guarded copy rather than
// exposing the live, single-threaded-owned fields.
type Status struct {
	ActiveDeck         string `json:"active_deck"`
	Crossfading        bool   `json:"crossfading"`
	LoopMode           bool   `json:"loop_mode"`
	Playing            bool   `json:"playing"`
	ProactiveCrossfade bool   `json:"proactive_crossfade"`
	PendingTransition  bool   `json:"pending_transition"`
}

// New builds a mixer with two idle decks, A as the default active deck
// as in the original engine, proactive crossfading enabled, and playback
// paused until a play/resume_all command arrives.
func New(log *eventlog.Logger, start deck.Starter, cmds <-chan command.Command, out io.Writer) *Mixer {
	return &Mixer{
		decks: map[deck.Name]*deck.Deck{
			deck.A: deck.New(deck.A, log),
			deck.B: deck.New(deck.B, log),
		},
		start:                     start,
		log:                       log,
		out:                       out,
		cmds:                      cmds,
		activeDeck:                deck.A,
		proactiveCrossfadeEnabled: true,
		bufferPrevReady:           map[deck.Name]bool{deck.A: false, deck.B: false},
		endSent:                   map[deck.Name]bool{deck.A: false, deck.B: false},
		lastStatusLog:             time.Now(),
	}
}

// SetMonitorTap registers a callback invoked with every emitted chunk's
// float samples, in addition to the PCM written to out. Used to feed the
// monitor subsystem without altering the stdout contract.
func (m *Mixer) SetMonitorTap(tap func([]float32)) {
	m.tap = tap
}

// Status returns a thread-safe snapshot of the mixer's current state, for
// the monitor subsystem's status endpoint.
func (m *Mixer) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

func (m *Mixer) refreshStatus() {
	m.statusMu.Lock()
	m.status = Status{
		ActiveDeck:         string(m.activeDeck),
		Crossfading:        m.crossfading,
		LoopMode:           m.loopMode,
		Playing:            m.isPlaying,
		ProactiveCrossfade: m.proactiveCrossfadeEnabled,
		PendingTransition:  m.pendingTransition != nil,
	}
	m.statusMu.Unlock()
}

// Run drives the mixer loop until ctx is cancelled or a stop command is
// processed, in which case it returns ErrStop.
func (m *Mixer) Run(ctx context.Context) error {
	w := bufio.NewWriterSize(m.out, pcm.ChunkBytes)
	chunk := make([]int16, pcm.ChunkSamples)

	m.logEmit(eventlog.Info, "mixer ready")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stop, err := m.drainCommands(ctx)
		if stop {
			return err
		}

		m.decks[deck.A].PollReceiver()
		m.decks[deck.B].PollReceiver()

		m.resolveAutoGaplessStall()
		m.resolvePendingTransition()

		m.bufferMonitorCounter++
		if m.bufferMonitorCounter >= 5 {
			m.bufferMonitorCounter = 0
			m.detectBufferReady()
		}

		m.refreshStatus()

		if !m.isPlaying {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		if m.autoGaplessStall != nil {
			for i := range chunk {
				chunk[i] = 0
			}
			m.writeChunk(w, chunk)
			continue
		}

		m.maybeTriggerProactiveCrossfade()

		res := m.synthesizeChunk(chunk)
		m.writeChunk(w, chunk)

		m.detectApproachingEnd()

		if res.autoSwitchTo != "" || res.loopRestarted {
			m.flushMidChunkEvents(res.autoSwitchTo, res.loopRestarted)
		} else {
			m.postChunkAutoGapless(res.hasAudio)
		}

		m.maybeLogStatus()
	}
}

func (m *Mixer) drainCommands(ctx context.Context) (bool, error) {
	for {
		select {
		case cmd, ok := <-m.cmds:
			if !ok {
				return false, nil
			}
			if m.apply(cmd) {
				return true, ErrStop
			}
		case <-ctx.Done():
			return true, ctx.Err()
		default:
			return false, nil
		}
	}
}

// apply mutates mixer state per cmd.Op and returns true only for the stop
// command.
func (m *Mixer) apply(cmd command.Command) bool {
	switch cmd.Op {
	case command.OpLoad:
		m.applyLoad(cmd)
	case command.OpPlay:
		m.applyPlay(deck.Name(cmd.Deck))
	case command.OpStopDeck:
		m.applyStopDeck(deck.Name(cmd.Deck))
	case command.OpCrossfade:
		m.applyCrossfade(deck.Name(cmd.ToDeck), cmd.DurationMs)
	case command.OpSetProactiveCrossfade:
		m.proactiveCrossfadeEnabled = cmd.Enabled
		m.logEmit(eventlog.Info, fmt.Sprintf("proactive crossfade: %s", onOff(cmd.Enabled)))
	case command.OpSetLoop:
		m.loopMode = cmd.Enabled
		m.logEmit(eventlog.Info, fmt.Sprintf("loop mode: %s", onOff(cmd.Enabled)))
	case command.OpSkipTo:
		m.applySkipTo(deck.Name(cmd.TargetDeck))
	case command.OpApproveProposal:
		m.applyApproveProposal(deck.Name(cmd.NewDeck))
	case command.OpRestartDeck:
		m.applyRestartDeck(deck.Name(cmd.Deck))
	case command.OpPauseAll:
		m.isPlaying = false
		m.logEmit(eventlog.Info, "paused all playback")
	case command.OpResumeAll:
		m.isPlaying = true
		m.logEmit(eventlog.Info, "resumed all playback")
	case command.OpStop:
		return true
	}
	return false
}

func (m *Mixer) applyLoad(cmd command.Command) {
	name := deck.Name(cmd.Deck)
	if !isValidDeck(name) {
		return
	}

	if m.crossfading && name == m.activeDeck {
		m.logEmit(eventlog.Info, fmt.Sprintf("load on crossfade source deck -> snap to %s", m.targetDeck))
		m.crossfading = false
		m.proactiveCrossfadeTriggered = false
		m.crossfadeLeft = 0
		m.crossfadeTotal = 0
		m.activeDeck = m.targetDeck
		m.decks[m.activeDeck].ResetSamplesPlayed()
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", m.activeDeck, CrossfadeSnap))
	}

	m.decks[name].Load(cmd.URL, m.start)
	m.resetEdgeLatches(name)

	verb := "Preload"
	if cmd.AutoplayOrDefault() {
		verb = "Load"
	}
	m.logEmit(eventlog.Info, fmt.Sprintf("%s on deck %s", verb, name))
}

func (m *Mixer) applyPlay(name deck.Name) {
	if !isValidDeck(name) {
		return
	}
	m.activeDeck = name
	m.crossfading = false
	m.proactiveCrossfadeTriggered = false
	m.isPlaying = true
	m.autoGaplessStall = nil
	m.decks[name].ResetSamplesPlayed()
	m.logEmit(eventlog.Info, fmt.Sprintf("play deck %s", name))
	m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", name, PlayCommand))
}

func (m *Mixer) applyStopDeck(name deck.Name) {
	if !isValidDeck(name) {
		return
	}
	m.autoGaplessStall = nil
	m.logEmit(eventlog.Debug, fmt.Sprintf("stopping deck %s", name))

	m.decks[name].Cancel()
	m.decks[name] = deck.New(name, m.log)
	m.resetEdgeLatches(name)

	if name == m.activeDeck {
		m.isPlaying = false
		m.logEmit(eventlog.Info, fmt.Sprintf("playback stopped on deck %s", name))
	}
}

func (m *Mixer) applyCrossfade(to deck.Name, durationMs uint64) {
	if !isValidDeck(to) {
		return
	}
	m.autoGaplessStall = nil
	if to == m.activeDeck || m.crossfading {
		return
	}

	m.decks[to].PollReceiver()
	targetReady := m.decks[to].IsReadyForCrossfade()
	downloadDone := !m.decks[to].HasReceiver() && m.decks[to].QueueLen() > 0

	if targetReady || downloadDone {
		m.beginCrossfade(to, int(durationMs)*pcm.SampleRate/1000*pcm.Channels)
	} else {
		m.pendingTransition = &pendingTransition{target: to, since: time.Now(), isCrossfade: true, durationMs: durationMs}
		m.logEmit(eventlog.Info, "crossfade pending: target deck not ready")
	}
}

func (m *Mixer) applySkipTo(target deck.Name) {
	if !isValidDeck(target) {
		return
	}
	m.autoGaplessStall = nil
	if target == m.activeDeck {
		return
	}

	m.logEmit(eventlog.Info, fmt.Sprintf("skip: %s -> %s", m.activeDeck, target))

	m.decks[target].PollReceiver()
	targetReady := m.decks[target].IsReadyForCrossfade()
	downloadDone := !m.decks[target].HasReceiver() && m.decks[target].QueueLen() > 0

	if targetReady || downloadDone {
		m.logEmit(eventlog.BufferReady, string(target))

		old := m.activeDeck
		m.decks[old].Cancel()
		m.decks[old] = deck.New(old, m.log)
		m.resetEdgeLatches(old)

		m.activeDeck = target
		m.crossfading = false
		m.proactiveCrossfadeTriggered = false
		m.crossfadeLeft = 0
		m.crossfadeTotal = 0
		m.isPlaying = true
		m.pendingTransition = nil
		m.decks[target].ResetSamplesPlayed()

		m.logEmit(eventlog.Info, fmt.Sprintf("skip immediate -> deck %s", target))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", target, SkipCommand))
	} else {
		m.pendingTransition = &pendingTransition{target: target, since: time.Now(), isCrossfade: false}
		m.logEmit(eventlog.Info, fmt.Sprintf("skip pending: deck %s not ready", target))
	}
}

func (m *Mixer) applyApproveProposal(newDeck deck.Name) {
	if !isValidDeck(newDeck) {
		return
	}
	if newDeck == m.activeDeck || !m.proactiveCrossfadeTriggered {
		return
	}
	m.logEmit(eventlog.Info, fmt.Sprintf("approved deck proposal: %s -> %s", m.activeDeck, newDeck))
	m.beginCrossfade(newDeck, pcm.TransitionCrossfadeSamples)
	m.proactiveCrossfadeTriggered = false
	m.logEmit(eventlog.Info, "starting crossfade from approved proposal")
}

func (m *Mixer) applyRestartDeck(name deck.Name) {
	if !isValidDeck(name) {
		return
	}
	m.logEmit(eventlog.Info, fmt.Sprintf("restarting deck %s for replay (%d samples available)", name, m.decks[name].FullSamplesLen()))
	m.decks[name].Restart()
	m.resetEdgeLatches(name)
	m.logEmit(eventlog.DeckRestarted, fmt.Sprintf("deck=%s", name))
}

// beginCrossfade sets crossfade state and logs crossfade_started. Callers
// that should also clear proactiveCrossfadeTriggered do so themselves,
// matching the original engine's inconsistent-but-intentional handling:
// an explicit crossfade command never clears it, but approved proposals
// and pending-transition resolution do.
func (m *Mixer) beginCrossfade(to deck.Name, total int) {
	m.crossfading = true
	m.targetDeck = to
	m.crossfadeTotal = total
	m.crossfadeLeft = total
	m.pendingTransition = nil
	m.logEmit(eventlog.CrossfadeStarted, fmt.Sprintf("from=%s, to=%s", m.activeDeck, to))
}

func (m *Mixer) resetEdgeLatches(name deck.Name) {
	m.bufferPrevReady[name] = false
	m.endSent[name] = false
	m.decks[name].SetApproachingEndSent(false)
}

func (m *Mixer) resolveAutoGaplessStall() {
	stall := m.autoGaplessStall
	if stall == nil {
		return
	}

	m.decks[stall.target].PollReceiver()
	targetHasAudio := m.decks[stall.target].QueueLen() > 0
	timedOut := time.Since(stall.since) >= pcm.AutoGaplessStallTimeout

	switch {
	case targetHasAudio:
		m.logEmit(eventlog.Info, fmt.Sprintf("auto-gapless stall resolved after %s -> deck %s", time.Since(stall.since), stall.target))

		old := m.activeDeck
		m.decks[old].Cancel()
		m.decks[old] = deck.New(old, m.log)
		m.bufferPrevReady[old] = false
		m.decks[old].SetApproachingEndSent(false)

		m.activeDeck = stall.target
		m.decks[stall.target].ResetSamplesPlayed()

		m.logEmit(eventlog.AutoEndSwitch, string(stall.target))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", stall.target, AutoGaplessStall))
		m.autoGaplessStall = nil
	case timedOut:
		m.logEmit(eventlog.Info, fmt.Sprintf("auto-gapless stall timeout (%s) -> fallback end", pcm.AutoGaplessStallTimeout))
		m.logEmit(eventlog.End, string(m.activeDeck))
		m.autoGaplessStall = nil
	}
}

func (m *Mixer) resolvePendingTransition() {
	pt := m.pendingTransition
	if pt == nil {
		return
	}

	ready := m.decks[pt.target].IsReadyForCrossfade()
	rxDone := !m.decks[pt.target].HasReceiver() && m.decks[pt.target].QueueLen() > 0
	timedOut := time.Since(pt.since) >= pcm.PendingTransitionTimeout

	if !ready && !rxDone && !timedOut {
		return
	}

	m.logEmit(eventlog.Info, fmt.Sprintf(
		"pending %s executed after %s (ready=%t, done=%t, timeout=%t)",
		pendingKind(pt.isCrossfade), time.Since(pt.since), ready, rxDone, timedOut))

	target := pt.target
	if pt.isCrossfade {
		m.beginCrossfade(target, int(pt.durationMs)*pcm.SampleRate/1000*pcm.Channels)
		m.proactiveCrossfadeTriggered = false
	} else {
		old := m.activeDeck
		m.decks[old].Cancel()
		m.decks[old] = deck.New(old, m.log)
		m.resetEdgeLatches(old)

		m.activeDeck = target
		m.crossfading = false
		m.proactiveCrossfadeTriggered = false
		m.crossfadeLeft = 0
		m.crossfadeTotal = 0
		m.isPlaying = true
		m.decks[target].ResetSamplesPlayed()

		m.logEmit(eventlog.Info, fmt.Sprintf("skip complete -> deck %s", target))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", target, PendingSkip))
	}

	m.pendingTransition = nil
	m.logEmit(eventlog.BufferReady, string(target))
}

func (m *Mixer) detectBufferReady() {
	bReady := m.decks[deck.B].IsReadyForCrossfade()
	aReady := m.decks[deck.A].IsReadyForCrossfade()

	if m.activeDeck == deck.A && bReady && !m.bufferPrevReady[deck.B] {
		m.logEmit(eventlog.BufferReady, string(deck.B))
	}
	m.bufferPrevReady[deck.B] = bReady

	if m.activeDeck == deck.B && aReady && !m.bufferPrevReady[deck.A] {
		m.logEmit(eventlog.BufferReady, string(deck.A))
	}
	m.bufferPrevReady[deck.A] = aReady
}

func (m *Mixer) maybeTriggerProactiveCrossfade() {
	if m.crossfading || m.proactiveCrossfadeTriggered || !m.isPlaying || !m.proactiveCrossfadeEnabled {
		return
	}
	other := otherDeck(m.activeDeck)
	currentLen := m.decks[m.activeDeck].QueueLen()
	targetReady := m.decks[other].IsReadyForCrossfade()

	if currentLen < pcm.ProactiveThreshold && targetReady {
		m.logEmit(eventlog.Info, fmt.Sprintf("auto-crossfade: %s -> %s (buffer: %d samples, <3s remaining)", m.activeDeck, other, currentLen))
		m.crossfading = true
		m.targetDeck = other
		m.crossfadeTotal = pcm.TransitionCrossfadeSamples
		m.crossfadeLeft = m.crossfadeTotal
		m.proactiveCrossfadeTriggered = true
		m.logEmit(eventlog.CrossfadeStarted, fmt.Sprintf("from=%s, to=%s", m.activeDeck, other))
	}
}

type chunkResult struct {
	hasAudio      bool
	autoSwitchTo  deck.Name
	loopRestarted bool
}

// synthesizeChunk fills chunk with pcm.ChunkSamples clipped int16 values,
// advancing the crossfade by one step per mixed sample and attempting
// mid-chunk recovery at most once per chunk.
func (m *Mixer) synthesizeChunk(chunk []int16) chunkResult {
	var res chunkResult
	switchedThisChunk := false

	for i := 0; i < len(chunk); i++ {
		var out float32

		if m.crossfading {
			out = m.mixCrossfadeSample()
		} else {
			s, ok := m.decks[m.activeDeck].Next()
			if ok {
				out = s
			} else {
				out = m.recoverMidChunk(&res, &switchedThisChunk)
			}
		}

		if out > pcm.SilenceEpsilon || out < -pcm.SilenceEpsilon {
			res.hasAudio = true
		}
		chunk[i] = pcm.ClipToInt16(out)
	}

	return res
}

func (m *Mixer) mixCrossfadeSample() float32 {
	targetHasAudio := m.decks[m.targetDeck].QueueLen() > 0
	if !targetHasAudio {
		s, _ := m.decks[m.activeDeck].Next()
		return s
	}

	sA, _ := m.decks[deck.A].Next()
	sB, _ := m.decks[deck.B].Next()

	ratio := float32(m.crossfadeTotal-m.crossfadeLeft) / float32(m.crossfadeTotal)
	if m.crossfadeLeft > 0 {
		m.crossfadeLeft--
	}
	finished := m.crossfadeLeft == 0
	finalRatio := ratio
	if finished {
		finalRatio = 1.0
	}

	source := sA
	if m.activeDeck == deck.B {
		source = sB
	}
	target := sA
	if m.targetDeck == deck.B {
		target = sB
	}
	out := pcm.MixLinear(source, target, finalRatio)

	if finished {
		m.crossfading = false
		m.proactiveCrossfadeTriggered = false
		m.resetEdgeLatches(m.activeDeck)
		m.decks[m.targetDeck].ResetSamplesPlayed()
		m.activeDeck = m.targetDeck
		m.logEmit(eventlog.Info, fmt.Sprintf("crossfade completed, switched to %s", m.activeDeck))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", m.activeDeck, CrossfadeCompletion))
	}

	return out
}

// recoverMidChunk attempts the in-chunk loop-restart or auto-switch when
// the active deck runs dry partway through a chunk, bounded to at most one
// attempt per chunk via switchedThisChunk.
func (m *Mixer) recoverMidChunk(res *chunkResult, switchedThisChunk *bool) float32 {
	shouldTrySwitch := !m.crossfading && m.pendingTransition == nil && m.autoGaplessStall == nil && m.isPlaying
	active := m.decks[m.activeDeck]
	isExhausted := active.Exhausted()
	playedEnough := active.SamplesPlayed() >= pcm.MinPlayedForEnd

	if !(shouldTrySwitch && isExhausted && playedEnough && !*switchedThisChunk) {
		return 0
	}
	*switchedThisChunk = true

	if m.loopMode {
		active.Restart()
		active.SetApproachingEndSent(false)
		res.loopRestarted = true
		s, _ := active.Next()
		return s
	}

	other := otherDeck(m.activeDeck)
	if m.decks[other].QueueLen() == 0 {
		return 0
	}

	old := m.activeDeck
	m.decks[old].Cancel()
	m.decks[old] = deck.New(old, m.log)
	m.bufferPrevReady[old] = false
	m.decks[old].SetApproachingEndSent(false)

	m.activeDeck = other
	m.decks[other].ResetSamplesPlayed()
	res.autoSwitchTo = other

	s, _ := m.decks[other].Next()
	return s
}

func (m *Mixer) detectApproachingEnd() {
	if !m.isPlaying || m.crossfading {
		return
	}
	d := m.decks[m.activeDeck]
	if d.Exhausted() && !d.ApproachingEndSent() && d.QueueLen() < pcm.ApproachingEndThreshold {
		m.logEmit(eventlog.ApproachingEnd, string(m.activeDeck))
		d.SetApproachingEndSent(true)
	}
}

func (m *Mixer) flushMidChunkEvents(autoSwitchTo deck.Name, loopRestarted bool) {
	if loopRestarted {
		m.logEmit(eventlog.AutoLoopRestart, string(m.activeDeck))
		m.logEmit(eventlog.Info, fmt.Sprintf("mid-chunk auto-loop: deck %s restarted from cache", m.activeDeck))
		return
	}
	if autoSwitchTo != "" {
		m.logEmit(eventlog.AutoEndSwitch, string(autoSwitchTo))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", autoSwitchTo, MidChunkAutoGapless))
		m.logEmit(eventlog.Info, fmt.Sprintf("mid-chunk auto-gapless: instant switch -> deck %s", autoSwitchTo))
	}
}

func (m *Mixer) postChunkAutoGapless(hasAudio bool) {
	if hasAudio || m.crossfading || !m.isPlaying || m.pendingTransition != nil || m.autoGaplessStall != nil {
		return
	}
	active := m.activeDeck
	d := m.decks[active]
	shouldHandleEnd := d.Exhausted() && d.SamplesPlayed() >= pcm.MinPlayedForEnd && !m.endSent[active]
	if !shouldHandleEnd {
		return
	}
	m.endSent[active] = true

	if m.loopMode {
		d.Restart()
		d.SetApproachingEndSent(false)
		m.endSent[active] = false
		m.logEmit(eventlog.AutoLoopRestart, string(active))
		m.logEmit(eventlog.Info, fmt.Sprintf("auto-loop: deck %s restarted from cache", active))
		return
	}

	other := otherDeck(active)
	otherSamples := m.decks[other].QueueLen()
	otherHasReceiver := m.decks[other].HasReceiver()
	otherFull := m.decks[other].FullSamplesLen()

	m.logEmit(eventlog.Info, fmt.Sprintf(
		"auto-gapless check: other deck %s -> samples=%d, receiver=%t, full_samples=%d",
		other, otherSamples, otherHasReceiver, otherFull))

	if otherSamples > 0 {
		m.decks[active].Cancel()
		m.decks[active] = deck.New(active, m.log)
		m.bufferPrevReady[active] = false
		m.decks[active].SetApproachingEndSent(false)

		m.activeDeck = other
		m.decks[other].ResetSamplesPlayed()

		m.logEmit(eventlog.AutoEndSwitch, string(other))
		m.logEmit(eventlog.DeckChanged, fmt.Sprintf("deck=%s, triggered_by=%s", other, AutoGapless))
		m.logEmit(eventlog.Info, fmt.Sprintf("auto-gapless: instant switch -> deck %s", other))
		return
	}

	otherWasLoaded := otherHasReceiver || otherFull > 0
	switch {
	case otherHasReceiver:
		if m.decks[other].LoadStalled(pcm.StuckDownloadTimeout) {
			m.logEmit(eventlog.Error, fmt.Sprintf("auto-gapless: deck %s stuck downloading >30s with no data -> fallback end", other))
			m.logEmit(eventlog.End, string(active))
		} else {
			m.logEmit(eventlog.Info, fmt.Sprintf("auto-gapless stall: deck %s downloading, waiting for first data...", other))
			m.autoGaplessStall = &autoGaplessStall{target: other, since: time.Now()}
		}
	case otherWasLoaded:
		m.logEmit(eventlog.End, string(active))
		m.logEmit(eventlog.Debug, fmt.Sprintf("deck %s ended (other deck %s loaded but empty, full_samples=%d)", active, other, otherFull))
	default:
		m.logEmit(eventlog.End, string(active))
		m.logEmit(eventlog.Debug, fmt.Sprintf("deck %s ended (no next song preloaded)", active))
	}
}

func (m *Mixer) maybeLogStatus() {
	if time.Since(m.lastStatusLog) < 30*time.Second {
		return
	}
	m.lastStatusLog = time.Now()
	m.logEmit(eventlog.Debug, fmt.Sprintf(
		"status - active: %s, A: %ds played, B: %ds played, pending: %t",
		m.activeDeck,
		m.decks[deck.A].SamplesPlayed()/(pcm.SampleRate*pcm.Channels),
		m.decks[deck.B].SamplesPlayed()/(pcm.SampleRate*pcm.Channels),
		m.pendingTransition != nil))
}

func (m *Mixer) writeChunk(w *bufio.Writer, chunk []int16) {
	var buf [2]byte
	for _, s := range chunk {
		binary.LittleEndian.PutUint16(buf[:], uint16(s))
		if _, err := w.Write(buf[:]); err != nil {
			return
		}
	}
	w.Flush()

	if m.tap != nil {
		floats := make([]float32, len(chunk))
		for i, s := range chunk {
			floats[i] = pcm.SampleFromInt16(s)
		}
		m.tap(floats)
	}
}

func (m *Mixer) logEmit(ev eventlog.Event, data string) {
	if m.log == nil {
		return
	}
	m.log.Emit(ev, data)
}

func isValidDeck(name deck.Name) bool {
	return name == deck.A || name == deck.B
}

func otherDeck(name deck.Name) deck.Name {
	if name == deck.A {
		return deck.B
	}
	return deck.A
}

func pendingKind(isCrossfade bool) string {
	if isCrossfade {
		return "crossfade"
	}
	return "skip"
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
