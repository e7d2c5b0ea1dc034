// Package pcm holds the fixed audio constants and sample-level arithmetic
// shared by the decoder, deck, and mixer packages: sample rate, chunk
// sizing, PCM byte encoding, and linear crossfade mixing.
package pcm

import "time"

const (
	SampleRate = 48000
	Channels   = 2

	// ChunkSamples is the number of interleaved stereo samples the mixer
	// emits per iteration (480 frames * 2). The durations quoted for the
	// sample counts in this block, ChunkPeriod included, count SampleRate
	// interleaved samples as one second, so the real stereo playing time
	// of each count is half its quoted duration.
	ChunkSamples = 960
	ChunkBytes   = ChunkSamples * 2 // int16 = 2 bytes per sample
	ChunkPeriod  = 20 * time.Millisecond

	// DecoderBatchSamples is the decoder's own batching unit: nominally
	// 40ms of interleaved stereo audio, flushed as one chunk onto the
	// deck's channel.
	DecoderBatchSamples = 1920

	// CrossfadeReadyThreshold is the queued-sample count (nominal 0.5s,
	// 24000 samples) at or above which a deck is considered ready to be
	// crossfaded into.
	CrossfadeReadyThreshold = SampleRate / 2

	// ProactiveThreshold is the remaining-buffer level (nominal 3s, 144000
	// samples) below which the mixer proactively starts a tail crossfade
	// toward the other deck.
	ProactiveThreshold = SampleRate * 3

	// ApproachingEndThreshold mirrors ProactiveThreshold: fewer than this
	// many queued samples on an ended deck triggers approaching_end.
	ApproachingEndThreshold = SampleRate * 3

	// MinPlayedForEnd gates end/auto-gapless handling on a minimum of
	// nominal 25 seconds (1.2M samples) actually delivered to the mix.
	MinPlayedForEnd = SampleRate * 25

	// TransitionCrossfadeSamples is the fixed duration (nominal 6s, 288000
	// samples) used for proactively-triggered and approved-proposal
	// crossfades.
	TransitionCrossfadeSamples = SampleRate * 6

	PendingTransitionTimeout = 8 * time.Second
	AutoGaplessStallTimeout  = 10 * time.Second
	DecoderStallTimeout      = 30 * time.Second
	StuckDownloadTimeout     = 30 * time.Second

	// SilenceEpsilon is the magnitude below which a sample counts as
	// silence for the purposes of the post-chunk auto-gapless heuristic.
	SilenceEpsilon = 0.0001
)

// ClipToInt16 hard-clips a normalized float sample to [-1, 1] and scales it
// to the full int16 range, matching the original engine's output stage.
func ClipToInt16(sample float32) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	return int16(sample * 32767)
}

// SampleFromInt16 converts a signed 16-bit PCM sample to a normalized float
// amplitude, dividing by 32768 as the decoder pipeline does.
func SampleFromInt16(s int16) float32 {
	return float32(s) / 32768.0
}

// MixLinear blends an outgoing (source) sample with an incoming (target)
// sample at the given ratio: 0.0 is all source, 1.0 is all target. This is
// the equal-linear crossfade the spec calls for — no equal-power curve.
func MixLinear(source, target float32, ratio float32) float32 {
	return source*(1-ratio) + target*ratio
}
