package pcm

import "testing"

func TestConstants(t *testing.T) {
	if got := SampleRate * int(ChunkPeriod.Milliseconds()) / 1000; got != ChunkSamples {
		t.Errorf("ChunkSamples mismatch: want %d, got %d", ChunkSamples, got)
	}
	if CrossfadeReadyThreshold != 24000 {
		t.Errorf("CrossfadeReadyThreshold = %d, want 24000", CrossfadeReadyThreshold)
	}
	if ProactiveThreshold != 144000 {
		t.Errorf("ProactiveThreshold = %d, want 144000", ProactiveThreshold)
	}
	if MinPlayedForEnd != 1200000 {
		t.Errorf("MinPlayedForEnd = %d, want 1200000", MinPlayedForEnd)
	}
	if TransitionCrossfadeSamples != 288000 {
		t.Errorf("TransitionCrossfadeSamples = %d, want 288000", TransitionCrossfadeSamples)
	}
}

func TestClipToInt16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1.0, 32767},
		{-1.0, -32767},
		{2.0, 32767},
		{-2.0, -32767},
	}
	for _, tt := range tests {
		if got := ClipToInt16(tt.in); got != tt.want {
			t.Errorf("ClipToInt16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSampleFromInt16RoundTrip(t *testing.T) {
	for _, s := range []int16{0, 1, -1, 32767, -32768} {
		f := SampleFromInt16(s)
		if f > 1 || f < -1 {
			t.Errorf("SampleFromInt16(%d) = %v out of range", s, f)
		}
	}
}

func TestMixLinearEndpoints(t *testing.T) {
	if got := MixLinear(1.0, -1.0, 0); got != 1.0 {
		t.Errorf("MixLinear ratio=0 = %v, want 1.0 (all source)", got)
	}
	if got := MixLinear(1.0, -1.0, 1); got != -1.0 {
		t.Errorf("MixLinear ratio=1 = %v, want -1.0 (all target)", got)
	}
}

func TestMixLinearMidpoint(t *testing.T) {
	got := MixLinear(1.0, 0.0, 0.5)
	if got != 0.5 {
		t.Errorf("MixLinear ratio=0.5 = %v, want 0.5", got)
	}
}
