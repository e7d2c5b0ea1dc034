package deck

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/doubledeck/mixengine/internal/pcm"
)

func chunkStarter(chunks ...[]float32) Starter {
	return func(url string, name Name, cancel *atomic.Bool) <-chan []float32 {
		ch := make(chan []float32, len(chunks)+1)
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch
	}
}

func TestLoadAttachesReceiverAndResetsState(t *testing.T) {
	d := New(A, nil)
	d.Load("http://example/track", chunkStarter([]float32{0.1, 0.2}))
	if !d.isLoading {
		t.Error("isLoading should be true after Load")
	}
	if d.hasEnded {
		t.Error("hasEnded should be false right after Load")
	}
}

func TestPollReceiverDrainsAndDetachesOnClose(t *testing.T) {
	d := New(A, nil)
	d.Load("u", chunkStarter([]float32{1, 2, 3}))
	d.PollReceiver()
	if d.queueLen() != 3 {
		t.Fatalf("queueLen = %d, want 3", d.queueLen())
	}
	// chunkStarter's channel is already closed, so the first poll has
	// detached the receiver; this second poll must keep it detached.
	time.Sleep(time.Millisecond)
	d.PollReceiver()
	if d.HasReceiver() {
		t.Error("receiver should be detached once channel disconnects")
	}
	if !d.HasEnded() {
		t.Error("hasEnded should latch true once channel disconnects")
	}
}

func TestNextReturnsSamplesInOrder(t *testing.T) {
	d := New(A, nil)
	d.Load("u", chunkStarter([]float32{1, 2, 3}))
	for _, want := range []float32{1, 2, 3} {
		got, ok := d.Next()
		if !ok || got != want {
			t.Fatalf("Next() = (%v, %v), want (%v, true)", got, ok, want)
		}
	}
}

func TestNextReturnsSilenceWhileLoadingAndNotEnded(t *testing.T) {
	d := New(A, nil)
	d.Load("u", func(url string, name Name, cancel *atomic.Bool) <-chan []float32 {
		return make(chan []float32) // never closes, never sends
	})
	got, ok := d.Next()
	if !ok || got != 0 {
		t.Fatalf("Next() = (%v, %v), want (0, true) silence", got, ok)
	}
}

func TestNextEndsAfterRestartExhaustion(t *testing.T) {
	d := New(A, nil)
	d.Load("u", chunkStarter([]float32{1, 2}))
	d.PollReceiver()
	time.Sleep(time.Millisecond)
	d.PollReceiver() // receiver already detached and hasEnded=true by the first poll
	// Simulate restart() putting samples back with no receiver.
	d.hasEnded = false
	d.Restart()
	if _, ok := d.Next(); !ok {
		t.Fatal("first sample after restart should be available")
	}
	if _, ok := d.Next(); !ok {
		t.Fatal("second sample after restart should be available")
	}
	// Now exhausted: receiver is nil and samplesPlayed > 0.
	if _, ok := d.Next(); ok {
		t.Error("Next() after restart exhaustion should report no sample")
	}
	if !d.HasEnded() {
		t.Error("HasEnded should latch true on restart exhaustion")
	}
}

func TestIsReadyForCrossfadeThreshold(t *testing.T) {
	d := New(A, nil)
	samples := make([]float32, pcm.CrossfadeReadyThreshold-1)
	d.Load("u", chunkStarter(samples))
	d.PollReceiver()
	if d.IsReadyForCrossfade() {
		t.Error("should not be ready just below threshold")
	}
	d2 := New(B, nil)
	d2.Load("u", chunkStarter(make([]float32, pcm.CrossfadeReadyThreshold)))
	d2.PollReceiver()
	if !d2.IsReadyForCrossfade() {
		t.Error("should be ready at threshold")
	}
}

func TestRestartRepopulatesFromFullHistory(t *testing.T) {
	d := New(A, nil)
	d.Load("u", chunkStarter([]float32{1, 2, 3, 4}))
	d.PollReceiver()
	d.Next()
	d.Next()
	if d.queueLen() != 2 {
		t.Fatalf("queueLen after 2 Next() = %d, want 2", d.queueLen())
	}
	d.Restart()
	if d.queueLen() != d.FullSamplesLen() {
		t.Errorf("after restart queueLen=%d, FullSamplesLen=%d, want equal", d.queueLen(), d.FullSamplesLen())
	}
	if d.SamplesPlayed() != 0 {
		t.Errorf("SamplesPlayed after restart = %d, want 0", d.SamplesPlayed())
	}
}

func TestCancelSignalsToken(t *testing.T) {
	d := New(A, nil)
	var cancelled atomic.Bool
	d.Load("u", func(url string, name Name, cancel *atomic.Bool) <-chan []float32 {
		go func() {
			for !cancel.Load() {
				time.Sleep(time.Millisecond)
			}
			cancelled.Store(true)
		}()
		return make(chan []float32)
	})
	d.Cancel()
	deadline := time.After(time.Second)
	for !cancelled.Load() {
		select {
		case <-deadline:
			t.Fatal("cancel token was not observed by decoder goroutine")
		default:
		}
	}
}

func TestLoadCancelsPriorDecoder(t *testing.T) {
	d := New(A, nil)
	var firstCancelled atomic.Bool
	d.Load("u1", func(url string, name Name, cancel *atomic.Bool) <-chan []float32 {
		go func() {
			for !cancel.Load() {
				time.Sleep(time.Millisecond)
			}
			firstCancelled.Store(true)
		}()
		return make(chan []float32)
	})
	d.Load("u2", chunkStarter([]float32{1}))
	deadline := time.After(time.Second)
	for !firstCancelled.Load() {
		select {
		case <-deadline:
			t.Fatal("loading a new URL should cancel the prior decoder")
		default:
		}
	}
}
