// Package decoder implements the per-deck producer pipeline: it spawns a
// two-stage external subprocess chain (URL fetcher piped into a PCM
// transcoder), reads the resulting interleaved s16le stereo PCM at 48kHz,
// converts it to normalized floats, batches it, and delivers it over a
// bounded channel — exactly the contract deck.Starter expects.
package decoder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/doubledeck/mixengine/internal/deck"
	"github.com/doubledeck/mixengine/internal/eventlog"
	"github.com/doubledeck/mixengine/internal/pcm"
)

// Config names the two subprocess stages. Defaults match the original
// engine: a fetcher forced onto a single progressive-download container
// format (the one guaranteed to carry headers regardless of codec), piped
// into a transcoder that normalizes to s16le/48kHz/stereo with corrupt
// frame discard. Tests substitute trivial commands here to exercise the
// decode loop without real network binaries.
type Config struct {
	// FetcherPath is the executable resolved via HelperPath/PATH lookup
	// (see ResolveFetcherPath). FetcherArgs receives the URL and returns
	// the full argument list.
	FetcherPath string
	FetcherArgs func(url string) []string

	TranscoderPath string
	TranscoderArgs func() []string

	// ChannelCapacity bounds the chunk channel handed back to the deck.
	ChannelCapacity int

	StallTimeout time.Duration
}

// DefaultConfig returns the production subprocess chain: a URL fetcher
// forced onto format 140 (m4a/AAC, which always carries container headers,
// sidestepping bare Opus packet-header ambiguity) piped into ffmpeg
// producing s16le/48kHz/stereo PCM with corrupt-frame discard enabled.
func DefaultConfig(fetcherPath string) Config {
	return Config{
		FetcherPath: fetcherPath,
		FetcherArgs: func(url string) []string {
			return []string{
				"-m", "yt_dlp",
				"-f", "140",
				"--force-ipv4",
				"-q", "--no-warnings",
				"-o", "-",
				url,
			}
		},
		TranscoderPath: "ffmpeg",
		TranscoderArgs: func() []string {
			return []string{
				"-loglevel", "error",
				"-hide_banner",
				"-fflags", "+discardcorrupt",
				"-i", "pipe:0",
				"-vn",
				"-ac", "2",
				"-ar", "48000",
				"-af", "aformat=s16:48000",
				"-f", "s16le",
				"-acodec", "pcm_s16le",
				"-",
			}
		},
		ChannelCapacity: 100,
		StallTimeout:    pcm.DecoderStallTimeout,
	}
}

// New returns a deck.Starter that launches the configured subprocess chain
// and streams decoded samples back over a channel of the given capacity.
func New(cfg Config, log *eventlog.Logger) deck.Starter {
	return func(url string, name deck.Name, cancel *atomic.Bool) <-chan []float32 {
		cap := cfg.ChannelCapacity
		if cap <= 0 {
			cap = 100
		}
		out := make(chan []float32, cap)
		go run(cfg, log, url, name, cancel, out)
		return out
	}
}

func run(cfg Config, log *eventlog.Logger, url string, name deck.Name, cancel *atomic.Bool, out chan<- []float32) {
	defer close(out)

	logEmit(log, eventlog.Info, fmt.Sprintf("Streaming: %s", truncate(url, 60)))

	fetcher := exec.Command(cfg.FetcherPath, cfg.FetcherArgs(url)...)
	fetcher.Stdin = nil
	fetcherStdout, err := fetcher.StdoutPipe()
	if err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] fetcher stdout pipe: %v", name, err))
		return
	}
	fetcherStderr, err := fetcher.StderrPipe()
	if err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] fetcher stderr pipe: %v", name, err))
		return
	}
	if err := fetcher.Start(); err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] failed to spawn fetcher: %v", name, err))
		return
	}

	transcoder := exec.Command(cfg.TranscoderPath, cfg.TranscoderArgs()...)
	transcoder.Stdin = fetcherStdout
	transcoderStdout, err := transcoder.StdoutPipe()
	if err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] transcoder stdout pipe: %v", name, err))
		_ = fetcher.Process.Kill()
		return
	}
	transcoderStderr, err := transcoder.StderrPipe()
	if err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] transcoder stderr pipe: %v", name, err))
		_ = fetcher.Process.Kill()
		return
	}
	if err := transcoder.Start(); err != nil {
		logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] failed to spawn transcoder: %v", name, err))
		_ = fetcher.Process.Kill()
		return
	}

	go scrapeStderr(fetcherStderr, log, eventlog.Error, fmt.Sprintf("[fetcher:%s]", name), true)
	go scrapeStderr(transcoderStderr, log, eventlog.StreamError, fmt.Sprintf("[transcoder:%s]", name), false)

	logEmit(log, eventlog.StreamOpened, fmt.Sprintf("[deck %s] streaming: %s", name, truncate(url, 60)))

	var firstData atomic.Bool
	stallTimeout := cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = pcm.DecoderStallTimeout
	}
	go watchdog(log, name, &firstData, cancel, fetcher, transcoder, stallTimeout)

	streamStart := time.Now()
	total, cancelled, readErr := decodeLoop(transcoderStdout, out, cancel, &firstData, func() {
		logEmit(log, eventlog.Info, fmt.Sprintf("[deck %s] first audio after %s", name, time.Since(streamStart)))
	})

	if cancelled {
		logEmit(log, eventlog.Info, fmt.Sprintf("[deck %s] download cancelled, killing subprocesses", name))
		_ = transcoder.Process.Kill()
		_ = fetcher.Process.Kill()
	} else {
		audioSeconds := total / (pcm.SampleRate * pcm.Channels)
		switch {
		case readErr != nil:
			logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] read error after %d samples (%ds): %v", name, total, audioSeconds, readErr))
		case total == 0:
			logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] critical: 0 samples decoded", name))
		case audioSeconds < 10:
			logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] premature termination: only %ds of audio", name, audioSeconds))
		default:
			logEmit(log, eventlog.Debug, fmt.Sprintf("[deck %s] stream finished (%ds, %d samples)", name, audioSeconds, total))
		}
	}

	_ = transcoder.Wait()
	_ = fetcher.Wait()
}

// decodeLoop reads 16-bit little-endian samples from r, converts each to a
// normalized float, and flushes a chunk to out every DecoderBatchSamples.
// It returns the total sample count read, whether it stopped because
// cancel fired, and any non-EOF read error. onFirstByte is called exactly
// once, the moment the first sample is read.
func decodeLoop(r io.Reader, out chan<- []float32, cancel *atomic.Bool, firstData *atomic.Bool, onFirstByte func()) (total int, cancelled bool, readErr error) {
	br := bufio.NewReaderSize(r, 32*1024)
	buf := make([]float32, 0, pcm.DecoderBatchSamples)

	for {
		if cancel != nil && cancel.Load() {
			cancelled = true
			return total, cancelled, nil
		}

		var raw [2]byte
		if _, err := io.ReadFull(br, raw[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if len(buf) > 0 {
					flush(out, &buf, cancel)
				}
				return total, false, nil
			}
			return total, false, err
		}

		sample := pcm.SampleFromInt16(int16(binary.LittleEndian.Uint16(raw[:])))
		buf = append(buf, sample)
		total++

		if firstData != nil && !firstData.Load() {
			firstData.Store(true)
			if onFirstByte != nil {
				onFirstByte()
			}
		}

		if len(buf) >= pcm.DecoderBatchSamples {
			if !flush(out, &buf, cancel) {
				cancelled = true
				return total, cancelled, nil
			}
		}
	}
}

// flush sends buf (a copy, since the caller keeps reusing the backing
// slice) on out, blocking while the channel is full to provide the
// backpressure the spec calls for. It periodically rechecks cancel so a
// cancelled load cannot wedge forever behind a consumer that stopped
// polling. Returns false if cancelled before the send could complete.
func flush(out chan<- []float32, buf *[]float32, cancel *atomic.Bool) bool {
	chunk := make([]float32, len(*buf))
	copy(chunk, *buf)
	*buf = (*buf)[:0]
	for {
		select {
		case out <- chunk:
			return true
		case <-time.After(50 * time.Millisecond):
			if cancel != nil && cancel.Load() {
				return false
			}
		}
	}
}

func scrapeStderr(r io.Reader, log *eventlog.Logger, ev eventlog.Event, tag string, filterErrorsOnly bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if filterErrorsOnly && !strings.Contains(strings.ToLower(line), "error") {
			continue
		}
		logEmit(log, ev, fmt.Sprintf("%s %s", tag, line))
	}
}

func watchdog(log *eventlog.Logger, name deck.Name, firstData *atomic.Bool, cancel *atomic.Bool, fetcher, transcoder *exec.Cmd, timeout time.Duration) {
	const interval = 500 * time.Millisecond
	iterations := int(timeout / interval)
	for i := 0; i < iterations; i++ {
		time.Sleep(interval)
		if firstData.Load() || (cancel != nil && cancel.Load()) {
			return
		}
	}
	logEmit(log, eventlog.Error, fmt.Sprintf("[deck %s] stall watchdog: %s without data, killing subprocesses", name, timeout))
	killProcessTree(fetcher)
	killProcessTree(transcoder)
}

func logEmit(log *eventlog.Logger, ev eventlog.Event, data string) {
	if log == nil {
		return
	}
	log.Emit(ev, data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
