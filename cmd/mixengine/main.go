// Command mixengine reads JSON commands on stdin, mixes two decks of
// streamed audio in real time, and writes raw s16le PCM to stdout, emitting
// lifecycle events as line-delimited JSON on stderr.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/doubledeck/mixengine/internal/command"
	"github.com/doubledeck/mixengine/internal/config"
	"github.com/doubledeck/mixengine/internal/decoder"
	"github.com/doubledeck/mixengine/internal/eventlog"
	"github.com/doubledeck/mixengine/internal/mixer"
	"github.com/doubledeck/mixengine/internal/monitor"
	"github.com/doubledeck/mixengine/internal/pcm"
)

func main() {
	ignoreSIGPIPE()

	cfg := config.Load()
	evLog := eventlog.New(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fetcherPath := decoder.ResolveFetcherPath(cfg.HelperPath)
	decCfg := decoder.DefaultConfig(fetcherPath)
	decCfg.ChannelCapacity = cfg.ChunkChannelCapacity
	decCfg.StallTimeout = cfg.DecoderStallTimeout
	starter := decoder.New(decCfg, evLog)

	cmds := make(chan command.Command, cfg.CommandChannelCapacity)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	go command.Stream(os.Stdin, cmds, evLog, done)

	m := mixer.New(evLog, starter, cmds, os.Stdout)

	if cfg.MonitorAddr != "" {
		server := startMonitor(cfg.MonitorAddr, evLog, m)
		go func() {
			<-ctx.Done()
			server.Close()
		}()
	}

	evLog.Emit(eventlog.Info, "mixengine starting")
	err := m.Run(ctx)
	if errors.Is(err, mixer.ErrStop) || errors.Is(err, context.Canceled) {
		evLog.Emit(eventlog.Info, "mixengine shutting down")
		return
	}
	if err != nil {
		log.Fatalf("mixer run error: %v", err)
	}
}

// startMonitor wires the monitor fan-out, WebRTC handler, and status
// endpoint, and taps the mixer's emitted chunks into the broadcaster
// without touching the stdout PCM contract.
func startMonitor(addr string, evLog *eventlog.Logger, m *mixer.Mixer) *http.Server {
	broadcaster := monitor.NewBroadcaster()
	webrtcHandler := monitor.NewWebRTCHandler(broadcaster, evLog)
	statusHandler := monitor.NewStatusHandler(m, broadcaster, webrtcHandler)

	m.SetMonitorTap(func(samples []float32) {
		frame := make([]int16, len(samples))
		for i, s := range samples {
			frame[i] = pcm.ClipToInt16(s)
		}
		broadcaster.Publish(frame)
	})

	mux := http.NewServeMux()
	mux.Handle("/offer", webrtcHandler)
	mux.Handle("/api/status", statusHandler)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		evLog.Emit(eventlog.Info, "monitor listening on "+addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			evLog.Emit(eventlog.Error, "monitor server error: "+err.Error())
		}
	}()
	return server
}
