package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/doubledeck/mixengine/internal/eventlog"
	"github.com/doubledeck/mixengine/internal/pcm"
)

// WebRTCHandler serves WebRTC SDP negotiation for low-latency Opus
// monitoring of the live mix.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	log         *eventlog.Logger

	mu    sync.Mutex
	peers map[uuid.UUID]*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC monitor handler fed by b.
func NewWebRTCHandler(b *Broadcaster, log *eventlog.Logger) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		log:         log,
		peers:       make(map[uuid.UUID]*webrtc.PeerConnection),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"mixengine-monitor",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	<-gatherComplete

	id := uuid.New()
	h.mu.Lock()
	h.peers[id] = pc
	h.mu.Unlock()

	h.logEmit(eventlog.Info, fmt.Sprintf("monitor peer %s connected (total: %d)", id, h.PeerCount()))

	go h.streamToPeer(id, audioTrack)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			h.removePeer(id)
			pc.Close()
			h.logEmit(eventlog.Info, fmt.Sprintf("monitor peer %s disconnected (remaining: %d)", id, h.PeerCount()))
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(id uuid.UUID, track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener.ID)

	enc, err := opus.NewEncoder(pcm.SampleRate, pcm.Channels, opus.AppAudio)
	if err != nil {
		h.logEmit(eventlog.Error, fmt.Sprintf("monitor peer %s: opus encoder error: %v", id, err))
		return
	}
	enc.SetBitrate(128000)

	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-listener.done:
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				h.logEmit(eventlog.Error, fmt.Sprintf("monitor peer %s: opus encode error: %v", id, err))
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: pcm.ChunkPeriod,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, id)
}

func (h *WebRTCHandler) logEmit(ev eventlog.Event, data string) {
	if h.log == nil {
		return
	}
	h.log.Emit(ev, data)
}
