package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/doubledeck/mixengine/internal/mixer"
)

// StatusProvider is the minimal surface the status endpoint needs from the
// mixer. The dependency runs one way: mixer never imports monitor (it only
// calls the tap callback SetMonitorTap registers), monitor imports mixer
// solely for this read-only snapshot type.
type StatusProvider interface {
	Status() mixer.Status
}

// StatusHandler serves a read-only JSON snapshot of mixer and listener
// state, mirroring the teacher's /api/status handler.
type StatusHandler struct {
	mixer       StatusProvider
	broadcaster *Broadcaster
	webrtc      *WebRTCHandler
}

// NewStatusHandler builds the /api/status handler.
func NewStatusHandler(mixer StatusProvider, b *Broadcaster, w *WebRTCHandler) *StatusHandler {
	return &StatusHandler{mixer: mixer, broadcaster: b, webrtc: w}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.mixer.Status()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(map[string]any{
		"active_deck":         st.ActiveDeck,
		"crossfading":         st.Crossfading,
		"loop_mode":           st.LoopMode,
		"playing":             st.Playing,
		"pending_transition":  st.PendingTransition,
		"proactive_crossfade": st.ProactiveCrossfade,
		"monitor_listeners":   h.broadcaster.ListenerCount(),
		"webrtc_listeners":    h.webrtc.PeerCount(),
	})
}
