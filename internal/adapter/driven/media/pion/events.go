package pion

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// EventsLabel is the data channel both sides use for renegotiation and
// departure notices.
const EventsLabel = "room-events"

const (
	eventOffer  = "offer"
	eventAnswer = "answer"
	eventLeft   = "left"
)

type roomEvent struct {
	Event       string `json:"event"`
	SDP         string `json:"sdp,omitempty"`
	Participant string `json:"participant,omitempty"`
}

func sendEvent(dc *webrtc.DataChannel, ev roomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

func decodeEvent(msg webrtc.DataChannelMessage) (roomEvent, error) {
	var ev roomEvent
	err := json.Unmarshal(msg.Data, &ev)
	return ev, err
}

// waitGathering blocks until ICE gathering completes or the timeout hits,
// so the local description carries candidates and no trickle is needed.
func waitGathering(ctx context.Context, pc *webrtc.PeerConnection, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := webrtc.GatheringCompletePromise(pc)
	select {
	case <-done:
	case <-ctx.Done():
	}
}
