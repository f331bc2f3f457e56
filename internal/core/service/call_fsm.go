package service

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/looplab/fsm"
)

const (
	evInitiate     = "initiate"      // local initiate
	evInvite       = "invite"        // remote INVITE
	evAnswer       = "answer"        // local answer
	evAccepted     = "accepted"      // remote ACCEPT
	evReject       = "reject"        // local reject
	evCancelled    = "cancelled"     // remote HANGUP while ringing
	evRemoteReject = "remote_reject" // remote REJECT
	evRemoteHangup = "remote_hangup" // remote HANGUP or peer left the media room
	evEnd          = "end"           // local endCall
	evFail         = "fail"          // local media could not be opened
	evReset        = "reset"         // deferred teardown done
)

func st(s domain.CallStatus) string {
	return string(s)
}

/*
Transitions:

	idle      --initiate-->                   calling
	idle      --invite-->                     ringing
	ringing   --answer-->                     connected
	ringing   --reject|cancelled-->           rejected
	calling   --accepted-->                   connected
	calling   --remote_reject|remote_hangup-->ended
	connected --remote_reject|remote_hangup-->ended
	calling   --end-->                        ended
	connected --end-->                        ended
	calling|ringing|connected --fail-->       ended
	rejected|ended --reset-->                 idle

Entering rejected or ended starts the cleanup; reset is only fired by
the deferred teardown.
*/
func (s *CallService) initFSM() {
	live := []string{st(domain.StatusCalling), st(domain.StatusConnected)}

	s.fsm = fsm.NewFSM(
		st(domain.StatusIdle),
		fsm.Events{
			{Name: evInitiate, Src: []string{st(domain.StatusIdle)}, Dst: st(domain.StatusCalling)},
			{Name: evInvite, Src: []string{st(domain.StatusIdle)}, Dst: st(domain.StatusRinging)},
			{Name: evAnswer, Src: []string{st(domain.StatusRinging)}, Dst: st(domain.StatusConnected)},
			{Name: evAccepted, Src: []string{st(domain.StatusCalling)}, Dst: st(domain.StatusConnected)},
			{Name: evReject, Src: []string{st(domain.StatusRinging)}, Dst: st(domain.StatusRejected)},
			{Name: evCancelled, Src: []string{st(domain.StatusRinging)}, Dst: st(domain.StatusRejected)},
			{Name: evRemoteReject, Src: live, Dst: st(domain.StatusEnded)},
			{Name: evRemoteHangup, Src: live, Dst: st(domain.StatusEnded)},
			{Name: evEnd, Src: live, Dst: st(domain.StatusEnded)},
			{Name: evFail, Src: []string{st(domain.StatusCalling), st(domain.StatusRinging), st(domain.StatusConnected)}, Dst: st(domain.StatusEnded)},
			{Name: evReset, Src: []string{st(domain.StatusRejected), st(domain.StatusEnded)}, Dst: st(domain.StatusIdle)},
		},
		fsm.Callbacks{
			"enter_" + st(domain.StatusRejected): s.enterTerminating,
			"enter_" + st(domain.StatusEnded):    s.enterTerminating,
			"enter_state":                        s.afterStateChange,
		},
	)
}

func (s *CallService) enterTerminating(_ context.Context, e *fsm.Event) {
	s.session.Status = domain.CallStatus(e.Dst)
	s.cleanup()
}

func (s *CallService) afterStateChange(_ context.Context, e *fsm.Event) {
	s.session.Status = domain.CallStatus(e.Dst)
	s.metrics.transition(e.Src, e.Dst)
	s.log.Info().
		Str("from", e.Src).
		Str("to", e.Dst).
		Str("event", e.Event).
		Str("room_id", s.session.RoomID.String()).
		Msg("Call state changed")
	s.publish()
}
