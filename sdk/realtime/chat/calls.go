package chat

import (
	"context"
	"errors"

	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/estatechat/sdk/realtime/call"
)

// StartCall calls the partner of the open conversation
func (s *Session) StartCall(ctx context.Context, video bool) error {
	s.mu.Lock()
	conv, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if conv.IsBlocked {
		s.mu.Unlock()
		return ErrBlocked
	}
	partnerId := conv.PartnerId(s.cfg.SelfId)
	s.mu.Unlock()

	if err := s.calls.Call(ctx, partnerId, video); err != nil {
		s.callFailed(ctx, "start call", err)
		return err
	}
	return nil
}

// AcceptCall answers the ringing call
func (s *Session) AcceptCall(ctx context.Context) error {
	if err := s.calls.Accept(ctx); err != nil {
		s.callFailed(ctx, "accept call", err)
		return err
	}
	return nil
}

// DeclineCall rejects the ringing call
func (s *Session) DeclineCall(ctx context.Context) error {
	return s.calls.Decline(ctx)
}

// HangUp ends the call in any state
func (s *Session) HangUp(ctx context.Context) error {
	return s.calls.Hangup(ctx)
}

// ToggleAudio mutes or unmutes the microphone
func (s *Session) ToggleAudio() (bool, error) {
	return s.calls.ToggleAudio()
}

// ToggleVideo turns the camera on or off
func (s *Session) ToggleVideo() (bool, error) {
	on, err := s.calls.ToggleVideo()
	if errors.Is(err, call.ErrAudioOnly) {
		s.toast(ToastInfo, "Video is not available on an audio call")
	}
	return on, err
}

func (s *Session) callFailed(ctx context.Context, op string, err error) {
	log.CtxWarn(ctx, "%s failed: user_id=%s, error=%v", op, s.cfg.SelfId, err)
	switch {
	case errors.Is(err, call.ErrNoCall):
		// hung up or ended by the partner while media was being set up
	case errors.Is(err, call.ErrBusy):
		s.toast(ToastInfo, "Already in a call")
	case errors.Is(err, call.ErrNegotiation):
		s.toast(ToastError, "Call failed to connect")
	default:
		s.toast(ToastError, "Call could not be started")
	}
}
