package usecase

import (
	"context"

	"neurallink/internal/domain"
	"neurallink/internal/ports"
)

// Events posted to the controller loop. Session events carry the id of the
// attempt that produced them; events for a superseded attempt are stale.
type (
	connectCommand struct {
		ctx     context.Context
		profile domain.Profile
		reply   chan error
	}
	disconnectCommand struct {
		reply chan struct{}
	}
	diagnosticsQuery struct {
		reply chan domain.Diagnostics
	}

	microphoneReady struct {
		sessionID string
		stream    ports.CaptureStream
		err       error
	}
	remoteReady struct {
		sessionID string
		remote    ports.RemoteSession
		err       error
	}
	remoteOpened struct {
		sessionID string
	}
	remoteMessage struct {
		sessionID string
		msg       domain.ServerMessage
	}
	remoteClosed struct {
		sessionID string
		reason    string
	}
	remoteFailed struct {
		sessionID string
		err       error
	}
	captureFailed struct {
		sessionID string
		err       error
	}
	unitEnded struct {
		sessionID string
		unit      *playbackUnit
	}
)

// remoteCallbacks adapts provider callbacks into loop events.
type remoteCallbacks struct {
	sessionID string
	post      func(event any) bool
}

func (r remoteCallbacks) OnOpen() {
	r.post(remoteOpened{sessionID: r.sessionID})
}

func (r remoteCallbacks) OnMessage(msg domain.ServerMessage) {
	r.post(remoteMessage{sessionID: r.sessionID, msg: msg})
}

func (r remoteCallbacks) OnClose(reason string) {
	r.post(remoteClosed{sessionID: r.sessionID, reason: reason})
}

func (r remoteCallbacks) OnError(err error) {
	r.post(remoteFailed{sessionID: r.sessionID, err: err})
}
