package gateway

import (
	"time"

	"github.com/mcdev12/livequiz/go/internal/events"
	"github.com/mcdev12/livequiz/go/internal/player"
	"github.com/mcdev12/livequiz/go/internal/session"
)

// FrameType identifies what a websocket frame carries.
type FrameType string

const (
	// FrameState carries the full session view and leaderboard.
	FrameState FrameType = "state"
	// FrameEvent carries a single domain event.
	FrameEvent FrameType = "event"
)

// Frame is the JSON document written to websocket clients.
type Frame struct {
	Type       FrameType     `json:"type"`
	Session    *session.View `json:"session,omitempty"`
	Players    []player.View `json:"players,omitempty"`
	Event      *events.Event `json:"event,omitempty"`
	ServerTime time.Time     `json:"server_time"`
}

func stateFrame(view session.View, players []player.View) Frame {
	return Frame{Type: FrameState, Session: &view, Players: players, ServerTime: view.ServerTime}
}

func eventFrame(event events.Event, now time.Time) Frame {
	return Frame{Type: FrameEvent, Event: &event, ServerTime: now}
}
