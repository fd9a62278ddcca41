package session

import (
	"github.com/normanking/avatarstage/internal/animation"
)

// Client message types sent by the page.
const (
	MsgReady         = "ready"          // rig loaded, mixer may be attached
	MsgActivate      = "activate"       // user gesture, start the conversation
	MsgTranscript    = "transcript"     // final speech-to-text result
	MsgPlaybackEnded = "playback_ended" // audio for a turn finished
	MsgPlay          = "play"           // manual animation request
	MsgSkit          = "skit"
	MsgSpeak         = "speak"
)

// Server message types sent to the page.
const (
	MsgState   = "state"
	MsgCapture = "capture"
	MsgClip    = "clip"
	MsgFrame   = "frame"
	MsgAudio   = "audio"
	MsgReply   = "reply"
	MsgError   = "error"
)

// ClientMessage is one inbound websocket message.
type ClientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Turn     string `json:"turn,omitempty"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Index    int    `json:"index,omitempty"`
}

// ServerMessage is one outbound websocket message. Only the fields relevant
// to Type are set.
type ServerMessage struct {
	Type      string        `json:"type"`
	State     string        `json:"state,omitempty"`
	Capturing *bool         `json:"capturing,omitempty"`
	Clip      string        `json:"clip,omitempty"`
	From      string        `json:"from,omitempty"`
	Mode      string        `json:"mode,omitempty"`
	Turn      string        `json:"turn,omitempty"`
	Text      string        `json:"text,omitempty"`
	Audio     string        `json:"data,omitempty"` // base64 audio
	Format    string        `json:"format,omitempty"`
	Frame     *FrameMessage `json:"frame,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// FrameMessage is the blended mixer state for one rendered tick.
type FrameMessage struct {
	Time       float64                 `json:"time"`
	Actions    []animation.ActionState `json:"actions"`
	Transition *TransitionMessage      `json:"transition,omitempty"`
}

// TransitionMessage describes an in-flight cross-fade.
type TransitionMessage struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Progress float32 `json:"progress"`
}
