// Package conversation coordinates speech capture, chat replies and speech
// playback through a single conversation state.
package conversation

// State is the conversation state. Exactly one holds at a time.
type State int

const (
	// StateIdle: awake, capture active, waiting for a transcript.
	StateIdle State = iota
	// StateAsleep: capture active, transcripts ignored unless they wake the avatar.
	StateAsleep
	// StateProcessing: capture active, one chat/TTS round trip in flight.
	StateProcessing
	// StateSpeaking: capture paused, audio playing.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAsleep:
		return "asleep"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	Capturing bool   `json:"capturing"`
	Turn      string `json:"turn,omitempty"`
}
