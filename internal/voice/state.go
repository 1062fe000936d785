package voice

// State is the agent's visible conversational state. Exactly one value is
// active at a time; transitions are the only mutator of listening and
// speaking side effects.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

// IsValid reports whether the state is a recognized value.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateListening, StateThinking, StateSpeaking:
		return true
	default:
		return false
	}
}

func (s State) String() string { return string(s) }
