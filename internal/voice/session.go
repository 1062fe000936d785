package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/voicedesk/voicedesk/internal/llm"
)

// Capture is the speech-to-text boundary. Start asks the capture side to
// begin emitting transcript events (delivered via Session.HandleTranscript);
// it must be restartable after each Stop. Implementations must not call back
// into the session from Start or Stop.
type Capture interface {
	Start() error
	Stop()
}

// Speaker is the text-to-speech boundary. Speak delivers one utterance and
// returns when it has finished playing, or with an error when synthesis or
// playback failed. Cancelling ctx must abort the utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Responder produces the assistant's reply for the conversation so far.
type Responder interface {
	Reply(ctx context.Context, conversation []llm.Turn, isInitial bool) (string, error)
}

// Snapshot is the presentation-layer view of the session, emitted on every
// state change.
type Snapshot struct {
	State      State  `json:"state"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
}

// ErrCapabilityMissing reports that speech capture or output is unavailable.
// It is fatal for the session and reported once.
var ErrCapabilityMissing = errors.New("voice: speech capabilities unavailable")

// ErrAlreadyActive reports a start action on a session that is not idle.
var ErrAlreadyActive = errors.New("voice: session already active")

// defaultSilenceWindow is how long the session waits in listening for a
// finalized transcript before giving up and returning to idle. The window is
// armed on every entry into listening and is not extended by interim results.
const defaultSilenceWindow = 5 * time.Second

// Session is the conversation orchestrator. It owns the agent state, the
// conversation history, and the rules for when to listen, speak, or call the
// responder. Transcript events arriving while the session is thinking or
// speaking are dropped, which also guarantees at most one outstanding
// responder call. A stop action invalidates the session epoch so that a
// late-arriving reply or utterance completion cannot re-animate the session.
type Session struct {
	capture   Capture
	speaker   Speaker
	responder Responder

	observer      func(Snapshot)
	silenceWindow time.Duration

	mu           sync.Mutex
	ctx          context.Context
	state        State
	history      []llm.Turn
	transcript   string
	response     string
	epoch        uint64
	listenSeq    uint64
	silenceTimer *time.Timer
	speakCancel  context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithObserver registers a callback invoked synchronously on every state
// change. The callback must not call back into the session.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithSilenceWindow overrides the listening timeout.
func WithSilenceWindow(d time.Duration) Option {
	return func(s *Session) { s.silenceWindow = d }
}

// NewSession constructs an idle session.
func NewSession(capture Capture, speaker Speaker, responder Responder, opts ...Option) *Session {
	s := &Session{
		capture:       capture,
		speaker:       speaker,
		responder:     responder,
		silenceWindow: defaultSilenceWindow,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current agent state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Start begins a session: the agent fetches and speaks its greeting, then
// starts listening. Returns ErrCapabilityMissing when either speech adapter
// is absent and ErrAlreadyActive when the session is not idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.capture == nil || s.speaker == nil {
		s.mu.Unlock()
		return ErrCapabilityMissing
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.ctx = ctx
	s.epoch++
	epoch := s.epoch
	s.history = nil
	s.transcript = ""
	s.response = ""
	s.state = StateSpeaking
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	go s.greet(ctx, epoch)
	return nil
}

// Stop resets the session to idle: capture stops, any in-progress utterance
// is cancelled, the conversation is cleared, and pending responder replies
// are discarded when they arrive.
func (s *Session) Stop() {
	s.mu.Lock()
	s.epoch++
	cancel := s.speakCancel
	s.speakCancel = nil
	s.stopSilenceLocked()
	if s.capture != nil {
		s.capture.Stop()
	}
	s.history = nil
	s.transcript = ""
	s.response = ""
	s.state = StateIdle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.publish(snap)
}

// HandleTranscript feeds one transcript event into the session. Events are
// accepted only while listening; anything arriving while thinking or
// speaking is dropped, not buffered. A finalized non-empty segment moves the
// session to thinking and issues the single outstanding responder call.
func (s *Session) HandleTranscript(text string, final bool) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	if !final {
		if text == "" {
			s.mu.Unlock()
			return
		}
		s.transcript = text
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		return
	}
	if text == "" {
		// no-speech: ignored, recognition continues
		s.mu.Unlock()
		return
	}

	s.transcript = text
	s.stopSilenceLocked()
	s.capture.Stop()
	s.history = append(s.history, llm.Turn{Role: llm.RoleUser, Content: text})
	conversation := make([]llm.Turn, len(s.history))
	copy(conversation, s.history)
	s.state = StateThinking
	epoch := s.epoch
	ctx := s.ctx
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	go s.think(ctx, epoch, conversation)
}

// HandleRecognitionError reports a capture-side failure. Transient errors
// (no speech detected) are ignored; fatal ones return the session to idle.
func (s *Session) HandleRecognitionError(err error, fatal bool) {
	if !fatal {
		return
	}
	log.Printf("voice: recognition error: %v", err)
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	snap := s.toIdleLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// greet fetches the opening greeting and speaks it.
func (s *Session) greet(ctx context.Context, epoch uint64) {
	reply, err := s.responder.Reply(ctx, nil, true)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("voice: greeting failed: %v", err)
		snap := s.toIdleLocked()
		s.mu.Unlock()
		s.publish(snap)
		return
	}
	s.history = append(s.history, llm.Turn{Role: llm.RoleAssistant, Content: reply})
	s.response = reply
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.speak(ctx, epoch, reply)
}

// think resolves the outstanding responder call for a finalized user turn.
func (s *Session) think(ctx context.Context, epoch uint64, conversation []llm.Turn) {
	reply, err := s.responder.Reply(ctx, conversation, false)

	s.mu.Lock()
	if epoch != s.epoch || s.state != StateThinking {
		// stopped meanwhile; the late reply is discarded
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("voice: responder failed: %v", err)
		snap := s.toIdleLocked()
		s.mu.Unlock()
		s.publish(snap)
		return
	}
	s.history = append(s.history, llm.Turn{Role: llm.RoleAssistant, Content: reply})
	s.response = reply
	s.state = StateSpeaking
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	s.speak(ctx, epoch, reply)
}

// speak delivers one utterance, then transitions speaking -> listening.
func (s *Session) speak(ctx context.Context, epoch uint64, text string) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.speakCancel = cancel
	s.mu.Unlock()

	err := s.speaker.Speak(sctx, text)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.speakCancel = nil
	if err != nil {
		log.Printf("voice: utterance failed: %v", err)
		snap := s.toIdleLocked()
		s.mu.Unlock()
		s.publish(snap)
		return
	}
	snap, ok := s.listenLocked(epoch)
	s.mu.Unlock()
	if ok {
		s.publish(snap)
	}
}

// listenLocked enters listening: capture restarts and the silence window is
// armed. Caller holds s.mu.
func (s *Session) listenLocked(epoch uint64) (Snapshot, bool) {
	if err := s.capture.Start(); err != nil {
		log.Printf("voice: capture start failed: %v", err)
		return s.toIdleLocked(), true
	}
	s.state = StateListening
	s.listenSeq++
	seq := s.listenSeq
	s.silenceTimer = time.AfterFunc(s.silenceWindow, func() { s.onSilence(epoch, seq) })
	return s.snapshotLocked(), true
}

// onSilence fires when the listening window elapsed without a finalized
// transcript; the session gives up and returns to idle. The seq guard drops
// a stale timer that raced a re-entry into listening.
func (s *Session) onSilence(epoch, seq uint64) {
	s.mu.Lock()
	if epoch != s.epoch || seq != s.listenSeq || s.state != StateListening {
		s.mu.Unlock()
		return
	}
	snap := s.toIdleLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// toIdleLocked is the unrecoverable-error path: epoch is bumped so pending
// work is discarded, capture stops, state resets. Caller holds s.mu.
func (s *Session) toIdleLocked() Snapshot {
	s.epoch++
	s.stopSilenceLocked()
	if cancel := s.speakCancel; cancel != nil {
		s.speakCancel = nil
		cancel()
	}
	if s.capture != nil {
		s.capture.Stop()
	}
	s.state = StateIdle
	return s.snapshotLocked()
}

func (s *Session) stopSilenceLocked() {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Transcript: s.transcript, Response: s.response}
}

func (s *Session) publish(snap Snapshot) {
	if s.observer != nil {
		s.observer(snap)
	}
}
