package voice

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicedesk/voicedesk/internal/llm"
)

type fakeCapture struct {
	starts int32
	stops  int32
}

func (f *fakeCapture) Start() error { atomic.AddInt32(&f.starts, 1); return nil }
func (f *fakeCapture) Stop()        { atomic.AddInt32(&f.stops, 1) }

type fakeSpeaker struct {
	utterances int32
	block      chan struct{} // when non-nil, Speak blocks until closed or ctx done
	cancelled  int32
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	atomic.AddInt32(&f.utterances, 1)
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		atomic.AddInt32(&f.cancelled, 1)
		return ctx.Err()
	}
}

type fakeResponder struct {
	greeting string
	reply    string
	err      error
	calls    int32
	block    chan struct{} // when non-nil, continuation replies block until closed
}

func (f *fakeResponder) Reply(ctx context.Context, conversation []llm.Turn, isInitial bool) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if isInitial {
		return f.greeting, nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// observerChan collects snapshots for assertions.
func observerChan() (chan Snapshot, Option) {
	ch := make(chan Snapshot, 64)
	return ch, WithObserver(func(s Snapshot) { ch <- s })
}

func waitForState(t *testing.T, ch chan Snapshot, want State) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.State == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestStart_CapabilityMissing(t *testing.T) {
	sess := NewSession(nil, &fakeSpeaker{}, &fakeResponder{})
	if err := sess.Start(context.Background()); !errors.Is(err, ErrCapabilityMissing) {
		t.Fatalf("expected ErrCapabilityMissing, got %v", err)
	}
	sess = NewSession(&fakeCapture{}, nil, &fakeResponder{})
	if err := sess.Start(context.Background()); !errors.Is(err, ErrCapabilityMissing) {
		t.Fatalf("expected ErrCapabilityMissing, got %v", err)
	}
}

func TestStart_AlreadyActive(t *testing.T) {
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, &fakeResponder{greeting: "hi"}, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)
	if err := sess.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	sess.Stop()
}

func TestSession_BookingScenario(t *testing.T) {
	capt := &fakeCapture{}
	spk := &fakeSpeaker{}
	resp := &fakeResponder{
		greeting: "Hello! I can help you schedule a meeting.",
		reply:    "Done. You can confirm the meeting here: https://calendly.com/d/xyz",
	}
	ch, obs := observerChan()
	sess := NewSession(capt, spk, resp, obs)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// greeting plays, then the session listens
	waitForState(t, ch, StateSpeaking)
	waitForState(t, ch, StateListening)

	sess.HandleTranscript("Schedule a meeting with Sam tomorrow at 3pm for 30 minutes", true)
	waitForState(t, ch, StateThinking)
	snap := waitForState(t, ch, StateSpeaking)
	if !strings.Contains(snap.Response, "https://calendly.com/d/xyz") {
		t.Fatalf("expected scheduling url in response, got %q", snap.Response)
	}
	waitForState(t, ch, StateListening)

	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("expected greeting + user + assistant turns, got %d", len(history))
	}
	if history[1].Role != llm.RoleUser || history[2].Role != llm.RoleAssistant {
		t.Fatalf("unexpected roles in history: %+v", history)
	}
	if got := atomic.LoadInt32(&spk.utterances); got != 2 {
		t.Fatalf("expected 2 utterances (greeting + reply), got %d", got)
	}
	sess.Stop()
}

func TestSession_GatesTranscriptsWhileThinkingAndSpeaking(t *testing.T) {
	resp := &fakeResponder{greeting: "hi", reply: "ok", block: make(chan struct{})}
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, resp, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)

	sess.HandleTranscript("first utterance", true)
	waitForState(t, ch, StateThinking)

	// responder is still in flight; further finals must be dropped
	sess.HandleTranscript("second utterance", true)
	sess.HandleTranscript("third utterance", true)
	close(resp.block)
	waitForState(t, ch, StateListening)

	// one greeting call plus exactly one continuation call
	if got := atomic.LoadInt32(&resp.calls); got != 2 {
		t.Fatalf("expected 2 responder calls, got %d", got)
	}
	sess.Stop()
}

func TestSession_InterimTranscriptsDoNotTriggerBackend(t *testing.T) {
	resp := &fakeResponder{greeting: "hi", reply: "ok"}
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, resp, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)

	sess.HandleTranscript("sched", false)
	sess.HandleTranscript("schedule a meet", false)
	deadline := time.After(time.Second)
	for surfaced := ""; surfaced != "schedule a meet"; {
		select {
		case snap := <-ch:
			surfaced = snap.Transcript
			if snap.State != StateListening {
				t.Fatalf("interim result changed state to %q", snap.State)
			}
		case <-deadline:
			t.Fatalf("interim transcript never surfaced")
		}
	}
	if got := atomic.LoadInt32(&resp.calls); got != 1 {
		t.Fatalf("interim results must not call the responder; calls=%d", got)
	}
	sess.Stop()
}

func TestSession_SilenceTimeoutReturnsToIdle(t *testing.T) {
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, &fakeResponder{greeting: "hi"}, obs, WithSilenceWindow(30*time.Millisecond))
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)
	waitForState(t, ch, StateIdle)
	if got := sess.State(); got != StateIdle {
		t.Fatalf("expected idle after silence window, got %q", got)
	}
}

func TestSession_StopCancelsUtterance(t *testing.T) {
	spk := &fakeSpeaker{block: make(chan struct{})}
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, spk, &fakeResponder{greeting: "a long greeting"}, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateSpeaking)
	// give the speaker goroutine a moment to enter Speak
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&spk.utterances) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	sess.Stop()
	waitForState(t, ch, StateIdle)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&spk.cancelled) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if atomic.LoadInt32(&spk.cancelled) == 0 {
		t.Fatalf("expected in-progress utterance to be cancelled on stop")
	}
	if len(sess.History()) != 0 {
		t.Fatalf("expected conversation cleared on stop")
	}
}

func TestSession_LateReplyAfterStopIsDiscarded(t *testing.T) {
	spk := &fakeSpeaker{}
	resp := &fakeResponder{greeting: "hi", reply: "too late", block: make(chan struct{})}
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, spk, resp, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)
	sess.HandleTranscript("hello there", true)
	waitForState(t, ch, StateThinking)

	sess.Stop()
	waitForState(t, ch, StateIdle)
	spoken := atomic.LoadInt32(&spk.utterances)

	// the in-flight responder call resolves after the stop
	close(resp.block)
	time.Sleep(50 * time.Millisecond)

	if got := sess.State(); got != StateIdle {
		t.Fatalf("late reply re-animated the session: state=%q", got)
	}
	if atomic.LoadInt32(&spk.utterances) != spoken {
		t.Fatalf("late reply must not be spoken")
	}
}

func TestSession_ResponderErrorReturnsToIdle(t *testing.T) {
	resp := &fakeResponder{greeting: "hi", err: errors.New("network down")}
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, resp, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)
	sess.HandleTranscript("hello", true)
	waitForState(t, ch, StateIdle)
}

func TestSession_RecognitionErrors(t *testing.T) {
	ch, obs := observerChan()
	sess := NewSession(&fakeCapture{}, &fakeSpeaker{}, &fakeResponder{greeting: "hi"}, obs)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, ch, StateListening)

	// transient no-speech errors are ignored
	sess.HandleRecognitionError(errors.New("no-speech"), false)
	if got := sess.State(); got != StateListening {
		t.Fatalf("transient error must not change state, got %q", got)
	}

	// fatal recognition errors return the session to idle
	sess.HandleRecognitionError(errors.New("audio-capture"), true)
	waitForState(t, ch, StateIdle)
}
