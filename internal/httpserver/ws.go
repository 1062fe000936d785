package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/voicedesk/voicedesk/internal/chat"
	"github.com/voicedesk/voicedesk/internal/llm"
	"github.com/voicedesk/voicedesk/internal/speech"
	"github.com/voicedesk/voicedesk/internal/voice"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The widget embeds on arbitrary pages; restrict in production
		return true
	},
}

// clientMessage is a frame sent by the widget.
// Types: "start", "stop", "transcript", "utterance_end", "recognition_error".
type clientMessage struct {
	Type         string              `json:"type"`
	Text         string              `json:"text,omitempty"`
	Final        bool                `json:"final,omitempty"`
	Error        string              `json:"error,omitempty"`
	Fatal        bool                `json:"fatal,omitempty"`
	Capabilities *clientCapabilities `json:"capabilities,omitempty"`
}

// clientCapabilities is what the page detected at session start.
type clientCapabilities struct {
	Capture bool `json:"capture"`
	Output  bool `json:"output"`
}

// serverMessage is a frame sent to the widget. Types: "session", "state",
// "listen", "stop_listening", "speak", "error". Hosted-voice audio is sent
// as separate binary frames.
type serverMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	State      string `json:"state,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Response   string `json:"response,omitempty"`
	Text       string `json:"text,omitempty"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
}

// VoiceGateway upgrades widget connections and bridges them onto a
// conversation session: transcript frames flow in, state snapshots and
// utterances flow out.
type VoiceGateway struct {
	chat  *chat.Service
	synth *speech.Synthesizer // optional hosted voice
}

// NewVoiceGateway builds the gateway. synth may be nil when no hosted TTS is
// configured; clients must then synthesize locally.
func NewVoiceGateway(chatSvc *chat.Service, synth *speech.Synthesizer) *VoiceGateway {
	return &VoiceGateway{chat: chatSvc, synth: synth}
}

// Handle runs one widget connection until it closes.
func (g *VoiceGateway) Handle(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	w := &wsWriter{conn: conn}
	token := g.chat.Sessions().Issue()
	_ = w.writeJSON(serverMessage{Type: "session", SessionID: token})

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	var (
		sess         *voice.Session
		utteranceEnd chan struct{}
	)
	defer func() {
		if sess != nil {
			sess.Stop()
		}
	}()

	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return nil
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = w.writeJSON(serverMessage{Type: "error", Code: "bad_frame", Details: err.Error()})
			continue
		}

		switch msg.Type {
		case "start":
			if sess == nil {
				sess, utteranceEnd = g.buildSession(token, w, msg.Capabilities)
			}
			if sess == nil {
				_ = w.writeJSON(serverMessage{Type: "error", Code: "capability_missing"})
				continue
			}
			if err := sess.Start(ctx); err != nil {
				switch {
				case errors.Is(err, voice.ErrAlreadyActive):
					// duplicate start from the page; ignore
				case errors.Is(err, voice.ErrCapabilityMissing):
					_ = w.writeJSON(serverMessage{Type: "error", Code: "capability_missing"})
				default:
					_ = w.writeJSON(serverMessage{Type: "error", Code: "start_failed", Details: err.Error()})
				}
			}
		case "stop":
			if sess != nil {
				sess.Stop()
			}
		case "transcript":
			if sess != nil {
				sess.HandleTranscript(msg.Text, msg.Final)
			}
		case "utterance_end":
			if utteranceEnd != nil {
				select {
				case utteranceEnd <- struct{}{}:
				default:
				}
			}
		case "recognition_error":
			if sess != nil {
				sess.HandleRecognitionError(errors.New(msg.Error), msg.Fatal)
			}
		}
	}
}

// buildSession assembles adapters for this connection. Returns nil when the
// page reported no usable capture capability, or no output path exists.
func (g *VoiceGateway) buildSession(token string, w *wsWriter, caps *clientCapabilities) (*voice.Session, chan struct{}) {
	if caps == nil || !caps.Capture {
		return nil, nil
	}

	var speaker voice.Speaker
	var utteranceEnd chan struct{}
	switch {
	case caps.Output:
		utteranceEnd = make(chan struct{}, 1)
		speaker = &browserSpeaker{w: w, done: utteranceEnd}
	case g.synth != nil:
		speaker = &hostedSpeaker{w: w, synth: g.synth}
	default:
		return nil, nil
	}

	sess := voice.NewSession(
		&wsCapture{w: w},
		speaker,
		&chatResponder{svc: g.chat, token: token},
		voice.WithObserver(func(snap voice.Snapshot) {
			_ = w.writeJSON(serverMessage{
				Type:       "state",
				State:      snap.State.String(),
				Transcript: snap.Transcript,
				Response:   snap.Response,
			})
		}),
	)
	return sess, utteranceEnd
}

// wsWriter serializes frames onto one connection; gorilla allows a single
// concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(msg serverMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

func (w *wsWriter) writeBinary(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

// wsCapture asks the page to start or stop its speech recognizer.
type wsCapture struct{ w *wsWriter }

func (c *wsCapture) Start() error {
	return c.w.writeJSON(serverMessage{Type: "listen"})
}

func (c *wsCapture) Stop() {
	_ = c.w.writeJSON(serverMessage{Type: "stop_listening"})
}

// browserSpeaker hands the utterance to the page's own synthesizer and waits
// for its end-of-utterance ack.
type browserSpeaker struct {
	w    *wsWriter
	done chan struct{}
}

func (s *browserSpeaker) Speak(ctx context.Context, text string) error {
	// drain a stale ack from an utterance that was cancelled mid-flight
	select {
	case <-s.done:
	default:
	}
	if err := s.w.writeJSON(serverMessage{Type: "speak", Text: text}); err != nil {
		return err
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hostedSpeaker synthesizes server-side and streams PCM to the page as
// binary frames.
type hostedSpeaker struct {
	w     *wsWriter
	synth *speech.Synthesizer
}

func (s *hostedSpeaker) Speak(ctx context.Context, text string) error {
	return s.synth.Synthesize(ctx, text, s.w.writeBinary)
}

// chatResponder routes the session's backend calls to the in-process chat
// service.
type chatResponder struct {
	svc   *chat.Service
	token string
}

func (r *chatResponder) Reply(ctx context.Context, conversation []llm.Turn, isInitial bool) (string, error) {
	return r.svc.ProcessTurn(ctx, r.token, conversation, isInitial)
}
