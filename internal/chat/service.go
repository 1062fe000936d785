package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/voicedesk/voicedesk/internal/llm"
	"github.com/voicedesk/voicedesk/internal/session"
)

// Fixed replies for locally recovered failures. They are spoken to the user,
// so they stay conversational.
const (
	apologyReply     = "Sorry, I'm having trouble answering right now. Could you try that again in a moment?"
	retryReply       = "I didn't quite catch that. Could you say it again?"
	unavailableReply = "I'm sorry, that time is not available. Would a different time work for you?"
)

// ErrUnknownSession is returned when the request carries a token the store
// does not know (expired or never issued).
var ErrUnknownSession = errors.New("chat: unknown or expired session")

// Classifier classifies one conversation turn.
type Classifier interface {
	Classify(ctx context.Context, conversation []llm.Turn, isInitial bool) (*llm.Classification, error)
}

// Booker checks availability and provisions bookable slots.
type Booker interface {
	CheckAvailability(ctx context.Context, date, timeOfDay, duration string) bool
	CreateBooking(ctx context.Context, details session.MeetingDetails) (string, error)
}

// Service interprets the model's structured output for one conversation turn
// and, when a meeting request is fully specified, drives the booking flow.
type Service struct {
	classifier Classifier
	booker     Booker
	sessions   *session.Store
}

// NewService wires the chat turn service.
func NewService(classifier Classifier, booker Booker, sessions *session.Store) *Service {
	return &Service{classifier: classifier, booker: booker, sessions: sessions}
}

// Sessions exposes the session store for token issuing and sweeping.
func (s *Service) Sessions() *session.Store { return s.sessions }

// ProcessTurn produces the assistant's reply for the conversation so far.
// Model failures and malformed replies are recovered locally into fixed
// replies; only request-level problems (unknown session) return an error.
func (s *Service) ProcessTurn(ctx context.Context, token string, conversation []llm.Turn, isInitial bool) (string, error) {
	if _, ok := s.sessions.Get(token); !ok {
		return "", ErrUnknownSession
	}

	verdict, err := s.classifier.Classify(ctx, conversation, isInitial)
	if err != nil {
		if errors.Is(err, llm.ErrMalformedReply) {
			log.Printf("chat: malformed model reply: %v", err)
			return retryReply, nil
		}
		log.Printf("chat: model call failed: %v", err)
		return apologyReply, nil
	}

	if verdict.Type != llm.TypeMeetingRequest {
		return verdict.Response, nil
	}

	// Merge whatever was extracted, complete or not; partial details must
	// survive into the next turn.
	details, ok := s.sessions.Merge(token, verdict.Details)
	if !ok {
		return "", ErrUnknownSession
	}
	if len(verdict.MissingInfo) > 0 {
		return verdict.Response, nil
	}

	if !s.booker.CheckAvailability(ctx, details.Date, details.Time, details.Duration) {
		// Details stay pending so the user can renegotiate the time.
		return unavailableReply, nil
	}

	schedulingURL, err := s.booker.CreateBooking(ctx, details)
	if err != nil {
		log.Printf("chat: booking failed: %v", err)
		return fmt.Sprintf("The slot looks free, but I couldn't set up the booking link: %v. Let's try again shortly.", err), nil
	}

	s.sessions.Clear(token)
	return fmt.Sprintf("%s You can confirm the meeting here: %s", verdict.Response, schedulingURL), nil
}
