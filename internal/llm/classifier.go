package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voicedesk/voicedesk/internal/session"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reply types the model may return.
const (
	TypeGreeting        = "greeting"
	TypeMeetingRequest  = "meeting_request"
	TypeGeneralResponse = "general_response"
)

// ErrMalformedReply marks a model reply that could not be parsed against the
// response contract. Callers recover it locally; it is not an upstream failure.
var ErrMalformedReply = errors.New("llm: malformed model reply")

// Classification is the model's structured verdict on a conversation turn.
type Classification struct {
	Type        string                 `json:"type"`
	Details     session.MeetingDetails `json:"details"`
	MissingInfo []string               `json:"missingInfo"`
	Response    string                 `json:"response"`
}

// maxReplyTokens caps the model output; replies are short spoken sentences.
const maxReplyTokens = 200

const openingPrompt = `You are the voice assistant on a personal website. Greet the visitor
warmly in one or two short spoken sentences and offer to help, including with
scheduling a meeting. Respond ONLY with a JSON object:
{"type":"greeting","response":"<your greeting>"}`

const continuationPrompt = `You are the voice assistant on a personal website. Today's date is %s.
Classify the user's latest message and respond ONLY with one JSON object.

If the user wants to schedule a meeting, reply with:
{"type":"meeting_request","details":{"attendee":"","date":"YYYY-MM-DD","time":"","duration":"","purpose":""},"missingInfo":["<names of required fields still unknown>"],"response":"<short spoken reply or clarifying question>"}
Fill in every detail field you can extract from the whole conversation, and
resolve relative dates like "tomorrow" against today's date. Required fields
are attendee, date, time and duration; list the ones still missing in
missingInfo, and ask for them in the response. Leave missingInfo empty only
when all required fields are known.

For anything else, reply with:
{"type":"general_response","response":"<short spoken reply>"}

Keep responses conversational and brief; they will be read aloud.`

// Classifier asks a chat-completion model to classify one conversation turn
// against the widget's response contract.
type Classifier struct {
	client *openai.Client
	model  string
	now    func() time.Time
}

// NewClassifier builds a classifier. baseURL allows routing to any
// OpenAI-compatible endpoint.
func NewClassifier(apiKey, baseURL, model string) *Classifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Classifier{client: openai.NewClientWithConfig(cfg), model: model, now: time.Now}
}

// Classify sends the conversation and returns the model's structured verdict.
// Transport and API failures are returned as-is; a reply that does not parse
// against the contract returns ErrMalformedReply.
func (c *Classifier) Classify(ctx context.Context, conversation []Turn, isInitial bool) (*Classification, error) {
	system := openingPrompt
	if !isInitial {
		system = fmt.Sprintf(continuationPrompt, c.now().Format("2006-01-02"))
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(conversation)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, t := range conversation {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		MaxTokens:      maxReplyTokens,
		Temperature:    0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices")
	}

	var out Classification
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	switch out.Type {
	case TypeGreeting, TypeMeetingRequest, TypeGeneralResponse:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedReply, out.Type)
	}
	if strings.TrimSpace(out.Response) == "" {
		return nil, fmt.Errorf("%w: empty response text", ErrMalformedReply)
	}
	return &out, nil
}
