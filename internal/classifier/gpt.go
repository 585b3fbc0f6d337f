package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// GPTAssistant implements Classifier, Suggester and Greeter on top of the
// OpenAI chat-completion API.
type GPTAssistant struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTAssistant(apiKey string, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTAssistant {
	return &GPTAssistant{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

type needsReplyResponse struct {
	NeedsReply bool   `json:"needs_reply"`
	Reason     string `json:"reason"`
}

// NeedsReply classifies a client message. API and parse failures are
// returned, not collapsed into a verdict; the caller leaves the message
// unclassified.
func (a *GPTAssistant) NeedsReply(ctx context.Context, text, conversationContext string) (bool, error) {
	prompt := fmt.Sprintf(`You triage messages from clients to an account-management team.
Decide whether the message requires a timely human response. Greetings,
acknowledgements, emoji and "thanks" do not. Questions, requests, complaints
and anything blocking the client do.

Return a JSON object with this structure:
{
    "needs_reply": true,
    "reason": "short_reason"
}

Recent conversation:
%s

Message: %s`, conversationContext, text)

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("classification request failed: %w", err)
	}

	var parsed needsReplyResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return false, fmt.Errorf("failed to parse classifier response %q: %w", raw, err)
	}

	return parsed.NeedsReply, nil
}

type suggestionResponse struct {
	Reply string   `json:"reply"`
	Tasks []string `json:"tasks"`
}

// Suggest drafts an answer and a short task list for an unanswered client
// message. Called only on the first reminder of the ladder.
func (a *GPTAssistant) Suggest(ctx context.Context, text, conversationContext string) (string, []string, error) {
	prompt := fmt.Sprintf(`A client message has been waiting for an answer. Draft a short,
friendly reply the account manager could send as-is, and list the concrete
tasks the message implies (max 5).

Return a JSON object with this structure:
{
    "reply": "draft_reply",
    "tasks": ["task1", "task2", ...]
}

Recent conversation:
%s

Message: %s`, conversationContext, text)

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return "", nil, fmt.Errorf("suggestion request failed: %w", err)
	}

	var parsed suggestionResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", nil, fmt.Errorf("failed to parse suggestion response %q: %w", raw, err)
	}

	return parsed.Reply, parsed.Tasks, nil
}

type commitmentResponse struct {
	Found         bool   `json:"found"`
	Text          string `json:"text"`
	RemindInHours int    `json:"remind_in_hours"`
}

// ExtractCommitment looks for a concrete promise in a responsible message.
func (a *GPTAssistant) ExtractCommitment(ctx context.Context, text, conversationContext string) (*CommitmentDraft, error) {
	prompt := fmt.Sprintf(`You read messages account managers send in client chats. Decide
whether the message contains a concrete commitment with an implied deadline
("I'll send the report today", "we deploy on Friday"). Vague intentions do
not count.

Return a JSON object with this structure:
{
    "found": true,
    "text": "short_restatement_of_the_promise",
    "remind_in_hours": 24
}

When there is no commitment, return {"found": false}.

Recent conversation:
%s

Message: %s`, conversationContext, text)

	raw, err := a.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("commitment request failed: %w", err)
	}

	var parsed commitmentResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse commitment response %q: %w", raw, err)
	}
	if !parsed.Found || parsed.Text == "" {
		return nil, nil
	}
	if parsed.RemindInHours <= 0 {
		parsed.RemindInHours = 24
	}
	a.logger.Info("Commitment detected",
		zap.String("text", parsed.Text),
		zap.Int("remind_in_hours", parsed.RemindInHours))
	return &CommitmentDraft{Text: parsed.Text, RemindInHours: parsed.RemindInHours}, nil
}

// HolidayGreeting writes a short greeting for one client chat.
func (a *GPTAssistant) HolidayGreeting(ctx context.Context, holiday, chatName string) (string, error) {
	prompt := fmt.Sprintf(`Today is %s. Write a short, warm greeting (2-3 sentences, no
hashtags, no signature) an account manager could send to the client chat %q.
Plain text only.`, holiday, chatName)

	greeting, err := a.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("greeting request failed: %w", err)
	}
	return greeting, nil
}

func (a *GPTAssistant) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   a.maxTokens,
			Temperature: float32(a.temperature),
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
