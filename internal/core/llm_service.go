package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"
	defaultProviderTimeout    = 30 * time.Second
)

// Turn is one message of the conversation sent to the completion provider.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Completer produces the assistant's next reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

type LLMOptions struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
}

// LLMService talks to Gemini. It implements Completer and Embedder.
type LLMService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	timeout        time.Duration
}

func NewLLMService(ctx context.Context, opts LLMOptions) (*LLMService, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	s := &LLMService{
		client:         client,
		chatModel:      opts.ChatModel,
		embeddingModel: opts.EmbeddingModel,
		timeout:        opts.Timeout,
	}
	if s.chatModel == "" {
		s.chatModel = defaultChatModelName
	}
	if s.embeddingModel == "" {
		s.embeddingModel = defaultEmbeddingModelName
	}
	if s.timeout <= 0 {
		s.timeout = defaultProviderTimeout
	}
	return s, nil
}

func (s *LLMService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		logrus.WithError(err).Warn("Error closing GenAI client")
		return
	}
	logrus.Info("GenAI client closed")
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.client.EmbeddingModel(s.embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Complete sends turns to the chat model under systemPrompt. The last turn
// must come from the user.
func (s *LLMService) Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", errors.New("no turns to complete")
	}
	last := turns[len(turns)-1]
	if last.Role != RoleUserTurn {
		return "", fmt.Errorf("last turn is from %q, expected %q", last.Role, RoleUserTurn)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(s.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	session := model.StartChat()
	session.History = toGeminiHistory(turns[:len(turns)-1])

	resp, err := session.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			reply.WriteString(string(txt))
		} else {
			logrus.Debugf("Ignoring non-text gemini response part %T", part)
		}
	}
	if strings.TrimSpace(reply.String()) == "" {
		return "", errors.New("gemini returned an empty reply")
	}
	return reply.String(), nil
}

// Turn roles as accepted on the wire.
const (
	RoleUserTurn      = "user"
	RoleAssistantTurn = "assistant"
)

// toGeminiHistory maps turns onto Gemini's roles, where the assistant is
// called "model".
func toGeminiHistory(turns []Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == RoleAssistantTurn {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history
}
