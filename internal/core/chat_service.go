package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/logging"
	"luxeconcierge.com/lead-intake/internal/store"
)

// TurnState is the stage a conversation turn has reached.
type TurnState string

const (
	StateReceived  TurnState = "RECEIVED"
	StatePrompted  TurnState = "PROMPTED"
	StateCompleted TurnState = "COMPLETED"
	StatePersisted TurnState = "PERSISTED"
	StateResponded TurnState = "RESPONDED"
	StateFailed    TurnState = "FAILED"
)

const defaultNotifyTimeout = 15 * time.Second

// TurnRequest is one visitor turn. Messages holds the prior history followed
// by the new user message.
type TurnRequest struct {
	ConversationID string
	TenantID       string
	Role           Role // empty: the stored conversation's kind, else couple
	Messages       []Turn
}

type TurnResult struct {
	ConversationID string
	Reply          string
	Metadata       map[string]any
	Score          LeadScore
	Lead           *LeadEvent
}

type ChatService struct {
	repo      Repository
	completer Completer
	prompts   *PromptAssembler
	contexts  *ContextBuilder
	leads     *LeadService
	notifier  Notifier

	notifyTimeout time.Duration
	notifications sync.WaitGroup
}

func NewChatService(repo Repository, completer Completer, prompts *PromptAssembler, contexts *ContextBuilder, leads *LeadService, notifier Notifier) *ChatService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ChatService{
		repo:          repo,
		completer:     completer,
		prompts:       prompts,
		contexts:      contexts,
		leads:         leads,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// HandleTurn runs one turn through RECEIVED, PROMPTED, COMPLETED, PERSISTED
// and RESPONDED. Errors are *TurnError values naming the state that failed.
// Persistence failures are logged and never fail the turn.
func (s *ChatService) HandleTurn(ctx context.Context, req TurnRequest) (result *TurnResult, err error) {
	state := StateReceived
	logger := logrus.WithFields(logrus.Fields{
		"conversation_id": req.ConversationID,
		"tenant_id":       req.TenantID,
		"role":            req.Role,
	})

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &TurnError{State: state, Err: fmt.Errorf("%w: panic: %v", ErrTurnFailed, r)}
		}
		if err != nil && errors.Is(err, ErrValidation) {
			logger.WithError(err).Info("Chat turn rejected")
			return
		}
		if err != nil {
			logging.LogError("chat_turn_failed", err, logrus.Fields{
				"conversation_id": req.ConversationID,
				"tenant_id":       req.TenantID,
				"state":           state,
				"next_state":      StateFailed,
			})
		}
	}()

	// RECEIVED
	if err := validateTurn(req); err != nil {
		return nil, &TurnError{State: state, Err: err}
	}

	conv, convLookupFailed := s.loadConversation(ctx, req.ConversationID, logger)
	tenantID := req.TenantID
	role := req.Role
	if conv != nil {
		tenantID = conv.TenantID
		if role == "" {
			role = Role(conv.Kind)
		}
	}
	if role != RoleCouple && role != RoleVendor {
		role = RoleCouple
	}
	turns := s.withPersistedHistory(ctx, conv, req.Messages, logger)
	userTurn := turns[len(turns)-1]

	// PROMPTED
	state = StatePrompted
	contextText := s.contexts.Build(ctx, tenantID, userTurn.Content)
	systemPrompt := s.prompts.Assemble(ctx, role, tenantID, contextText)

	raw, err := s.completer.Complete(ctx, systemPrompt, turns)
	if err != nil {
		return nil, &TurnError{State: state, Err: fmt.Errorf("%w: %w", ErrProvider, err)}
	}

	// COMPLETED
	state = StateCompleted
	reply, metadata := ExtractMetadata(raw)
	if metadata == nil && strings.Contains(raw, MetadataStartMarker) {
		logger.Debug("Reply carried an unreadable metadata block, ignoring it")
	}

	rules := s.leads.Rules()
	signals := DetectSignals(userText(turns), rules.Signals)
	fields := LeadFieldsFromMetadata(metadata)
	if conv != nil {
		fields = fields.Merge(LeadFieldsFromMetadata(decodeStoredMetadata(conv.Metadata)))
	}
	score := ScoreLead(fields, signals, rules)

	// PERSISTED
	state = StatePersisted
	if conv == nil {
		conv = &store.Conversation{ID: req.ConversationID, TenantID: tenantID, Kind: string(role)}
		if conv.ID == "" {
			conv.ID = uuid.NewString()
		}
		if !convLookupFailed {
			if err := s.repo.InsertConversation(ctx, conv); err != nil {
				logPersistence(logger, "insert conversation", err)
			}
		}
	}
	logger = logger.WithField("conversation_id", conv.ID)

	if err := s.repo.InsertMessages(ctx, conv.ID, []store.Message{
		{Role: store.RoleUser, Content: userTurn.Content},
		{Role: store.RoleAssistant, Content: reply},
	}); err != nil {
		logPersistence(logger, "insert messages", err)
	}

	if metadata != nil {
		if encoded, err := json.Marshal(metadata); err == nil {
			stored := string(encoded)
			if err := s.repo.UpdateConversation(ctx, conv.ID, store.ConversationPatch{Metadata: &stored}); err != nil {
				logPersistence(logger, "store metadata", err)
			}
		}
	}

	var event *LeadEvent
	if metadata != nil || score.Qualifies() {
		upserted, leadErr := s.leads.UpsertFromTurn(ctx, conv, fields, score)
		if leadErr != nil {
			logPersistence(logger, "upsert lead", leadErr)
		} else {
			event = upserted
		}
	}

	if score.Tier == PriorityHot {
		hot := HotLeadEvent{ConversationID: conv.ID, TenantID: tenantID, Score: score.Score, Fields: fields}
		if event != nil {
			hot.LeadID = event.LeadID
		}
		s.notifyHot(ctx, hot)
	}

	// RESPONDED
	state = StateResponded
	logger.WithFields(logrus.Fields{
		"score":    score.Score,
		"priority": score.Tier,
		"lead":     event != nil,
	}).Info("Chat turn completed")

	return &TurnResult{
		ConversationID: conv.ID,
		Reply:          reply,
		Metadata:       metadata,
		Score:          score,
		Lead:           event,
	}, nil
}

// Wait blocks until in-flight notifications have finished.
func (s *ChatService) Wait() {
	s.notifications.Wait()
}

func validateTurn(req TurnRequest) error {
	if len(req.Messages) == 0 {
		return validationError("messages must not be empty")
	}
	for i, m := range req.Messages {
		if m.Role != RoleUserTurn && m.Role != RoleAssistantTurn {
			return validationError("message %d has unsupported role %q", i, m.Role)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != RoleUserTurn || strings.TrimSpace(last.Content) == "" {
		return validationError("the last message must be a non-empty user message")
	}
	return nil
}

// loadConversation returns the stored conversation, or nil when it is new.
// The second result reports a failed lookup, in which case the turn goes on
// without creating a row that may already exist.
func (s *ChatService) loadConversation(ctx context.Context, id string, logger *logrus.Entry) (*store.Conversation, bool) {
	if id == "" {
		return nil, false
	}
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		logPersistence(logger, "get conversation", err)
		return nil, true
	}
	return conv, false
}

// withPersistedHistory prepends the stored messages when the caller sent
// only the new turn for a known conversation.
func (s *ChatService) withPersistedHistory(ctx context.Context, conv *store.Conversation, turns []Turn, logger *logrus.Entry) []Turn {
	if conv == nil || len(turns) != 1 {
		return turns
	}
	msgs, err := s.repo.GetMessages(ctx, conv.ID, historyLimit)
	if err != nil {
		logPersistence(logger, "get messages", err)
		return turns
	}
	history := make([]Turn, 0, len(msgs)+1)
	for _, m := range msgs {
		history = append(history, Turn{Role: m.Role, Content: m.Content})
	}
	return append(history, turns...)
}

func (s *ChatService) notifyHot(ctx context.Context, event HotLeadEvent) {
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		fields := logrus.Fields{"lead_id": event.LeadID, "conversation_id": event.ConversationID}
		defer func() {
			if r := recover(); r != nil {
				logging.LogError("hot_lead_notification_panic", fmt.Errorf("panic: %v", r), fields)
			}
		}()

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyHotLead(notifyCtx, event); err != nil {
			logging.LogError("hot_lead_notification", err, fields)
			return
		}
		logging.LogEvent("hot_lead_notified", fields)
	}()
}

func userText(turns []Turn) string {
	var parts []string
	for _, t := range turns {
		if t.Role == RoleUserTurn {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func logPersistence(logger *logrus.Entry, op string, err error) {
	logger.WithError(err).WithField("operation", op).Error("Persistence step failed, continuing turn")
}
