package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/store"
)

// Repository is the persistence the pipeline needs. Each call is an
// independent write or read; no multi-call transaction is assumed.
type Repository interface {
	InsertConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, id string, patch store.ConversationPatch) error
	LinkLead(ctx context.Context, conversationID, leadID string) (string, error)

	InsertMessages(ctx context.Context, conversationID string, msgs []store.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)

	InsertLead(ctx context.Context, lead *store.Lead) error
	GetLead(ctx context.Context, id string) (*store.Lead, error)
	UpdateLead(ctx context.Context, id string, patch store.LeadPatch) error
	SetDealProbability(ctx context.Context, id string, probability int) error
}

// Lead sources.
const (
	SourceChat          = "chat"
	SourceEmailIntake   = "email-intake"
	SourceMarketingForm = "marketing-form"
	SourceManual        = "manual"
)

const (
	StageInvited = "invited"
	StageHandoff = "handoff"
	StageClosed  = "closed"
)

// historyLimit caps how many persisted messages are read back for one
// conversation.
const historyLimit = 200

// LeadEvent reports a lead created or updated by a turn.
type LeadEvent struct {
	LeadID   string   `json:"leadId"`
	Score    int      `json:"score"`
	Priority Priority `json:"priority"`
	Created  bool     `json:"created"`
}

// IntakeRequest is a lead arriving outside a chat, e.g. from a parsed email.
type IntakeRequest struct {
	TenantID string
	Source   string
	Fields   LeadFields
	Body     string
}

type LeadService struct {
	repo  Repository
	rules ScoringRules
	now   func() time.Time
}

func NewLeadService(repo Repository, rules ScoringRules) *LeadService {
	return &LeadService{repo: repo, rules: rules, now: time.Now}
}

func (s *LeadService) Rules() ScoringRules { return s.rules }

// UpsertFromTurn creates the conversation's lead, or updates the one already
// linked to it. conv.LeadID is set to the linked lead on success.
func (s *LeadService) UpsertFromTurn(ctx context.Context, conv *store.Conversation, fields LeadFields, score LeadScore) (*LeadEvent, error) {
	if conv.LeadID != nil {
		return s.updateFromScore(ctx, *conv.LeadID, fields, score)
	}

	lead := newLead(conv.TenantID, SourceChat, fields, score)
	lead.DealProbability = CalculateDealProbability(*lead, s.now())
	if err := s.repo.InsertLead(ctx, lead); err != nil {
		return nil, persistenceError("insert lead", err)
	}

	linked, err := s.repo.LinkLead(ctx, conv.ID, lead.ID)
	if err != nil {
		return nil, persistenceError("link lead", err)
	}
	conv.LeadID = &linked

	if linked != lead.ID {
		// Another turn linked first. Ours stays unreferenced.
		logrus.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"lead_id":         linked,
			"orphan_lead_id":  lead.ID,
		}).Warn("Conversation was linked concurrently, updating the winning lead")
		return s.updateFromScore(ctx, linked, fields, score)
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"lead_id":         lead.ID,
		"score":           score.Score,
		"priority":        score.Tier,
	}).Info("Lead created from conversation")
	return &LeadEvent{LeadID: lead.ID, Score: clampScore(score.Score), Priority: score.Tier, Created: true}, nil
}

func (s *LeadService) updateFromScore(ctx context.Context, leadID string, fields LeadFields, score LeadScore) (*LeadEvent, error) {
	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return nil, persistenceError("get lead", err)
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}

	patch := fieldsPatch(fields)
	persisted := clampScore(score.Score)
	patch.Score = &persisted

	priority := score.Tier
	if lead.PriorityOverridden && lead.Priority != nil {
		priority = Priority(*lead.Priority)
	} else {
		p := string(score.Tier)
		patch.Priority = &p
	}

	if err := s.repo.UpdateLead(ctx, leadID, patch); err != nil {
		return nil, persistenceError("update lead", err)
	}
	if _, err := s.Recalculate(ctx, leadID); err != nil {
		return nil, err
	}
	return &LeadEvent{LeadID: leadID, Score: persisted, Priority: priority}, nil
}

// EnsureLeadForConversation returns the conversation's lead, creating it from
// the stored metadata and messages when the conversation has none yet.
// Repeated calls return the same id.
func (s *LeadService) EnsureLeadForConversation(ctx context.Context, conversationID string) (*LeadEvent, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, persistenceError("get conversation", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	if conv.LeadID != nil {
		event := &LeadEvent{LeadID: *conv.LeadID}
		if lead, err := s.repo.GetLead(ctx, *conv.LeadID); err == nil && lead != nil {
			if lead.Score != nil {
				event.Score = *lead.Score
			}
			if lead.Priority != nil {
				event.Priority = Priority(*lead.Priority)
			}
		}
		return event, nil
	}

	msgs, err := s.repo.GetMessages(ctx, conversationID, historyLimit)
	if err != nil {
		return nil, persistenceError("get messages", err)
	}
	var userText []string
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			userText = append(userText, m.Content)
		}
	}

	fields := LeadFieldsFromMetadata(decodeStoredMetadata(conv.Metadata))
	score := ScoreLead(fields, DetectSignals(strings.Join(userText, "\n"), s.rules.Signals), s.rules)
	return s.UpsertFromTurn(ctx, conv, fields, score)
}

// CreateFromIntake scores and stores a lead that did not come from a chat.
func (s *LeadService) CreateFromIntake(ctx context.Context, req IntakeRequest) (*store.Lead, error) {
	source := req.Source
	if source == "" {
		source = SourceEmailIntake
	}
	text := strings.TrimSpace(req.Body + "\n" + req.Fields.Notes)
	score := ScoreLead(req.Fields, DetectSignals(text, s.rules.Signals), s.rules)

	lead := newLead(req.TenantID, source, req.Fields, score)
	lead.DealProbability = CalculateDealProbability(*lead, s.now())
	if err := s.repo.InsertLead(ctx, lead); err != nil {
		return nil, persistenceError("insert lead", err)
	}

	logrus.WithFields(logrus.Fields{
		"lead_id":  lead.ID,
		"source":   source,
		"score":    score.Score,
		"priority": score.Tier,
	}).Info("Lead created from intake")
	return lead, nil
}

// ChangePriority sets a manual priority. Later re-scoring will not replace
// it.
func (s *LeadService) ChangePriority(ctx context.Context, leadID string, priority Priority) (*store.Lead, error) {
	p := string(priority)
	overridden := true
	if err := s.repo.UpdateLead(ctx, leadID, store.LeadPatch{Priority: &p, PriorityOverridden: &overridden}); err != nil {
		return nil, persistenceError("update priority", err)
	}
	return s.Recalculate(ctx, leadID)
}

// ChangeStage moves the lead to stage. Entering "invited" stamps invited_at
// the first time.
func (s *LeadService) ChangeStage(ctx context.Context, leadID, stage string) (*store.Lead, error) {
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return nil, validationError("stage must not be empty")
	}

	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return nil, persistenceError("get lead", err)
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}

	patch := store.LeadPatch{Stage: &stage}
	if stage == StageInvited && lead.InvitedAt == nil {
		now := s.now()
		patch.InvitedAt = &now
	}
	if err := s.repo.UpdateLead(ctx, leadID, patch); err != nil {
		return nil, persistenceError("update stage", err)
	}
	return s.Recalculate(ctx, leadID)
}

// ChangeAssignment assigns the lead. An empty assignee unassigns it.
func (s *LeadService) ChangeAssignment(ctx context.Context, leadID, assignee string) (*store.Lead, error) {
	assignee = strings.TrimSpace(assignee)
	if err := s.repo.UpdateLead(ctx, leadID, store.LeadPatch{AssignedTo: &assignee}); err != nil {
		return nil, persistenceError("update assignment", err)
	}
	return s.Recalculate(ctx, leadID)
}

// Recalculate recomputes and stores the lead's deal probability. Running it
// again on an unchanged lead stores the same value.
func (s *LeadService) Recalculate(ctx context.Context, leadID string) (*store.Lead, error) {
	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return nil, persistenceError("get lead", err)
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
	}

	probability := CalculateDealProbability(*lead, s.now())
	if probability != lead.DealProbability {
		if err := s.repo.SetDealProbability(ctx, leadID, probability); err != nil {
			return nil, persistenceError("set deal probability", err)
		}
		logrus.WithFields(logrus.Fields{
			"lead_id": leadID,
			"from":    lead.DealProbability,
			"to":      probability,
		}).Debug("Deal probability recalculated")
		lead.DealProbability = probability
	}
	return lead, nil
}

func newLead(tenantID, source string, fields LeadFields, score LeadScore) *store.Lead {
	persisted := clampScore(score.Score)
	priority := string(score.Tier)
	return &store.Lead{
		TenantID:     tenantID,
		Source:       source,
		ContactName:  optional(fields.ContactName),
		Email:        optional(fields.Email),
		Phone:        optional(fields.Phone),
		BusinessName: optional(fields.BusinessName),
		Category:     optional(fields.Category),
		Location:     optional(fields.Location),
		Website:      optional(fields.Website),
		Notes:        optional(fields.Notes),
		IntentTiming: optional(normalizeIntent(fields.IntentTiming)),
		Score:        &persisted,
		Priority:     &priority,
	}
}

// fieldsPatch only touches the fields that carry a value, so a sparse turn
// never erases what earlier turns learned.
func fieldsPatch(fields LeadFields) store.LeadPatch {
	return store.LeadPatch{
		ContactName:  optional(fields.ContactName),
		Email:        optional(fields.Email),
		Phone:        optional(fields.Phone),
		BusinessName: optional(fields.BusinessName),
		Category:     optional(fields.Category),
		Location:     optional(fields.Location),
		Website:      optional(fields.Website),
		Notes:        optional(fields.Notes),
		IntentTiming: optional(normalizeIntent(fields.IntentTiming)),
	}
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func normalizeIntent(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case IntentImmediate, IntentPlanning, IntentExploring:
		return s
	default:
		return ""
	}
}

// clampScore bounds the stored score to 0..100. Scoring itself is unbounded
// above.
func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

func decodeStoredMetadata(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil
	}
	return m
}

func persistenceError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
