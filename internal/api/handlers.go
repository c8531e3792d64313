package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"luxeconcierge.com/lead-intake/internal/auth"
	"luxeconcierge.com/lead-intake/internal/core"
	"luxeconcierge.com/lead-intake/internal/store"
)

type contextKey string

const subjectKey contextKey = "subject"

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// TenantStore persists tenant prompt customizations.
type TenantStore interface {
	UpsertCustomization(ctx context.Context, c *store.TenantCustomization) error
}

// CacheInvalidator drops cached customizations after an update.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type APIHandler struct {
	chatService *core.ChatService
	leadService *core.LeadService
	tenants     TenantStore
	invalidator CacheInvalidator
	jwtSecret   string
}

func NewAPIHandler(cs *core.ChatService, ls *core.LeadService, tenants TenantStore, invalidator CacheInvalidator, jwtSecret string) *APIHandler {
	return &APIHandler{
		chatService: cs,
		leadService: ls,
		tenants:     tenants,
		invalidator: invalidator,
		jwtSecret:   jwtSecret,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		subject, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			logrus.WithError(err).Debug("Rejected bearer token")
			writeJSONError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

type ChatRequest struct {
	Message        string      `json:"message" validate:"max=8000"`
	ConversationID string      `json:"conversationId" validate:"max=64"`
	TenantID       string      `json:"tenantId" validate:"max=64"`
	Kind           string      `json:"kind" validate:"omitempty,oneof=couple vendor"`
	History        []core.Turn `json:"history" validate:"max=200,dive"`
}

type ChatResponse struct {
	Reply          string         `json:"reply"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ConversationID string         `json:"conversationId"`
}

type QualifyResponse struct {
	ChatResponse
	Score    *int          `json:"score,omitempty"`
	Priority core.Priority `json:"priority,omitempty"`
	LeadID   string        `json:"leadId,omitempty"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := h.runTurn(w, r, "")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(result))
}

// QualifyHandler runs the turn as the vendor persona and reports the lead
// event, if any.
func (h *APIHandler) QualifyHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := h.runTurn(w, r, core.RoleVendor)
	if !ok {
		return
	}
	resp := QualifyResponse{ChatResponse: chatResponse(result)}
	if result.Lead != nil {
		score := result.Lead.Score
		resp.Score = &score
		resp.Priority = result.Lead.Priority
		resp.LeadID = result.Lead.LeadID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) runTurn(w http.ResponseWriter, r *http.Request, forceRole core.Role) (*core.TurnResult, bool) {
	var req ChatRequest
	if !decodeAndValidate(w, r, &req) {
		return nil, false
	}

	role := forceRole
	if role == "" && req.Kind != "" {
		parsed, err := core.ParseRole(req.Kind)
		if err != nil {
			writeError(w, err)
			return nil, false
		}
		role = parsed
	}

	messages := append([]core.Turn(nil), req.History...)
	if strings.TrimSpace(req.Message) != "" {
		messages = append(messages, core.Turn{Role: core.RoleUserTurn, Content: req.Message})
	}

	result, err := h.chatService.HandleTurn(r.Context(), core.TurnRequest{
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		Role:           role,
		Messages:       messages,
	})
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return result, true
}

func chatResponse(result *core.TurnResult) ChatResponse {
	return ChatResponse{
		Reply:          result.Reply,
		Metadata:       result.Metadata,
		ConversationID: result.ConversationID,
	}
}

func (h *APIHandler) CreateConversationLeadHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	event, err := h.leadService.EnsureLeadForConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if event.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, event)
}

type IntakeRequest struct {
	TenantID          string `json:"tenantId" validate:"max=64"`
	Source            string `json:"source" validate:"omitempty,oneof=email-intake marketing-form manual"`
	ContactName       string `json:"contactName" validate:"max=200"`
	Email             string `json:"email" validate:"omitempty,email"`
	Phone             string `json:"phone" validate:"max=64"`
	BusinessName      string `json:"businessName" validate:"max=200"`
	Category          string `json:"category" validate:"max=100"`
	Location          string `json:"location" validate:"max=200"`
	Website           string `json:"website" validate:"max=500"`
	IntentTiming      string `json:"intentTiming" validate:"omitempty,oneof=immediate planning exploring"`
	LuxuryPositioning bool   `json:"luxuryPositioning"`
	Notes             string `json:"notes" validate:"max=4000"`
	Body              string `json:"body" validate:"max=20000"`
}

func (h *APIHandler) IntakeHandler(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	lead, err := h.leadService.CreateFromIntake(r.Context(), core.IntakeRequest{
		TenantID: req.TenantID,
		Source:   req.Source,
		Body:     req.Body,
		Fields: core.LeadFields{
			ContactName:       req.ContactName,
			Email:             req.Email,
			Phone:             req.Phone,
			BusinessName:      req.BusinessName,
			Category:          req.Category,
			Location:          req.Location,
			Website:           req.Website,
			IntentTiming:      req.IntentTiming,
			Notes:             req.Notes,
			LuxuryPositioning: req.LuxuryPositioning,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	logrus.WithFields(logrus.Fields{"lead_id": lead.ID, "actor": subjectFrom(r.Context())}).Info("Intake lead accepted")
	writeJSON(w, http.StatusCreated, lead)
}

type PriorityRequest struct {
	Priority string `json:"priority" validate:"required"`
}

func (h *APIHandler) ChangePriorityHandler(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	priority, err := core.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondWithLead(w, r, "priority", func(ctx context.Context, leadID string) (*store.Lead, error) {
		return h.leadService.ChangePriority(ctx, leadID, priority)
	})
}

type StageRequest struct {
	Stage string `json:"stage" validate:"required,max=64"`
}

func (h *APIHandler) ChangeStageHandler(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.respondWithLead(w, r, "stage", func(ctx context.Context, leadID string) (*store.Lead, error) {
		return h.leadService.ChangeStage(ctx, leadID, req.Stage)
	})
}

// AssignmentRequest clears the assignment when AssignedTo is "".
type AssignmentRequest struct {
	AssignedTo *string `json:"assignedTo" validate:"required,max=128"`
}

func (h *APIHandler) ChangeAssignmentHandler(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.respondWithLead(w, r, "assignment", func(ctx context.Context, leadID string) (*store.Lead, error) {
		return h.leadService.ChangeAssignment(ctx, leadID, *req.AssignedTo)
	})
}

func (h *APIHandler) RecalculateHandler(w http.ResponseWriter, r *http.Request) {
	h.respondWithLead(w, r, "recalculate", h.leadService.Recalculate)
}

func (h *APIHandler) respondWithLead(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) (*store.Lead, error)) {
	leadID := chi.URLParam(r, "leadID")
	lead, err := fn(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"lead_id":          leadID,
		"action":           action,
		"actor":            subjectFrom(r.Context()),
		"deal_probability": lead.DealProbability,
	}).Info("Lead updated")
	writeJSON(w, http.StatusOK, lead)
}

type CustomizationRequest struct {
	BrandVoice    store.BrandVoice    `json:"brand_voice"`
	BusinessFocus store.BusinessFocus `json:"business_focus"`
	Guardrails    store.Guardrails    `json:"guardrails"`
}

func (h *APIHandler) PutCustomizationHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var req CustomizationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	custom := &store.TenantCustomization{
		TenantID:      tenantID,
		BrandVoice:    req.BrandVoice,
		BusinessFocus: req.BusinessFocus,
		Guardrails:    req.Guardrails,
	}
	if err := h.tenants.UpsertCustomization(r.Context(), custom); err != nil {
		writeError(w, fmt.Errorf("%w: %w", core.ErrPersistence, err))
		return
	}
	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(r.Context(), tenantID); err != nil {
			logrus.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to invalidate cached customization")
		}
	}
	writeJSON(w, http.StatusOK, custom)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeError maps a service error onto a status and a message that is safe
// to show to the caller.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	default:
		logrus.WithError(err).Error("Request failed")
	}
	writeJSONError(w, status, core.UserMessage(err))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}
