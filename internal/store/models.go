package store

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	KindCouple = "couple"
	KindVendor = "vendor"
)

type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Kind      string    `json:"kind"`
	LeadID    *string   `json:"lead_id"`            // Set at most once
	Metadata  *string   `json:"metadata,omitempty"` // Last side-channel object, raw JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user" or "assistant"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Lead struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Source   string `json:"source"`

	ContactName  *string `json:"contact_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	BusinessName *string `json:"business_name,omitempty"`
	Category     *string `json:"category,omitempty"`
	Location     *string `json:"location,omitempty"`
	Website      *string `json:"website,omitempty"`
	Notes        *string `json:"notes,omitempty"`

	Score              *int       `json:"score"`
	Priority           *string    `json:"priority"`
	Stage              string     `json:"stage"`
	IntentTiming       *string    `json:"intent_timing"`
	AssignedTo         *string    `json:"assigned_to"`
	InvitedAt          *time.Time `json:"invited_at"`
	PriorityOverridden bool       `json:"priority_overridden"`
	DealProbability    int        `json:"deal_probability"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationPatch carries the mutable conversation columns. Nil fields are
// left untouched. Lead linkage goes through LinkLead instead.
type ConversationPatch struct {
	Metadata *string
}

// LeadPatch carries the mutable lead columns. Nil fields are left untouched;
// a pointer to an empty string clears a nullable text column.
type LeadPatch struct {
	ContactName  *string
	Email        *string
	Phone        *string
	BusinessName *string
	Category     *string
	Location     *string
	Website      *string
	Notes        *string

	Score              *int
	Priority           *string
	Stage              *string
	IntentTiming       *string
	AssignedTo         *string
	InvitedAt          *time.Time
	PriorityOverridden *bool
	DealProbability    *int
}

type BrandVoice struct {
	Tone             string   `json:"tone"`
	Personality      string   `json:"personality"`
	SignaturePhrases []string `json:"signature_phrases"`
}

type BusinessFocus struct {
	Services     []string `json:"services"`
	IdealClients string   `json:"ideal_clients"`
	Regions      []string `json:"regions"`
}

type Guardrails struct {
	AvoidTopics       []string `json:"avoid_topics"`
	EscalationContact string   `json:"escalation_contact"`
	CustomRules       []string `json:"custom_rules"`
}

type TenantCustomization struct {
	TenantID      string        `json:"tenant_id"`
	BrandVoice    BrandVoice    `json:"brand_voice"`
	BusinessFocus BusinessFocus `json:"business_focus"`
	Guardrails    Guardrails    `json:"guardrails"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type KnowledgeChunk struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"`
	EmbeddingJSON string    `json:"-"`
}
