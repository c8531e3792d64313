package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"luxeconcierge.com/lead-intake/internal/store"
)

var errBoom = errors.New("boom")

// memRepo is an in-memory Repository. Setting a fail* field makes that call
// return errBoom.
type memRepo struct {
	mu            sync.Mutex
	now           func() time.Time
	conversations map[string]*store.Conversation
	messages      map[string][]store.Message
	leads         map[string]*store.Lead

	failInsertConversation bool
	failGetConversation    bool
	failInsertMessages     bool
	failInsertLead         bool
	failUpdateLead         bool

	insertLeadCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{
		now:           time.Now,
		conversations: map[string]*store.Conversation{},
		messages:      map[string][]store.Message{},
		leads:         map[string]*store.Lead{},
	}
}

func (r *memRepo) InsertConversation(_ context.Context, conv *store.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertConversation {
		return errBoom
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.CreatedAt, conv.UpdatedAt = r.now(), r.now()
	c := *conv
	r.conversations[conv.ID] = &c
	return nil
}

func (r *memRepo) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetConversation {
		return nil, errBoom
	}
	c, ok := r.conversations[id]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

func (r *memRepo) UpdateConversation(_ context.Context, id string, patch store.ConversationPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	if patch.Metadata != nil {
		m := *patch.Metadata
		c.Metadata = &m
	}
	c.UpdatedAt = r.now()
	return nil
}

func (r *memRepo) LinkLead(_ context.Context, conversationID, leadID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return "", fmt.Errorf("conversation %s: %w", conversationID, store.ErrNotFound)
	}
	if c.LeadID == nil {
		id := leadID
		c.LeadID = &id
	}
	return *c.LeadID, nil
}

func (r *memRepo) InsertMessages(_ context.Context, conversationID string, msgs []store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertMessages {
		return errBoom
	}
	for _, m := range msgs {
		m.ID = uuid.NewString()
		m.ConversationID = conversationID
		m.CreatedAt = r.now()
		r.messages[conversationID] = append(r.messages[conversationID], m)
	}
	return nil
}

func (r *memRepo) GetMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := append([]store.Message(nil), r.messages[conversationID]...)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *memRepo) InsertLead(_ context.Context, lead *store.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLeadCalls++
	if r.failInsertLead {
		return errBoom
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Stage == "" {
		lead.Stage = "new"
	}
	lead.CreatedAt, lead.UpdatedAt = r.now(), r.now()
	l := *lead
	r.leads[lead.ID] = &l
	return nil
}

func (r *memRepo) GetLead(_ context.Context, id string) (*store.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, nil
	}
	out := *l
	return &out, nil
}

func (r *memRepo) UpdateLead(_ context.Context, id string, p store.LeadPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateLead {
		return errBoom
	}
	l, ok := r.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	text := func(dst **string, v *string) {
		if v == nil {
			return
		}
		if *v == "" {
			*dst = nil
			return
		}
		s := *v
		*dst = &s
	}
	text(&l.ContactName, p.ContactName)
	text(&l.Email, p.Email)
	text(&l.Phone, p.Phone)
	text(&l.BusinessName, p.BusinessName)
	text(&l.Category, p.Category)
	text(&l.Location, p.Location)
	text(&l.Website, p.Website)
	text(&l.Notes, p.Notes)
	text(&l.Priority, p.Priority)
	text(&l.IntentTiming, p.IntentTiming)
	text(&l.AssignedTo, p.AssignedTo)
	if p.Score != nil {
		v := *p.Score
		l.Score = &v
	}
	if p.Stage != nil {
		l.Stage = *p.Stage
	}
	if p.InvitedAt != nil {
		v := *p.InvitedAt
		l.InvitedAt = &v
	}
	if p.PriorityOverridden != nil {
		l.PriorityOverridden = *p.PriorityOverridden
	}
	if p.DealProbability != nil {
		l.DealProbability = *p.DealProbability
	}
	l.UpdatedAt = r.now()
	return nil
}

func (r *memRepo) SetDealProbability(_ context.Context, id string, probability int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return fmt.Errorf("lead %s: %w", id, store.ErrNotFound)
	}
	l.DealProbability = probability
	return nil
}

func (r *memRepo) leadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leads)
}

func (r *memRepo) messageContents(conversationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.messages[conversationID] {
		out = append(out, m.Content)
	}
	return out
}

// fakeCompleter returns canned replies and records every call.
type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	panics  bool
	calls   int
	prompts []string
	turns   [][]Turn
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt string, turns []Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, systemPrompt)
	f.turns = append(f.turns, append([]Turn(nil), turns...))
	if f.panics {
		panic("provider exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "Lovely to hear from you.", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []HotLeadEvent
	err    error
}

func (n *fakeNotifier) NotifyHotLead(_ context.Context, event HotLeadEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *fakeNotifier) received() []HotLeadEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]HotLeadEvent(nil), n.events...)
}

type fakeCustomizations struct {
	records map[string]*store.TenantCustomization
	err     error
}

func (f *fakeCustomizations) GetCustomization(_ context.Context, tenantID string) (*store.TenantCustomization, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[tenantID], nil
}

type fakeKnowledge struct {
	chunks map[string][]store.KnowledgeChunk
	err    error
}

func (f *fakeKnowledge) GetKnowledgeChunks(_ context.Context, tenantID string) ([]store.KnowledgeChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks[tenantID], nil
}

// fakeEmbedder maps known texts to fixed vectors; anything else embeds to
// the first axis.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func intp(v int) *int       { return &v }
func strp(s string) *string { return &s }
