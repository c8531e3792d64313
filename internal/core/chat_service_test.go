package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"luxeconcierge.com/lead-intake/internal/store"
)

type chatFixture struct {
	repo      *memRepo
	completer *fakeCompleter
	notifier  *fakeNotifier
	service   *ChatService
}

func newChatFixture(replies ...string) *chatFixture {
	repo := newMemRepo()
	completer := &fakeCompleter{replies: replies}
	notifier := &fakeNotifier{}
	leads := NewLeadService(repo, DefaultScoringRules())
	service := NewChatService(repo, completer, NewPromptAssembler(nil), nil, leads, notifier)
	return &chatFixture{repo: repo, completer: completer, notifier: notifier, service: service}
}

func userSays(content string) []Turn {
	return []Turn{{Role: RoleUserTurn, Content: content}}
}

const hotVendorReply = "We would be delighted to feature you." +
	MetadataStartMarker +
	`{"business_name": "Belmond Villa", "category": "venue", "location": "Lake Como", "website": "belmond.com", "intent_timing": "immediate", "luxury_positioning": true}` +
	MetadataEndMarker

func TestHandleTurnRejectsEmptyMessages(t *testing.T) {
	f := newChatFixture()

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{TenantID: "aurora"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrValidation)

	var turnErr *TurnError
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, StateReceived, turnErr.State)

	assert.Equal(t, 0, f.completer.callCount(), "no provider call for an invalid turn")
	assert.Empty(t, f.repo.conversations, "nothing is persisted for an invalid turn")
}

func TestHandleTurnValidationMessageIsCallerSafe(t *testing.T) {
	f := newChatFixture()
	hook := logtest.NewGlobal()
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })

	_, err := f.service.HandleTurn(context.Background(), TurnRequest{})
	require.Error(t, err)

	msg := UserMessage(err)
	assert.Equal(t, "messages must not be empty", msg)
	assert.NotContains(t, msg, string(StateReceived))
	assert.NotContains(t, msg, "state")
	assert.NotEqual(t, GenericFailureMessage, msg)

	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, "rejected input is not reported as an error: %s", entry.Message)
	}
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "stage must not be empty", UserMessage(&TurnError{State: StateReceived, Err: validationError("stage must not be empty")}))
	assert.Equal(t, InvalidRequestMessage, UserMessage(fmt.Errorf("%w: bare", ErrValidation)))
	assert.Equal(t, "The requested record was not found.", UserMessage(fmt.Errorf("lead x: %w", ErrNotFound)))
	assert.Equal(t, GenericFailureMessage, UserMessage(&TurnError{State: StatePrompted, Err: ErrProvider}))
}

func TestHandleTurnRejectsInvalidLastMessage(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	_, err := f.service.HandleTurn(ctx, TurnRequest{Messages: []Turn{{Role: RoleAssistantTurn, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.HandleTurn(ctx, TurnRequest{Messages: userSays("   ")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.service.HandleTurn(ctx, TurnRequest{Messages: []Turn{{Role: "system", Content: "x"}, {Role: RoleUserTurn, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 0, f.completer.callCount())
}

func TestHandleTurnPlainReply(t *testing.T) {
	f := newChatFixture("Congratulations on your engagement!")

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{
		TenantID: "aurora",
		Messages: userSays("We just got engaged"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Congratulations on your engagement!", result.Reply)
	assert.Nil(t, result.Metadata)
	assert.Nil(t, result.Lead)
	require.NotEmpty(t, result.ConversationID)

	conv, _ := f.repo.GetConversation(context.Background(), result.ConversationID)
	require.NotNil(t, conv)
	assert.Equal(t, "aurora", conv.TenantID)
	assert.Equal(t, store.KindCouple, conv.Kind)
	assert.Equal(t, []string{"We just got engaged", "Congratulations on your engagement!"}, f.repo.messageContents(result.ConversationID))
	assert.Equal(t, 0, f.repo.leadCount())
}

func TestHandleTurnHotLead(t *testing.T) {
	f := newChatFixture(hotVendorReply, hotVendorReply)
	ctx := context.Background()

	result, err := f.service.HandleTurn(ctx, TurnRequest{
		ConversationID: "conv-1",
		TenantID:       "aurora",
		Role:           RoleVendor,
		Messages:       userSays("As the owner, I'd love to join."),
	})
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, "We would be delighted to feature you.", result.Reply)
	assert.NotContains(t, result.Reply, MetadataStartMarker)
	assert.Equal(t, "Belmond Villa", result.Metadata["business_name"])
	assert.Equal(t, PriorityHot, result.Score.Tier)
	require.NotNil(t, result.Lead)
	assert.True(t, result.Lead.Created)
	assert.Equal(t, 100, result.Lead.Score)

	events := f.notifier.received()
	require.Len(t, events, 1, "one notification per qualifying turn")
	assert.Equal(t, result.Lead.LeadID, events[0].LeadID)
	assert.Equal(t, "conv-1", events[0].ConversationID)

	conv, _ := f.repo.GetConversation(ctx, "conv-1")
	require.NotNil(t, conv.Metadata)
	assert.JSONEq(t, `{"business_name": "Belmond Villa", "category": "venue", "location": "Lake Como", "website": "belmond.com", "intent_timing": "immediate", "luxury_positioning": true}`, *conv.Metadata)
	for _, content := range f.repo.messageContents("conv-1") {
		assert.NotContains(t, content, MetadataStartMarker, "the side channel is never stored as visible text")
	}

	again, err := f.service.HandleTurn(ctx, TurnRequest{
		ConversationID: "conv-1",
		Role:           RoleVendor,
		Messages:       userSays("When can we start?"),
	})
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, result.Lead.LeadID, again.Lead.LeadID, "the linked lead is updated, not duplicated")
	assert.False(t, again.Lead.Created)
	assert.Equal(t, 1, f.repo.leadCount())
	assert.Len(t, f.notifier.received(), 2)
}

func TestHandleTurnLoadsPersistedHistory(t *testing.T) {
	f := newChatFixture("first answer", "second answer")
	ctx := context.Background()

	first, err := f.service.HandleTurn(ctx, TurnRequest{Messages: userSays("first question")})
	require.NoError(t, err)

	_, err = f.service.HandleTurn(ctx, TurnRequest{ConversationID: first.ConversationID, Messages: userSays("second question")})
	require.NoError(t, err)

	require.Len(t, f.completer.turns, 2)
	assert.Equal(t, []Turn{
		{Role: RoleUserTurn, Content: "first question"},
		{Role: RoleAssistantTurn, Content: "first answer"},
		{Role: RoleUserTurn, Content: "second question"},
	}, f.completer.turns[1])
}

func TestHandleTurnUsesStoredTenant(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	conv := &store.Conversation{ID: "conv-t", TenantID: "aurora", Kind: store.KindCouple}
	require.NoError(t, f.repo.InsertConversation(ctx, conv))

	source := &fakeCustomizations{records: map[string]*store.TenantCustomization{
		"aurora": {TenantID: "aurora", BrandVoice: store.BrandVoice{Tone: "aurora-tone"}},
		"other":  {TenantID: "other", BrandVoice: store.BrandVoice{Tone: "other-tone"}},
	}}
	f.service.prompts = NewPromptAssembler(source)

	_, err := f.service.HandleTurn(ctx, TurnRequest{ConversationID: "conv-t", TenantID: "other", Messages: userSays("hello")})
	require.NoError(t, err)
	assert.Contains(t, f.completer.prompts[0], "aurora-tone")
	assert.NotContains(t, f.completer.prompts[0], "other-tone")
}

func TestHandleTurnKeepsStoredPersona(t *testing.T) {
	f := newChatFixture("Welcome back.", "Welcome back.")
	ctx := context.Background()
	conv := &store.Conversation{ID: "conv-v", TenantID: "aurora", Kind: store.KindVendor}
	require.NoError(t, f.repo.InsertConversation(ctx, conv))

	_, err := f.service.HandleTurn(ctx, TurnRequest{ConversationID: "conv-v", Messages: userSays("Any news?")})
	require.NoError(t, err)
	assert.Contains(t, f.completer.prompts[0], roleTemplates[RoleVendor])

	_, err = f.service.HandleTurn(ctx, TurnRequest{ConversationID: "conv-v", Role: RoleCouple, Messages: userSays("Any news?")})
	require.NoError(t, err)
	assert.Contains(t, f.completer.prompts[1], roleTemplates[RoleCouple], "an explicit role wins")
}

func TestHandleTurnProviderFailure(t *testing.T) {
	f := newChatFixture()
	f.completer.err = errors.New("deadline exceeded")

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{Messages: userSays("hello")})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrProvider)
	assert.False(t, errors.Is(err, ErrValidation))

	var turnErr *TurnError
	require.True(t, errors.As(err, &turnErr))
	assert.Equal(t, StatePrompted, turnErr.State)
	assert.Equal(t, GenericFailureMessage, UserMessage(err))
	assert.Empty(t, f.repo.conversations)
}

func TestHandleTurnRecoversFromPanic(t *testing.T) {
	f := newChatFixture()
	f.completer.panics = true

	var err error
	require.NotPanics(t, func() {
		_, err = f.service.HandleTurn(context.Background(), TurnRequest{Messages: userSays("hello")})
	})
	assert.ErrorIs(t, err, ErrTurnFailed)
	assert.Equal(t, GenericFailureMessage, UserMessage(err))
}

func TestHandleTurnToleratesPersistenceFailures(t *testing.T) {
	f := newChatFixture(hotVendorReply)
	f.repo.failInsertMessages = true
	f.repo.failInsertLead = true

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{
		ConversationID: "conv-p",
		Role:           RoleVendor,
		Messages:       userSays("hello"),
	})
	require.NoError(t, err)
	f.service.Wait()

	assert.Equal(t, "We would be delighted to feature you.", result.Reply)
	assert.Nil(t, result.Lead)
	assert.Equal(t, 1, f.repo.insertLeadCalls)

	conv, _ := f.repo.GetConversation(context.Background(), "conv-p")
	require.NotNil(t, conv, "the conversation write is independent of the failed ones")
	assert.NotNil(t, conv.Metadata)

	events := f.notifier.received()
	require.Len(t, events, 1, "the HOT notification still fires")
	assert.Empty(t, events[0].LeadID)
}

func TestHandleTurnSurvivesConversationLookupFailure(t *testing.T) {
	f := newChatFixture("still here")
	f.repo.failGetConversation = true

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{ConversationID: "conv-x", Messages: userSays("hello")})
	require.NoError(t, err)
	assert.Equal(t, "still here", result.Reply)
	assert.Equal(t, "conv-x", result.ConversationID)
}

func TestHandleTurnNotificationFailureDoesNotFailTurn(t *testing.T) {
	f := newChatFixture(hotVendorReply)
	f.notifier.err = errBoom

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{Role: RoleVendor, Messages: userSays("hello")})
	require.NoError(t, err)
	f.service.Wait()
	assert.NotNil(t, result.Lead)
	assert.Len(t, f.notifier.received(), 1)
}

func TestHandleTurnMalformedMetadataStillReplies(t *testing.T) {
	f := newChatFixture("Thanks!" + MetadataStartMarker + `{"business_name": ` + MetadataEndMarker)

	result, err := f.service.HandleTurn(context.Background(), TurnRequest{Role: RoleVendor, Messages: userSays("hello")})
	require.NoError(t, err)
	assert.Equal(t, "Thanks!", result.Reply)
	assert.Nil(t, result.Metadata)
	assert.Nil(t, result.Lead)
}
