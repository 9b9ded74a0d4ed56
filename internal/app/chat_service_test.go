package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intellixdoc/internal/answer"
	"intellixdoc/internal/model"
	"intellixdoc/internal/repository/memstore"
	"intellixdoc/internal/retrieval"
)

type fakeRetriever struct {
	result  retrieval.Result
	err     error
	queries []retrieval.Query
}

func (r *fakeRetriever) Retrieve(_ context.Context, q retrieval.Query) (retrieval.Result, error) {
	r.queries = append(r.queries, q)
	return r.result, r.err
}

type fakeComposer struct {
	histories [][]model.Message
}

func (c *fakeComposer) Compose(_ context.Context, question string, history []model.Message, retrieved retrieval.Result) answer.Answer {
	c.histories = append(c.histories, history)
	if retrieved.Empty() {
		return answer.Answer{Content: answer.NoContextReply}
	}
	return answer.Answer{Content: "answer to " + question, Citations: retrieved.Citations}
}

type memoryHistoryCache struct {
	mu      sync.Mutex
	history map[uint][]model.Message
	dirty   map[uint]bool
}

func newMemoryHistoryCache() *memoryHistoryCache {
	return &memoryHistoryCache{history: map[uint][]model.Message{}, dirty: map[uint]bool{}}
}

func (c *memoryHistoryCache) GetHistory(_ context.Context, id uint) ([]model.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[id]
	return append([]model.Message(nil), h...), ok, nil
}

func (c *memoryHistoryCache) SetHistory(_ context.Context, id uint, m []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[id] = append([]model.Message(nil), m...)
	return nil
}

func (c *memoryHistoryCache) AppendHistory(_ context.Context, id uint, limit int, m ...model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.history[id]
	if !ok {
		return nil
	}
	h = append(h, m...)
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	c.history[id] = h
	return nil
}

func (c *memoryHistoryCache) DeleteHistory(_ context.Context, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, id)
	delete(c.dirty, id)
	return nil
}

func (c *memoryHistoryCache) MarkDirty(_ context.Context, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[id] = true
	return nil
}

func (c *memoryHistoryCache) ClearDirty(_ context.Context, id uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, id)
	return nil
}

func (c *memoryHistoryCache) IsDirty(_ context.Context, id uint) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[id], nil
}

type chatFixture struct {
	docs      *memstore.Documents
	messages  *memstore.Messages
	cache     *memoryHistoryCache
	retriever *fakeRetriever
	composer  *fakeComposer
	svc       *ChatService
}

func newChatFixture() *chatFixture {
	f := &chatFixture{
		docs:      memstore.NewDocuments(nil),
		messages:  memstore.NewMessages(),
		cache:     newMemoryHistoryCache(),
		retriever: &fakeRetriever{},
		composer:  &fakeComposer{},
	}
	f.svc = NewChatService(memstore.NewChats(f.messages), f.messages, f.docs, f.cache, f.retriever, f.composer, 4)
	return f
}

func TestCreateChatDefaultsAndScope(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()

	chat, err := f.svc.CreateChat(ctx, CreateChatInput{})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultChatTitle, chat.Title)
	assert.Nil(t, chat.DocumentID)

	missing := "nope"
	_, err = f.svc.CreateChat(ctx, CreateChatInput{DocumentID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.docs.Create(ctx, &model.Document{ID: "d1", Status: model.DocumentCompleted}))
	id := "d1"
	scoped, err := f.svc.CreateChat(ctx, CreateChatInput{Title: " Q3 report ", DocumentID: &id})
	require.NoError(t, err)
	assert.Equal(t, "Q3 report", scoped.Title)
	require.NotNil(t, scoped.DocumentID)
	assert.Equal(t, "d1", *scoped.DocumentID)
}

func TestSendMessagePersistsTurnWithCitations(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	require.NoError(t, f.docs.Create(ctx, &model.Document{ID: "d1", Status: model.DocumentCompleted}))
	docID := "d1"
	chat, err := f.svc.CreateChat(ctx, CreateChatInput{DocumentID: &docID})
	require.NoError(t, err)

	long := strings.Repeat("a", 250)
	f.retriever.result = retrieval.Result{Citations: []model.Citation{
		{DocumentID: "d1", ChunkID: "c1", Filename: "r.pdf", PageNumber: 2, ChunkText: long, Score: 0.8},
	}}

	msg, err := f.svc.SendMessage(ctx, chat.ID, "  what is on page two?  ")
	require.NoError(t, err)

	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "answer to what is on page two?", msg.Content)
	assert.False(t, msg.Fallback)
	require.Len(t, msg.Citations, 1)
	assert.Equal(t, 2, msg.Citations[0].PageNumber)
	assert.Equal(t, strings.Repeat("a", 200)+"...", msg.Citations[0].ChunkText)

	require.Len(t, f.retriever.queries, 1)
	assert.Equal(t, []string{"d1"}, f.retriever.queries[0].DocumentIDs)

	stored, err := f.svc.ListMessages(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, model.RoleUser, stored[0].Role)
	assert.Equal(t, "what is on page two?", stored[0].Content)
	assert.Equal(t, msg.ID, stored[1].ID)
}

func TestSendMessageFallsBackWhenRetrievalFails(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	chat, err := f.svc.CreateChat(ctx, CreateChatInput{})
	require.NoError(t, err)
	f.retriever.err = errors.New("index unreachable")

	msg, err := f.svc.SendMessage(ctx, chat.ID, "hello?")
	require.NoError(t, err)
	assert.True(t, msg.Fallback)
	assert.Equal(t, answer.FallbackReply, msg.Content)
	assert.Empty(t, msg.Citations)
	assert.Empty(t, f.composer.histories)

	stored, _ := f.svc.ListMessages(ctx, chat.ID, 0)
	assert.Len(t, stored, 2)
}

func TestSendMessageUsesPriorTurnsAsHistory(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	chat, err := f.svc.CreateChat(ctx, CreateChatInput{})
	require.NoError(t, err)

	for _, q := range []string{"first", "second", "third"} {
		_, err := f.svc.SendMessage(ctx, chat.ID, q)
		require.NoError(t, err)
	}

	require.Len(t, f.composer.histories, 3)
	assert.Empty(t, f.composer.histories[0])
	assert.Len(t, f.composer.histories[1], 2)
	last := f.composer.histories[2]
	require.Len(t, last, 4)
	assert.Equal(t, "first", last[0].Content)
	assert.Equal(t, "second", last[2].Content)

	cached, hit, _ := f.cache.GetHistory(ctx, chat.ID)
	require.True(t, hit)
	assert.Len(t, cached, 4)
	assert.Equal(t, "third", cached[2].Content)
	dirty, _ := f.cache.IsDirty(ctx, chat.ID)
	assert.False(t, dirty)
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture()
	_, err := f.svc.SendMessage(context.Background(), 42, "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	chat, _ := f.svc.CreateChat(context.Background(), CreateChatInput{})
	_, err = f.svc.SendMessage(context.Background(), chat.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteChatClearsMessagesAndCache(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	chat, _ := f.svc.CreateChat(ctx, CreateChatInput{})
	_, err := f.svc.SendMessage(ctx, chat.ID, "hello")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteChat(ctx, chat.ID))

	_, err = f.svc.GetChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, hit, _ := f.cache.GetHistory(ctx, chat.ID)
	assert.False(t, hit)
	msgs, _ := f.messages.ListByChatID(ctx, chat.ID, 0)
	assert.Empty(t, msgs)
}
