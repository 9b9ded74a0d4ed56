package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intellixdoc/internal/answer"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/model"
	"intellixdoc/internal/retrieval"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *model.Chat) error
	GetByID(ctx context.Context, id uint) (*model.Chat, error)
	List(ctx context.Context, limit int) ([]model.Chat, error)
	Touch(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	ListByChatID(ctx context.Context, chatID uint, limit int) ([]model.Message, error)
	ListRecentByChatID(ctx context.Context, chatID uint, n int) ([]model.Message, error)
}

type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, chatID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, chatID uint, messages []model.Message) error
	AppendHistory(ctx context.Context, chatID uint, limit int, messages ...model.Message) error
	DeleteHistory(ctx context.Context, chatID uint) error
	MarkDirty(ctx context.Context, chatID uint) error
	ClearDirty(ctx context.Context, chatID uint) error
	IsDirty(ctx context.Context, chatID uint) (bool, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Result, error)
}

type Composer interface {
	Compose(ctx context.Context, question string, history []model.Message, retrieved retrieval.Result) answer.Answer
}

type ChatService struct {
	chatRepo     ChatRepository
	messageRepo  MessageRepository
	docs         DocumentLookup
	historyCache HistoryCache
	retriever    Retriever
	composer     Composer
	maxContext   int
}

// NewChatService builds the chat service. historyCache may be nil.
func NewChatService(
	chatRepo ChatRepository,
	messageRepo MessageRepository,
	docs DocumentLookup,
	historyCache HistoryCache,
	retriever Retriever,
	composer Composer,
	maxContext int,
) *ChatService {
	if maxContext <= 0 {
		maxContext = answer.DefaultHistoryWindow
	}
	return &ChatService{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		docs:         docs,
		historyCache: historyCache,
		retriever:    retriever,
		composer:     composer,
		maxContext:   maxContext,
	}
}

type CreateChatInput struct {
	Title      string
	DocumentID *string
}

func (s *ChatService) CreateChat(ctx context.Context, input CreateChatInput) (*model.Chat, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = model.DefaultChatTitle
	}

	chat := &model.Chat{Title: title}
	if input.DocumentID != nil && strings.TrimSpace(*input.DocumentID) != "" {
		id := strings.TrimSpace(*input.DocumentID)
		doc, err := s.docs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
		}
		chat.DocumentID = &id
	}

	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, limit int) ([]model.Chat, error) {
	return s.chatRepo.List(ctx, limit)
}

func (s *ChatService) GetChat(ctx context.Context, chatID uint) (*model.Chat, error) {
	if chatID == 0 {
		return nil, ErrInvalidInput
	}
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrNotFound
	}
	return chat, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID uint) error {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	if err := s.chatRepo.Delete(ctx, chatID); err != nil {
		return err
	}
	if s.historyCache != nil {
		if err := s.historyCache.DeleteHistory(ctx, chatID); err != nil {
			logger.Warn("chat: clear history cache for %d failed: %v", chatID, err)
		}
	}
	return nil
}

func (s *ChatService) ListMessages(ctx context.Context, chatID uint, limit int) ([]model.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.messageRepo.ListByChatID(ctx, chatID, limit)
}

// SendMessage answers content within a chat and returns the persisted
// assistant message. Retrieval and generation failures become a fallback
// reply rather than an error, so the turn is always recorded.
func (s *ChatService) SendMessage(ctx context.Context, chatID uint, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrInvalidInput
	}
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	history, err := s.history(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, chatID)
	}
	userMessage := &model.Message{
		ChatID:    chatID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.messageRepo.Create(ctx, userMessage); err != nil {
		return nil, err
	}

	reply := s.answer(ctx, chat, content, history)

	citations := make([]model.Citation, len(reply.Citations))
	for i, c := range reply.Citations {
		citations[i] = c.Preview()
	}
	assistantMessage := &model.Message{
		ChatID:    chatID,
		Role:      model.RoleAssistant,
		Content:   reply.Content,
		Citations: citations,
		Fallback:  reply.Fallback,
		CreatedAt: time.Now(),
	}
	if err := s.messageRepo.Create(ctx, assistantMessage); err != nil {
		return nil, err
	}
	if err := s.chatRepo.Touch(ctx, chatID); err != nil {
		logger.Warn("chat: touch %d failed: %v", chatID, err)
	}

	if s.historyCache != nil {
		if err := s.historyCache.AppendHistory(ctx, chatID, s.maxContext, *userMessage, *assistantMessage); err != nil {
			_ = s.historyCache.DeleteHistory(ctx, chatID)
		} else {
			_ = s.historyCache.ClearDirty(ctx, chatID)
		}
	}
	return assistantMessage, nil
}

func (s *ChatService) answer(ctx context.Context, chat *model.Chat, question string, history []model.Message) answer.Answer {
	query := retrieval.Query{Text: question}
	if chat.DocumentID != nil {
		query.DocumentIDs = []string{*chat.DocumentID}
	}
	retrieved, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		logger.Warn("chat: retrieval for chat %d failed, returning fallback: %v", chat.ID, err)
		return answer.Answer{Content: answer.FallbackReply, Fallback: true}
	}
	return s.composer.Compose(ctx, question, history, retrieved)
}

// history returns the chat's recent messages, oldest first, from the cache
// when it is clean and from the database otherwise.
func (s *ChatService) history(ctx context.Context, chatID uint) ([]model.Message, error) {
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, chatID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, chatID); cacheErr == nil && hit {
				return trimMessages(cached, s.maxContext), nil
			}
		}
	}

	messages, err := s.messageRepo.ListRecentByChatID(ctx, chatID, s.maxContext)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, chatID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, chatID, messages)
		}
	}
	return messages, nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
