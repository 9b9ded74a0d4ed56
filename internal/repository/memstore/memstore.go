// Package memstore is an in-memory metadata store with the same method
// set and semantics as the gorm repositories. It backs single-process
// development runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"intellixdoc/internal/model"
	"intellixdoc/internal/repository"
)

type Documents struct {
	mu      sync.RWMutex
	docs    map[string]model.Document
	history map[string][]model.DocumentStatus
	chunks  *Chunks
}

// NewDocuments returns a document store. Deleting a document also drops
// its rows from chunks, when chunks is non-nil.
func NewDocuments(chunks *Chunks) *Documents {
	return &Documents{
		docs:    make(map[string]model.Document),
		history: make(map[string][]model.DocumentStatus),
		chunks:  chunks,
	}
}

func (s *Documents) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	s.docs[doc.ID] = *doc
	s.history[doc.ID] = []model.DocumentStatus{doc.Status}
	return nil
}

func (s *Documents) GetByID(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *Documents) List(_ context.Context, limit int) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Documents) CompletedIDs(_ context.Context, scope []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if scope != nil && len(scope) == 0 {
		return nil, nil
	}
	allowed := make(map[string]bool, len(scope))
	for _, id := range scope {
		allowed[id] = true
	}
	var docs []model.Document
	for id, d := range s.docs {
		if d.Status == model.DocumentCompleted && (scope == nil || allowed[id]) {
			docs = append(docs, d)
		}
	}
	sortOldestFirst(docs)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *Documents) PendingIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []model.Document
	for _, d := range s.docs {
		if d.Status == model.DocumentQueued || d.Status == model.DocumentProcessing {
			docs = append(docs, d)
		}
	}
	sortOldestFirst(docs)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *Documents) Statuses(_ context.Context, ids []string) (map[string]model.DocumentStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.DocumentStatus, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d.Status
		}
	}
	return out, nil
}

func (s *Documents) MarkProcessing(_ context.Context, id string) error {
	return s.update(id, model.ProcessableStatuses, func(d *model.Document) {
		d.Status = model.DocumentProcessing
		d.ErrorDetail = nil
		d.Attempts++
	})
}

func (s *Documents) MarkCompleted(_ context.Context, id string, pageCount, chunkCount int) error {
	return s.update(id, nil, func(d *model.Document) {
		d.Status = model.DocumentCompleted
		d.PageCount = pageCount
		d.ChunkCount = chunkCount
		d.ErrorDetail = nil
	})
}

func (s *Documents) MarkFailed(_ context.Context, id string, reason string) error {
	return s.update(id, nil, func(d *model.Document) {
		d.Status = model.DocumentFailed
		d.ErrorDetail = &reason
	})
}

func (s *Documents) MarkQueued(_ context.Context, id string, from ...model.DocumentStatus) error {
	return s.update(id, from, func(d *model.Document) {
		d.Status = model.DocumentQueued
		d.ErrorDetail = nil
	})
}

func (s *Documents) update(id string, from []model.DocumentStatus, fn func(*model.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return repository.ErrNoRows
	}
	if len(from) > 0 {
		allowed := false
		for _, st := range from {
			if d.Status == st {
				allowed = true
			}
		}
		if !allowed {
			return repository.ErrNoRows
		}
	}
	fn(&d)
	d.UpdatedAt = time.Now()
	s.docs[id] = d
	s.history[id] = append(s.history[id], d.Status)
	return nil
}

func (s *Documents) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	if s.chunks != nil {
		return s.chunks.DeleteByDocumentID(ctx, id)
	}
	return nil
}

// History returns every status a document has held, in order.
func (s *Documents) History(id string) []model.DocumentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.DocumentStatus(nil), s.history[id]...)
}

type Chunks struct {
	mu   sync.RWMutex
	rows map[string][]model.Chunk
}

func NewChunks() *Chunks {
	return &Chunks{rows: make(map[string][]model.Chunk)}
}

// Replace installs chunks only if commit succeeds, like the gorm version.
func (s *Chunks) Replace(ctx context.Context, documentID string, chunks []model.Chunk, commit func(context.Context) error) error {
	if commit != nil {
		if err := commit(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[documentID] = append([]model.Chunk(nil), chunks...)
	return nil
}

func (s *Chunks) ListByDocumentID(_ context.Context, documentID string) ([]model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Chunk(nil), s.rows[documentID]...), nil
}

func (s *Chunks) DeleteByDocumentID(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, documentID)
	return nil
}

type Chats struct {
	mu     sync.RWMutex
	nextID uint
	chats  map[uint]model.Chat
	msgs   *Messages
}

func NewChats(msgs *Messages) *Chats {
	return &Chats{chats: make(map[uint]model.Chat), msgs: msgs}
}

func (s *Chats) Create(_ context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	chat.ID = s.nextID
	now := time.Now()
	chat.CreatedAt, chat.UpdatedAt = now, now
	s.chats[chat.ID] = *chat
	return nil
}

func (s *Chats) GetByID(_ context.Context, id uint) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Chats) List(_ context.Context, limit int) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Chats) Touch(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[id]; ok {
		c.UpdatedAt = time.Now()
		s.chats[id] = c
	}
	return nil
}

func (s *Chats) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	delete(s.chats, id)
	s.mu.Unlock()
	if s.msgs != nil {
		s.msgs.deleteByChatID(id)
	}
	return nil
}

type Messages struct {
	mu     sync.RWMutex
	nextID uint
	msgs   []model.Message
}

func NewMessages() *Messages {
	return &Messages{}
}

func (s *Messages) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.msgs = append(s.msgs, *m)
	return nil
}

func (s *Messages) ListByChatID(_ context.Context, chatID uint, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Messages) ListRecentByChatID(ctx context.Context, chatID uint, n int) ([]model.Message, error) {
	all, _ := s.ListByChatID(ctx, chatID, 0)
	if n <= 0 {
		return nil, nil
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (s *Messages) deleteByChatID(chatID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	s.msgs = kept
}

func sortOldestFirst(docs []model.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
