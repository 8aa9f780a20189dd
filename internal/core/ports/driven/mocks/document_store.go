package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven"
)

var _ driven.DocumentStore = (*MockDocumentStore)(nil)

// MockDocumentStore is an in-memory DocumentStore for testing.
// It enforces the (owner, content hash) uniqueness the real schema does.
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	byHash    map[string]string // key: ownerID:hash -> document ID
	order     []string

	// Optional failure injection
	CreateFn       func(doc *domain.Document) error
	UpdateStatusFn func(id string, status domain.DocumentStatus) error
	CompleteFn     func(id string, chunkCount int) error

	chunks *MockChunkStore // For cascade on delete and stats
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
		byHash:    make(map[string]string),
	}
}

func hashKey(ownerID, hash string) string {
	return ownerID + ":" + hash
}

func (m *MockDocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(doc); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[hashKey(doc.OwnerID, doc.ContentHash)]; exists {
		return fmt.Errorf("document with hash %s: %w", doc.ContentHash, domain.ErrAlreadyExists)
	}
	if _, exists := m.documents[doc.ID]; exists {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrAlreadyExists)
	}

	stored := *doc
	m.documents[doc.ID] = &stored
	m.byHash[hashKey(doc.OwnerID, doc.ContentHash)] = doc.ID
	m.order = append(m.order, doc.ID)
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id, ownerID string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, &domain.NotFoundError{Resource: "document", ID: id}
	}
	return copyDocument(doc), nil
}

func (m *MockDocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "document", ID: id}
	}
	return copyDocument(doc), nil
}

func (m *MockDocumentStore) GetByHash(ctx context.Context, ownerID, contentHash string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hashKey(ownerID, contentHash)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDocument(m.documents[id]), nil
}

func (m *MockDocumentStore) List(ctx context.Context, ownerID string, filter domain.DocumentFilter) ([]*domain.Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	var matched []*domain.Document
	for _, id := range m.order {
		doc, ok := m.documents[id]
		if !ok || doc.OwnerID != ownerID {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.FileType != "" && doc.FileType != filter.FileType {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(doc.Title), search) &&
			!strings.Contains(strings.ToLower(doc.OriginalName), search) {
			continue
		}
		matched = append(matched, copyDocument(doc))
	}

	// Newest first; creation order breaks timestamp ties
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := filter.Offset()
	if offset >= total {
		return []*domain.Document{}, total, nil
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return matched[offset:end], total, nil
}

func (m *MockDocumentStore) Update(ctx context.Context, id, ownerID string, update domain.DocumentUpdate) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok || doc.OwnerID != ownerID {
		return nil, &domain.NotFoundError{Resource: "document", ID: id}
	}
	doc.Title = update.Title
	doc.UpdatedAt = time.Now()
	return copyDocument(doc), nil
}

func (m *MockDocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	if m.UpdateStatusFn != nil {
		if err := m.UpdateStatusFn(id, status); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return &domain.NotFoundError{Resource: "document", ID: id}
	}
	if !doc.Status.CanTransitionTo(status) {
		return fmt.Errorf("document %s is %s, cannot become %s: %w", id, doc.Status, status, domain.ErrStatusConflict)
	}
	doc.Status = status
	doc.Error = errMsg
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) Complete(ctx context.Context, id string, chunkCount int) error {
	if m.CompleteFn != nil {
		if err := m.CompleteFn(id, chunkCount); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return &domain.NotFoundError{Resource: "document", ID: id}
	}
	if !doc.Status.CanTransitionTo(domain.DocumentStatusCompleted) {
		return fmt.Errorf("document %s is %s, cannot complete: %w", id, doc.Status, domain.ErrStatusConflict)
	}
	now := time.Now()
	doc.Status = domain.DocumentStatusCompleted
	doc.ChunkCount = chunkCount
	doc.Error = ""
	doc.UpdatedAt = now
	doc.ProcessedAt = &now
	return nil
}

func (m *MockDocumentStore) Delete(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	doc, ok := m.documents[id]
	if !ok || doc.OwnerID != ownerID {
		m.mu.Unlock()
		return &domain.NotFoundError{Resource: "document", ID: id}
	}
	delete(m.documents, id)
	delete(m.byHash, hashKey(doc.OwnerID, doc.ContentHash))
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	chunks := m.chunks
	m.mu.Unlock()

	// Mirror ON DELETE CASCADE
	if chunks != nil {
		return chunks.DeleteByDocument(ctx, id)
	}
	return nil
}

func (m *MockDocumentStore) Stats(ctx context.Context, ownerID string) (*domain.DocumentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.NewDocumentStats()
	for _, doc := range m.documents {
		if doc.OwnerID != ownerID {
			continue
		}
		stats.TotalDocuments++
		stats.ByStatus[doc.Status]++
		stats.ByFileType[doc.FileType]++
		stats.TotalSize += doc.Size
		stats.TotalChunks += doc.ChunkCount
	}
	stats.Finalize()
	return stats, nil
}

func (m *MockDocumentStore) FailStale(ctx context.Context, cutoff time.Time, errMsg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, doc := range m.documents {
		if doc.Status.IsTerminal() || !doc.UpdatedAt.Before(cutoff) {
			continue
		}
		doc.Status = domain.DocumentStatusFailed
		doc.Error = errMsg
		doc.UpdatedAt = time.Now()
		count++
	}
	return count, nil
}

// Helper methods for testing

// Put stores a document directly, bypassing uniqueness checks.
func (m *MockDocumentStore) Put(doc *domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; !exists {
		m.order = append(m.order, doc.ID)
	}
	stored := *doc
	m.documents[doc.ID] = &stored
	m.byHash[hashKey(doc.OwnerID, doc.ContentHash)] = doc.ID
}

// Count returns the number of stored documents.
func (m *MockDocumentStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}

func copyDocument(doc *domain.Document) *domain.Document {
	c := *doc
	return &c
}
