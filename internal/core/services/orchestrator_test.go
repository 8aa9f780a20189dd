package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven/mocks"
	"github.com/lordmuffin/ThinkPod/internal/runtime"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	docs         *mocks.MockDocumentStore
	chunks       *mocks.MockChunkStore
	files        *mocks.MockFileStorage
	queue        *mocks.MockTaskQueue
	provider     *mocks.MockEmbeddingService
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	docs, chunks := mocks.NewMockStores()
	files := mocks.NewMockFileStorage()
	queue := mocks.NewMockTaskQueue()
	provider := mocks.NewMockEmbeddingService()

	services := runtime.NewServices("local", "redis")
	services.SetEmbeddingService(provider)

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(OrchestratorConfig{
			DocumentStore: docs,
			ChunkStore:    chunks,
			FileStorage:   files,
			TaskQueue:     queue,
			Embedder:      NewEmbedder(EmbedderConfig{Services: services, Clock: mocks.NewMockClock()}),
		}),
		docs:     docs,
		chunks:   chunks,
		files:    files,
		queue:    queue,
		provider: provider,
	}
}

const sampleText = "Retrieval pipelines split documents into chunks.\n\n" +
	"Each chunk is embedded and stored with its vector. Queries are embedded the same way."

func textRequest(owner, content string) *domain.IngestRequest {
	return &domain.IngestRequest{
		OwnerID:      owner,
		OriginalName: "notes.txt",
		FileType:     "text/plain",
		Size:         int64(len(content)),
		Content:      []byte(content),
		Options:      domain.DefaultProcessOptions(),
	}
}

func TestOrchestrator_ProcessDocument(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	result, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.False(t, result.Duplicate)

	doc := result.Document
	assert.Equal(t, "notes", doc.Title)
	assert.Equal(t, domain.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, ContentHash([]byte(sampleText)), doc.ContentHash)
	assert.Len(t, doc.ContentHash, 64)
	assert.True(t, f.files.Has(StorageKey(testOwner, doc.ContentHash, "notes.txt")))

	stored, err := f.docs.Get(ctx, doc.ID, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, stored.Status)
	assert.Equal(t, len(result.Chunks), stored.ChunkCount)
	assert.NotNil(t, stored.ProcessedAt)

	persisted, err := f.chunks.GetByDocument(ctx, doc.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, persisted, len(result.Chunks))
	for i, c := range persisted {
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.Embedding, 8)
	}
	assert.Positive(t, result.TotalTokens)
	assert.Equal(t, 1, f.provider.Calls())
}

func TestOrchestrator_DuplicateUpload(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	first, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	chunkCount := f.chunks.Count()
	calls := f.provider.Calls()

	second, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, 1, f.docs.Count())
	assert.Equal(t, chunkCount, f.chunks.Count())
	assert.Equal(t, calls, f.provider.Calls())

	other, err := f.orchestrator.ProcessDocument(ctx, textRequest("owner-2", sampleText))
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.Equal(t, 2, f.docs.Count())
}

func TestOrchestrator_ConcurrentDuplicateReturnsExisting(t *testing.T) {
	f := newOrchestratorFixture(t)
	winner := &domain.Document{
		ID:          "winner",
		OwnerID:     testOwner,
		Title:       "winner",
		ContentHash: ContentHash([]byte(sampleText)),
		Status:      domain.DocumentStatusProcessing,
	}
	f.docs.CreateFn = func(doc *domain.Document) error {
		f.docs.Put(winner)
		return domain.ErrAlreadyExists
	}

	result, err := f.orchestrator.ProcessDocument(context.Background(), textRequest(testOwner, sampleText))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, "winner", result.Document.ID)
	assert.Zero(t, f.chunks.Count())
}

func TestOrchestrator_FailuresAreRecordedOnTheDocument(t *testing.T) {
	tests := []struct {
		name    string
		req     func() *domain.IngestRequest
		setup   func(f *orchestratorFixture)
		wantMsg string
	}{
		{
			name: "unsupported format",
			req: func() *domain.IngestRequest {
				r := textRequest(testOwner, "binary")
				r.OriginalName = "photo.png"
				r.FileType = "image/png"
				return r
			},
			wantMsg: "unsupported format",
		},
		{
			name:    "empty extraction",
			req:     func() *domain.IngestRequest { return textRequest(testOwner, "  \n\t ") },
			wantMsg: domain.ErrEmptyContent.Error(),
		},
		{
			name: "corrupt pdf",
			req: func() *domain.IngestRequest {
				r := textRequest(testOwner, "not a pdf")
				r.OriginalName = "report.pdf"
				r.FileType = "application/pdf"
				return r
			},
			wantMsg: "extract text",
		},
		{
			name: "embedding refused",
			req:  func() *domain.IngestRequest { return textRequest(testOwner, sampleText) },
			setup: func(f *orchestratorFixture) {
				f.provider.FailNext(domain.NewProviderError(domain.ProviderErrorContentPolicy, 400, errors.New("flagged")))
			},
			wantMsg: "generate embeddings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			result, err := f.orchestrator.ProcessDocument(context.Background(), tt.req())
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantMsg)

			stored, err := f.docs.GetByID(context.Background(), result.Document.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.DocumentStatusFailed, stored.Status)
			assert.Equal(t, result.Error, stored.Error)
			assert.Zero(t, f.chunks.Count())
		})
	}
}

func TestOrchestrator_StaleFailureDuringPipelineStands(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	swept := 0
	f.provider.EmbedFn = func(texts []string, model string) (*domain.EmbeddingBatch, error) {
		n, err := f.docs.FailStale(ctx, time.Now().Add(time.Hour), StaleDocumentMessage)
		if err != nil {
			return nil, err
		}
		swept += n
		batch := &domain.EmbeddingBatch{Vectors: make([][]float32, len(texts))}
		for i := range texts {
			batch.Vectors[i] = []float32{1, 0, 0, 0, 0, 0, 0, 0}
		}
		return batch, nil
	}

	result, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	require.Equal(t, 1, swept)
	assert.False(t, result.Success)
	assert.Equal(t, StaleDocumentMessage, result.Error)
	assert.Equal(t, domain.DocumentStatusFailed, result.Document.Status)

	stored, err := f.docs.GetByID(ctx, result.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, stored.Status)
	assert.Equal(t, StaleDocumentMessage, stored.Error)
	assert.Zero(t, stored.ChunkCount)
	assert.Zero(t, f.chunks.Count(), "chunks of a failed document are removed")
}

func TestOrchestrator_FailureDoesNotOverwriteCompleted(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	done, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	require.True(t, done.Success)

	doc := done.Document
	f.orchestrator.markFailed(ctx, doc, "late failure")

	assert.Equal(t, domain.DocumentStatusCompleted, doc.Status)
	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)
}

func TestOrchestrator_ResubmitReplacesFailedDocument(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.provider.FailNext(domain.NewProviderError(domain.ProviderErrorContentPolicy, 400, errors.New("flagged")))
	first, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	require.False(t, first.Success)

	second, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	require.True(t, second.Success, second.Error)
	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.Document.ID, second.Document.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, second.Document.Status)

	_, err = f.docs.GetByID(ctx, first.Document.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, f.docs.Count())
	assert.True(t, f.files.Has(second.Document.StoragePath))

	third, err := f.orchestrator.ProcessDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	assert.True(t, third.Duplicate, "a completed document is still deduplicated")
	assert.Equal(t, second.Document.ID, third.Document.ID)
}

func TestOrchestrator_ParagraphsSurviveExtraction(t *testing.T) {
	f := newOrchestratorFixture(t)

	paragraphs := make([]string, 3)
	for i := range paragraphs {
		paragraphs[i] = strings.TrimSpace(strings.Repeat(fmt.Sprintf("Paragraph %d explains one idea. ", i), 19))
	}
	text := strings.Join(paragraphs, "\n\n")

	result, err := f.orchestrator.ProcessDocument(context.Background(), textRequest(testOwner, text))
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	require.Len(t, result.Chunks, 3)

	for i, c := range result.Chunks {
		assert.Equal(t, domain.ChunkStrategyParagraph, c.Metadata.Strategy)
		require.NotNil(t, c.Metadata.ParagraphIndex)
		assert.Equal(t, i, *c.Metadata.ParagraphIndex)
		assert.Contains(t, c.Content, paragraphs[i])
	}

	flat := textRequest(testOwner, text+" ")
	flat.Options.Extract.PreserveFormatting = false
	result, err = f.orchestrator.ProcessDocument(context.Background(), flat)
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, domain.ChunkStrategySentence, result.Chunks[0].Metadata.Strategy)
}

func TestOrchestrator_ProcessWithoutEmbeddings(t *testing.T) {
	f := newOrchestratorFixture(t)
	req := textRequest(testOwner, sampleText)
	req.Options.GenerateEmbeddings = false

	result, err := f.orchestrator.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Zero(t, f.provider.Calls())
	assert.Zero(t, result.TotalTokens)
	for _, c := range result.Chunks {
		assert.False(t, c.HasEmbedding())
	}
}

func TestOrchestrator_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.IngestRequest)
	}{
		{"missing owner", func(r *domain.IngestRequest) { r.OwnerID = "" }},
		{"missing filename", func(r *domain.IngestRequest) { r.OriginalName = "" }},
		{"missing type", func(r *domain.IngestRequest) { r.FileType = "" }},
		{"empty content", func(r *domain.IngestRequest) { r.Content = nil }},
		{"overlap too large", func(r *domain.IngestRequest) {
			r.Options.Chunk = domain.ChunkOptions{MaxChunkSize: 100, Overlap: 100}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchestratorFixture(t)
			req := textRequest(testOwner, sampleText)
			tt.mutate(req)

			result, err := f.orchestrator.ProcessDocument(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Nil(t, result)
			assert.Zero(t, f.docs.Count())
			assert.Zero(t, f.files.Len())
		})
	}
}

func TestOrchestrator_StorageFailureCreatesNothing(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.files.PutFn = func(key string) error { return errors.New("disk full") }

	result, err := f.orchestrator.ProcessDocument(context.Background(), textRequest(testOwner, sampleText))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Zero(t, f.docs.Count())
}

func TestOrchestrator_SubmitThenProcessPending(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	submitted, err := f.orchestrator.SubmitDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, submitted.Document.Status)
	assert.Zero(t, f.chunks.Count())

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskTypeProcessDocument, pending[0].Type)
	assert.Equal(t, submitted.Document.ID, pending[0].DocumentID())
	assert.True(t, pending[0].BoolPayload(domain.PayloadGenerateEmbeddings, false))

	processed, err := f.orchestrator.ProcessPending(ctx, submitted.Document.ID, domain.DefaultProcessOptions())
	require.NoError(t, err)
	require.True(t, processed.Success, processed.Error)
	assert.Equal(t, domain.DocumentStatusCompleted, processed.Document.Status)

	again, err := f.orchestrator.ProcessPending(ctx, submitted.Document.ID, domain.DefaultProcessOptions())
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, len(processed.Chunks), f.chunks.Count())
}

func TestOrchestrator_ProcessPendingResumesInterruptedDocument(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	submitted, err := f.orchestrator.SubmitDocument(ctx, textRequest(testOwner, sampleText))
	require.NoError(t, err)
	id := submitted.Document.ID

	require.NoError(t, f.docs.UpdateStatus(ctx, id, domain.DocumentStatusProcessing, ""))
	require.NoError(t, f.chunks.SaveBatch(ctx, []*domain.Chunk{{ID: "stale", DocumentID: id, Index: 0, Content: "stale"}}))

	result, err := f.orchestrator.ProcessPending(ctx, id, domain.DefaultProcessOptions())
	require.NoError(t, err)
	require.True(t, result.Success, result.Error)

	persisted, err := f.chunks.GetByDocument(ctx, id, 0, 0)
	require.NoError(t, err)
	assert.Len(t, persisted, len(result.Chunks))
	for _, c := range persisted {
		assert.NotEqual(t, "stale", c.ID)
	}
}

func TestOrchestrator_ProcessPendingReportsFailedDocument(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docs.Put(&domain.Document{ID: "gone", OwnerID: testOwner, Status: domain.DocumentStatusFailed, Error: "timed out"})

	result, err := f.orchestrator.ProcessPending(context.Background(), "gone", domain.DefaultProcessOptions())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "timed out", result.Error)
}

func TestOrchestrator_SubmitWithoutQueue(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.orchestrator.taskQueue = nil

	_, err := f.orchestrator.SubmitDocument(context.Background(), textRequest(testOwner, sampleText))
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Zero(t, f.docs.Count())
}

func TestOrchestrator_SubmitEnqueueFailureMarksFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.queue.EnqueueFn = func(task *domain.Task) error { return errors.New("queue down") }

	_, err := f.orchestrator.SubmitDocument(context.Background(), textRequest(testOwner, sampleText))
	require.Error(t, err)

	doc, err := f.docs.GetByHash(context.Background(), testOwner, ContentHash([]byte(sampleText)))
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "queue down")
}

func TestOrchestrator_ReprocessEmbedsMissingVectors(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	req := textRequest(testOwner, sampleText)
	req.Options.GenerateEmbeddings = false
	processed, err := f.orchestrator.ProcessDocument(ctx, req)
	require.NoError(t, err)
	id := processed.Document.ID

	result, err := f.orchestrator.ReprocessDocument(ctx, id, testOwner, false)
	require.NoError(t, err)
	assert.Equal(t, len(processed.Chunks), result.UpdatedChunks)
	assert.Positive(t, result.TotalTokens)
	assert.Equal(t, 1, f.provider.Calls())

	persisted, err := f.chunks.GetByDocument(ctx, id, 0, 0)
	require.NoError(t, err)
	for _, c := range persisted {
		assert.True(t, c.HasEmbedding())
	}

	again, err := f.orchestrator.ReprocessDocument(ctx, id, testOwner, false)
	require.NoError(t, err)
	assert.Zero(t, again.UpdatedChunks)
	assert.Zero(t, again.Cost)
	assert.Equal(t, 1, f.provider.Calls())

	forced, err := f.orchestrator.ReprocessDocument(ctx, id, testOwner, true)
	require.NoError(t, err)
	assert.Equal(t, len(processed.Chunks), forced.UpdatedChunks)
	assert.Equal(t, 2, f.provider.Calls())

	doc, err := f.docs.Get(ctx, id, testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, doc.Status)
}

func TestOrchestrator_ReprocessRequiresCompletedUnlessForced(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.docs.Put(&domain.Document{ID: "doc-1", OwnerID: testOwner, Status: domain.DocumentStatusFailed})

	_, err := f.orchestrator.ReprocessDocument(ctx, "doc-1", testOwner, false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	result, err := f.orchestrator.ReprocessDocument(ctx, "doc-1", testOwner, true)
	require.NoError(t, err)
	assert.Zero(t, result.UpdatedChunks)

	doc, err := f.docs.Get(ctx, "doc-1", testOwner)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)

	_, err = f.orchestrator.ReprocessDocument(ctx, "doc-1", "owner-2", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_EnqueueReprocess(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.docs.Put(&domain.Document{ID: "doc-1", OwnerID: testOwner, Status: domain.DocumentStatusCompleted})

	task, err := f.orchestrator.EnqueueReprocess(ctx, "doc-1", testOwner, true)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeReprocessDocument, task.Type)
	assert.Equal(t, testOwner, task.OwnerID)
	assert.True(t, task.BoolPayload(domain.PayloadForce, false))
	assert.Len(t, f.queue.Pending(), 1)

	_, err = f.orchestrator.EnqueueReprocess(ctx, "doc-1", "owner-2", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_EnqueueReprocessJoinsActiveTask(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	f.docs.Put(&domain.Document{ID: "doc-1", OwnerID: testOwner, Status: domain.DocumentStatusCompleted})

	first, err := f.orchestrator.EnqueueReprocess(ctx, "doc-1", testOwner, false)
	require.NoError(t, err)
	second, err := f.orchestrator.EnqueueReprocess(ctx, "doc-1", testOwner, false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.queue.Pending(), 1)

	forced, err := f.orchestrator.EnqueueReprocess(ctx, "doc-1", testOwner, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
	assert.Len(t, f.queue.Pending(), 2)
}

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "o/h/report.pdf", StorageKey("o", "h", "report.pdf"))
	assert.Equal(t, "o/h/evil.txt", StorageKey("o", "h", "../../evil.txt"))
	assert.Equal(t, "o/h/win.txt", StorageKey("o", "h", `C:\docs\win.txt`))
	assert.True(t, strings.HasPrefix(StorageKey("o", "h", ""), "o/h/"))
}
