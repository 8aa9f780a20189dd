package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
	"github.com/lordmuffin/ThinkPod/internal/core/ports/driven/mocks"
	"github.com/lordmuffin/ThinkPod/internal/runtime"
)

type ingestionScenario struct {
	docs         *mocks.MockDocumentStore
	chunks       *mocks.MockChunkStore
	provider     *mocks.MockEmbeddingService
	orchestrator *Orchestrator

	first       *domain.ProcessResult
	last        *domain.ProcessResult
	chunkCount  int
	reprocessed *domain.ReprocessResult
}

func (s *ingestionScenario) emptyLibrary() error {
	s.docs, s.chunks = mocks.NewMockStores()
	s.provider = mocks.NewMockEmbeddingService()

	services := runtime.NewServices("local", "")
	services.SetEmbeddingService(s.provider)

	s.orchestrator = NewOrchestrator(OrchestratorConfig{
		DocumentStore: s.docs,
		ChunkStore:    s.chunks,
		FileStorage:   mocks.NewMockFileStorage(),
		Embedder:      NewEmbedder(EmbedderConfig{Services: services, Clock: mocks.NewMockClock()}),
	})
	s.first, s.last, s.reprocessed = nil, nil, nil
	return nil
}

func (s *ingestionScenario) upload(ctx context.Context, owner, name, fileType, content string, embed bool) error {
	content = strings.ReplaceAll(content, `\n`, "\n")
	opts := domain.DefaultProcessOptions()
	opts.GenerateEmbeddings = embed

	result, err := s.orchestrator.ProcessDocument(ctx, &domain.IngestRequest{
		OwnerID:      owner,
		OriginalName: name,
		FileType:     fileType,
		Size:         int64(len(content)),
		Content:      []byte(content),
		Options:      opts,
	})
	if err != nil {
		return fmt.Errorf("process document: %w", err)
	}

	if s.first == nil {
		s.first = result
		s.chunkCount = s.chunks.Count()
	}
	s.last = result
	return nil
}

func (s *ingestionScenario) uploads(ctx context.Context, owner, name, fileType, content string) error {
	return s.upload(ctx, owner, name, fileType, content, true)
}

func (s *ingestionScenario) uploadedWithoutEmbeddings(ctx context.Context, owner, name, fileType, content string) error {
	if err := s.upload(ctx, owner, name, fileType, content, false); err != nil {
		return err
	}
	if !s.last.Success {
		return fmt.Errorf("setup upload failed: %s", s.last.Error)
	}
	return nil
}

func (s *ingestionScenario) uploadSucceeds() error {
	if !s.last.Success {
		return fmt.Errorf("expected success, got error %q", s.last.Error)
	}
	if s.last.Duplicate {
		return errors.New("expected a new document, got a duplicate")
	}
	return nil
}

func (s *ingestionScenario) uploadFailsWith(msg string) error {
	if s.last.Success {
		return errors.New("expected the upload to fail")
	}
	if !strings.Contains(s.last.Error, msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, s.last.Error)
	}
	return nil
}

func (s *ingestionScenario) documentStatusIs(ctx context.Context, status string) error {
	doc, err := s.docs.GetByID(ctx, s.last.Document.ID)
	if err != nil {
		return err
	}
	if string(doc.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, doc.Status)
	}
	return nil
}

func (s *ingestionScenario) isDuplicateOfFirst() error {
	if !s.last.Duplicate {
		return errors.New("expected a duplicate result")
	}
	if s.last.Document.ID != s.first.Document.ID {
		return fmt.Errorf("expected document %s, got %s", s.first.Document.ID, s.last.Document.ID)
	}
	return nil
}

func (s *ingestionScenario) ownerHasDocuments(ctx context.Context, owner string, n int) error {
	page, total, err := s.docs.List(ctx, owner, domain.DocumentFilter{})
	if err != nil {
		return err
	}
	if total != n {
		return fmt.Errorf("expected %d documents for %s, got %d (%d listed)", n, owner, total, len(page))
	}
	return nil
}

func (s *ingestionScenario) noNewChunks() error {
	if got := s.chunks.Count(); got != s.chunkCount {
		return fmt.Errorf("expected %d chunks, got %d", s.chunkCount, got)
	}
	return nil
}

func (s *ingestionScenario) noChunks() error {
	if got := s.chunks.Count(); got != 0 {
		return fmt.Errorf("expected no chunks, got %d", got)
	}
	return nil
}

func (s *ingestionScenario) providerRefuses() error {
	s.provider.FailNext(domain.NewProviderError(domain.ProviderErrorContentPolicy, 400, errors.New("flagged")))
	return nil
}

func (s *ingestionScenario) reprocesses(ctx context.Context, owner string) error {
	result, err := s.orchestrator.ReprocessDocument(ctx, s.last.Document.ID, owner, false)
	if err != nil {
		return err
	}
	s.reprocessed = result
	return nil
}

func (s *ingestionScenario) everyChunkUpdated(ctx context.Context) error {
	n, err := s.chunks.CountByDocument(ctx, s.last.Document.ID)
	if err != nil {
		return err
	}
	if n == 0 || s.reprocessed.UpdatedChunks != n {
		return fmt.Errorf("expected %d updated chunks, got %d", n, s.reprocessed.UpdatedChunks)
	}
	return nil
}

func (s *ingestionScenario) chunksUpdated(n int) error {
	if s.reprocessed.UpdatedChunks != n {
		return fmt.Errorf("expected %d updated chunks, got %d", n, s.reprocessed.UpdatedChunks)
	}
	return nil
}

func (s *ingestionScenario) providerCalled(n int) error {
	if got := s.provider.Calls(); got != n {
		return fmt.Errorf("expected %d provider calls, got %d", n, got)
	}
	return nil
}

func initializeIngestionScenario(sc *godog.ScenarioContext) {
	s := &ingestionScenario{}

	sc.Step(`^an empty document library$`, s.emptyLibrary)
	sc.Step(`^"([^"]*)" uploads "([^"]*)" as "([^"]*)" containing "([^"]*)"$`, s.uploads)
	sc.Step(`^"([^"]*)" uploaded "([^"]*)" as "([^"]*)" containing "([^"]*)" without embeddings$`, s.uploadedWithoutEmbeddings)
	sc.Step(`^the upload succeeds$`, s.uploadSucceeds)
	sc.Step(`^the upload fails with "([^"]*)"$`, s.uploadFailsWith)
	sc.Step(`^the document status is "([^"]*)"$`, s.documentStatusIs)
	sc.Step(`^the upload is a duplicate of the first document$`, s.isDuplicateOfFirst)
	sc.Step(`^"([^"]*)" has (\d+) documents?$`, s.ownerHasDocuments)
	sc.Step(`^no new chunks were stored$`, s.noNewChunks)
	sc.Step(`^no chunks are stored$`, s.noChunks)
	sc.Step(`^the embedding provider refuses the next request$`, s.providerRefuses)
	sc.Step(`^"([^"]*)" reprocesses the document$`, s.reprocesses)
	sc.Step(`^every chunk of the document is updated$`, s.everyChunkUpdated)
	sc.Step(`^(\d+) chunks are updated$`, s.chunksUpdated)
	sc.Step(`^the embedding provider was called (\d+) times?$`, s.providerCalled)
}

func TestIngestionFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "ingestion",
		ScenarioInitializer: initializeIngestionScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
