package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dnaforca/backend/internal/ai"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/pkg/textextract"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/storage"
	"github.com/dnaforca/backend/internal/vectorstore"
)

// Some embedding APIs limit how many inputs one call may carry.
const embeddingBatchSize = 10

// Pipeline turns an uploaded material into indexed chunks: extract text,
// chunk, embed, store. It drives the material status lifecycle.
type Pipeline struct {
	materialRepo *repository.MaterialRepository
	configRepo   *repository.AssistantConfigRepository
	files        *storage.FileStore
	store        *vectorstore.Store
	llmClient    *ai.Client
	embConfig    ai.EmbeddingConfig
	logger       *zap.Logger
}

func NewPipeline(
	materialRepo *repository.MaterialRepository,
	configRepo *repository.AssistantConfigRepository,
	files *storage.FileStore,
	store *vectorstore.Store,
	llmClient *ai.Client,
	embConfig ai.EmbeddingConfig,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		materialRepo: materialRepo,
		configRepo:   configRepo,
		files:        files,
		store:        store,
		llmClient:    llmClient,
		embConfig:    embConfig,
		logger:       logger,
	}
}

// Process runs the full ingestion for one material and moves it from
// processing to ready, or to failed with the error recorded on the row.
func (p *Pipeline) Process(ctx context.Context, materialID uint) error {
	material, err := p.materialRepo.GetByID(materialID)
	if err != nil {
		return err
	}
	if material == nil {
		return fmt.Errorf("material %d not found", materialID)
	}

	if err := p.materialRepo.MarkProcessing(material.ID); err != nil {
		return err
	}

	chunkCount, err := p.ingest(ctx, material)
	if err != nil {
		if markErr := p.materialRepo.MarkFailed(material.ID, err.Error()); markErr != nil {
			p.logger.Error("mark material failed",
				zap.Uint("material_id", material.ID),
				zap.Error(markErr),
			)
		}
		return fmt.Errorf("ingest material %d failed: %w", material.ID, err)
	}

	if err := p.materialRepo.MarkReady(material.ID, chunkCount); err != nil {
		return err
	}

	p.logger.Info("material ingested",
		zap.Uint("material_id", material.ID),
		zap.Int("chunks", chunkCount),
	)
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, material *model.Material) (int, error) {
	f, err := p.files.Open(material.StorageKey)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	text, err := textextract.Extract(f, material.Kind)
	if err != nil {
		return 0, fmt.Errorf("extract text failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("no extractable text")
	}

	size, overlap := p.chunkParams()
	chunks := ChunkText(text, size, overlap)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no chunks produced")
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return 0, err
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d embeddings for %d chunks", len(embeddings), len(chunks))
	}

	// Drop chunks from any previous ingestion run before re-adding, so a
	// shrinking chunk count leaves no stale documents behind.
	if err := p.store.DeleteMaterial(ctx, material.ID); err != nil {
		return 0, err
	}

	docs := make([]vectorstore.Chunk, len(chunks))
	for i := range chunks {
		docs[i] = vectorstore.Chunk{
			MaterialID: material.ID,
			Index:      i,
			Content:    chunks[i],
			Embedding:  embeddings[i],
			Metadata: map[string]string{
				vectorstore.MetaTitle: material.Title,
				vectorstore.MetaTopic: material.Topic,
				vectorstore.MetaLevel: material.Level,
				vectorstore.MetaKind:  material.Kind,
			},
		}
	}
	if err := p.store.Add(ctx, docs); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// chunkParams reads chunking settings from the assistant config, falling
// back to defaults when no row has been saved yet.
func (p *Pipeline) chunkParams() (int, int) {
	cfg, err := p.configRepo.Get()
	if err != nil || cfg == nil {
		def := model.DefaultAssistantConfig()
		return def.ChunkSize, def.ChunkOverlap
	}
	return cfg.ChunkSize, cfg.ChunkOverlap
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	var embeddings [][]float32
	for i := 0; i < len(chunks); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := p.llmClient.EmbedBatch(ctx, p.embConfig, chunks[i:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}
