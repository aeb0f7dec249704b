// Package vectorstore persists embedded material chunks in chromem-go and
// serves similarity queries for the retrieval pipeline.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// Metadata keys stored with every chunk document.
const (
	MetaMaterialID = "material_id"
	MetaChunkIndex = "chunk_index"
	MetaTitle      = "title"
	MetaTopic      = "topic"
	MetaLevel      = "level"
	MetaKind       = "kind"
)

// Chunk is one embedded slice of a material ready for indexing.
type Chunk struct {
	MaterialID uint
	Index      int
	Content    string
	Embedding  []float32
	Metadata   map[string]string
}

// Result is a retrieved chunk with its similarity to the query.
type Result struct {
	ID         string
	MaterialID uint
	ChunkIndex int
	Content    string
	Similarity float32
	Embedding  []float32
	Metadata   map[string]string
}

type Store struct {
	db         *chromem.DB
	collection string
	embed      chromem.EmbeddingFunc
}

// New opens (or creates) the persistent store at path with a single
// collection for material chunks.
func New(path, collection string, compress bool, embed chromem.EmbeddingFunc) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store directory failed: %w", err)
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("open vector store failed: %w", err)
	}

	// Create the collection up front so queries against an empty store work.
	if _, err := db.GetOrCreateCollection(collection, nil, embed); err != nil {
		return nil, fmt.Errorf("open collection %s failed: %w", collection, err)
	}

	return &Store{
		db:         db,
		collection: collection,
		embed:      embed,
	}, nil
}

// ChunkID is the vector-store document ID for chunk index of a material.
func ChunkID(materialID uint, index int) string {
	return fmt.Sprintf("material:%d:chunk:%d", materialID, index)
}

// ParseChunkID extracts the material ID and chunk index from a document ID.
func ParseChunkID(id string) (uint, int, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 4 || parts[0] != "material" || parts[2] != "chunk" {
		return 0, 0, fmt.Errorf("malformed chunk id: %s", id)
	}
	materialID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chunk id: %s", id)
	}
	index, err := strconv.Atoi(parts[3])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chunk id: %s", id)
	}
	return uint(materialID), index, nil
}

func (s *Store) col() (*chromem.Collection, error) {
	if c := s.db.GetCollection(s.collection, s.embed); c != nil {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(s.collection, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s failed: %w", s.collection, err)
	}
	return c, nil
}

// Add upserts chunk documents. Embeddings are expected to be precomputed;
// re-adding an existing chunk ID replaces it.
func (s *Store) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	c, err := s.col()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		meta := make(map[string]string, len(chunk.Metadata)+2)
		for k, v := range chunk.Metadata {
			meta[k] = v
		}
		meta[MetaMaterialID] = strconv.FormatUint(uint64(chunk.MaterialID), 10)
		meta[MetaChunkIndex] = strconv.Itoa(chunk.Index)

		docs[i] = chromem.Document{
			ID:        ChunkID(chunk.MaterialID, chunk.Index),
			Content:   chunk.Content,
			Metadata:  meta,
			Embedding: chunk.Embedding,
		}
	}

	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add chunks failed: %w", err)
	}
	return nil
}

// Query returns up to k chunks nearest to the query embedding, optionally
// restricted by metadata equality filters. An empty collection yields no
// results and no error.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, filters map[string]string) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	c, err := s.col()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	raw, err := c.QueryEmbedding(ctx, embedding, k, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("query chunks failed: %w", err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		materialID, chunkIndex, err := ParseChunkID(r.ID)
		if err != nil {
			continue
		}
		results = append(results, Result{
			ID:         r.ID,
			MaterialID: materialID,
			ChunkIndex: chunkIndex,
			Content:    r.Content,
			Similarity: r.Similarity,
			Embedding:  r.Embedding,
			Metadata:   r.Metadata,
		})
	}
	return results, nil
}

// DeleteMaterial removes every chunk of the given material.
func (s *Store) DeleteMaterial(ctx context.Context, materialID uint) error {
	c, err := s.col()
	if err != nil {
		return err
	}

	where := map[string]string{MetaMaterialID: strconv.FormatUint(uint64(materialID), 10)}
	if err := c.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete material chunks failed: %w", err)
	}
	return nil
}

// UpdateMaterialMetadata rewrites the descriptive metadata of every stored
// chunk of a material, keeping content and embeddings untouched. chunkCount
// is the number of chunks recorded at ingest time.
func (s *Store) UpdateMaterialMetadata(ctx context.Context, materialID uint, chunkCount int, meta map[string]string) error {
	if chunkCount <= 0 {
		return nil
	}

	c, err := s.col()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		doc, err := c.GetByID(ctx, ChunkID(materialID, i))
		if err != nil {
			// Chunk may have been removed by a concurrent reindex.
			continue
		}

		updated := make(map[string]string, len(meta)+2)
		for k, v := range meta {
			updated[k] = v
		}
		updated[MetaMaterialID] = strconv.FormatUint(uint64(materialID), 10)
		updated[MetaChunkIndex] = strconv.Itoa(i)
		doc.Metadata = updated
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("update chunk metadata failed: %w", err)
	}
	return nil
}

// Count reports how many chunk documents are stored.
func (s *Store) Count() (int, error) {
	c, err := s.col()
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}
