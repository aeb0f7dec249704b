// Package rag implements retrieval over indexed material chunks: similarity
// search with educational score boosts, MMR re-ranking and per-material
// diversity caps.
package rag

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/dnaforca/backend/internal/ai"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/vectorstore"
)

// Options tunes one retrieval. The service layer fills most fields from the
// assistant config and the request filters.
type Options struct {
	// Hard metadata filters applied at fetch time.
	Topic string
	Kind  string
	// MaterialIDs restricts results to the given materials.
	MaterialIDs []uint

	// Level is a soft preference: matching chunks are boosted, adjacent
	// levels half as much. It is not a hard filter so that near-level
	// content still surfaces.
	Level string

	TopK           int
	FetchK         int
	Lambda         float64
	LevelBoost     float64
	TopicBoost     float64
	MaxPerMaterial int
}

// ScoredChunk is a retrieved chunk with its adjusted relevance score.
type ScoredChunk struct {
	vectorstore.Result
	Score float64
}

type Retriever struct {
	store     *vectorstore.Store
	llmClient *ai.Client
	embConfig ai.EmbeddingConfig
}

func NewRetriever(store *vectorstore.Store, llmClient *ai.Client, embConfig ai.EmbeddingConfig) *Retriever {
	return &Retriever{
		store:     store,
		llmClient: llmClient,
		embConfig: embConfig,
	}
}

// Retrieve embeds the query, fetches FetchK candidates, applies educational
// boosts and selects TopK chunks by MMR. An empty collection yields an empty
// result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]ScoredChunk, error) {
	opts = normalizeOptions(opts)

	queryEmb, err := r.llmClient.Embed(ctx, r.embConfig, query)
	if err != nil {
		return nil, err
	}

	filters := map[string]string{}
	if opts.Topic != "" {
		filters[vectorstore.MetaTopic] = opts.Topic
	}
	if opts.Kind != "" {
		filters[vectorstore.MetaKind] = opts.Kind
	}
	// chromem filters are single-value equality, so a one-material
	// restriction pushes down; larger sets are filtered after the fetch.
	if len(opts.MaterialIDs) == 1 {
		filters[vectorstore.MetaMaterialID] = strconv.FormatUint(uint64(opts.MaterialIDs[0]), 10)
	}
	if len(filters) == 0 {
		filters = nil
	}

	candidates, err := r.store.Query(ctx, queryEmb, opts.FetchK, filters)
	if err != nil {
		return nil, err
	}
	if len(opts.MaterialIDs) > 1 {
		candidates = filterByMaterialIDs(candidates, opts.MaterialIDs)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := make([]ScoredChunk, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredChunk{
			Result: c,
			Score:  adjustedScore(c, opts),
		}
	}

	return selectMMR(scored, opts), nil
}

func normalizeOptions(opts Options) Options {
	def := model.DefaultAssistantConfig()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.FetchK < opts.TopK {
		opts.FetchK = opts.TopK
	}
	if opts.Lambda < 0 {
		opts.Lambda = 0
	}
	if opts.Lambda > 1 {
		opts.Lambda = 1
	}
	return opts
}

func filterByMaterialIDs(candidates []vectorstore.Result, ids []uint) []vectorstore.Result {
	allowed := make(map[uint]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	kept := candidates[:0]
	for _, c := range candidates {
		if allowed[c.MaterialID] {
			kept = append(kept, c)
		}
	}
	return kept
}

// adjustedScore raises similarity by small boosts when the chunk matches the
// preferred level or requested topic. Boosts stay small so similarity keeps
// dominating the ranking.
func adjustedScore(c vectorstore.Result, opts Options) float64 {
	score := float64(c.Similarity)
	if opts.Level != "" {
		score += opts.LevelBoost * levelMatch(c.Metadata[vectorstore.MetaLevel], opts.Level)
	}
	if opts.Topic != "" && strings.EqualFold(c.Metadata[vectorstore.MetaTopic], opts.Topic) {
		score += opts.TopicBoost
	}
	return score
}

var levelRank = map[string]int{
	model.LevelBeginner:     0,
	model.LevelIntermediate: 1,
	model.LevelAdvanced:     2,
}

// levelMatch is 1 for an exact level match, 0.5 for an adjacent level and 0
// otherwise (including unknown levels).
func levelMatch(chunkLevel, wantLevel string) float64 {
	a, okA := levelRank[chunkLevel]
	b, okB := levelRank[wantLevel]
	if !okA || !okB {
		return 0
	}
	switch diff := a - b; {
	case diff == 0:
		return 1
	case diff == 1 || diff == -1:
		return 0.5
	}
	return 0
}

// selectMMR picks TopK chunks maximizing λ·score − (1−λ)·max-similarity to
// the already selected ones. Materials that already contributed
// MaxPerMaterial chunks are skipped while other candidates remain.
func selectMMR(candidates []ScoredChunk, opts Options) []ScoredChunk {
	k := opts.TopK
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]ScoredChunk, 0, k)
	used := make([]bool, len(candidates))
	perMaterial := make(map[uint]int)

	for len(selected) < k {
		best := pickBest(candidates, selected, used, perMaterial, opts, true)
		if best < 0 {
			// Every remaining candidate is from a capped material.
			best = pickBest(candidates, selected, used, perMaterial, opts, false)
		}
		if best < 0 {
			break
		}
		used[best] = true
		perMaterial[candidates[best].MaterialID]++
		selected = append(selected, candidates[best])
	}
	return selected
}

func pickBest(candidates, selected []ScoredChunk, used []bool, perMaterial map[uint]int, opts Options, respectCap bool) int {
	best := -1
	bestValue := math.Inf(-1)
	for i, c := range candidates {
		if used[i] {
			continue
		}
		if respectCap && opts.MaxPerMaterial > 0 && perMaterial[c.MaterialID] >= opts.MaxPerMaterial {
			continue
		}

		value := opts.Lambda * c.Score
		if len(selected) > 0 {
			maxSim := math.Inf(-1)
			for _, s := range selected {
				if sim := cosineSimilarity(c.Embedding, s.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			value -= (1 - opts.Lambda) * maxSim
		}

		if value > bestValue {
			bestValue = value
			best = i
		}
	}
	return best
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
