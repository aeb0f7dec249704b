package rag

import (
	"fmt"
	"sort"

	"github.com/dnaforca/backend/internal/model"
)

const (
	// DefaultPathSteps caps how many materials a learning path suggests.
	DefaultPathSteps = 8

	// Extra chunk hits beyond the first raise a material's aggregate a
	// little, capped so one long document cannot dominate.
	pathCountBonusStep = 0.01
	pathCountBonusMax  = 0.05
)

// PathStep is one ordered entry of a suggested learning path.
type PathStep struct {
	Position   int     `json:"position"`
	MaterialID uint    `json:"material_id"`
	Title      string  `json:"title"`
	Level      string  `json:"level"`
	Topic      string  `json:"topic"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

// PathOptions tunes BuildPath.
type PathOptions struct {
	// LevelCap excludes materials above this level ("" = no cap).
	LevelCap string
	// MaxSteps caps the path length (<=0 = DefaultPathSteps).
	MaxSteps int
}

type materialAggregate struct {
	materialID uint
	maxScore   float64
	hits       int
}

// BuildPath aggregates retrieved chunks per material and orders the result
// as a study sequence: levels from beginner to advanced, then by relevance.
// Only materials present in the ready set are included.
func BuildPath(chunks []ScoredChunk, ready map[uint]model.Material, opts PathOptions) []PathStep {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultPathSteps
	}

	byMaterial := make(map[uint]*materialAggregate)
	order := make([]uint, 0)
	for _, c := range chunks {
		agg, ok := byMaterial[c.MaterialID]
		if !ok {
			agg = &materialAggregate{materialID: c.MaterialID}
			byMaterial[c.MaterialID] = agg
			order = append(order, c.MaterialID)
		}
		agg.hits++
		if c.Score > agg.maxScore || agg.hits == 1 {
			agg.maxScore = c.Score
		}
	}

	capRank, hasCap := levelRank[opts.LevelCap]

	steps := make([]PathStep, 0, len(order))
	for _, id := range order {
		material, ok := ready[id]
		if !ok || material.Status != model.MaterialStatusReady {
			continue
		}
		if hasCap {
			if rank, known := levelRank[material.Level]; known && rank > capRank {
				continue
			}
		}

		agg := byMaterial[id]
		bonus := pathCountBonusStep * float64(agg.hits-1)
		if bonus > pathCountBonusMax {
			bonus = pathCountBonusMax
		}

		steps = append(steps, PathStep{
			MaterialID: id,
			Title:      material.Title,
			Level:      material.Level,
			Topic:      material.Topic,
			Score:      agg.maxScore + bonus,
			Reason:     pathReason(material),
		})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		ri, iKnown := levelRank[steps[i].Level]
		rj, jKnown := levelRank[steps[j].Level]
		// Unleveled materials sort after leveled ones.
		if iKnown != jKnown {
			return iKnown
		}
		if iKnown && ri != rj {
			return ri < rj
		}
		return steps[i].Score > steps[j].Score
	})

	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	for i := range steps {
		steps[i].Position = i + 1
	}
	return steps
}

func pathReason(material model.Material) string {
	level := material.Level
	if level == "" {
		level = "livre"
	}
	if material.Topic != "" {
		return fmt.Sprintf("aborda %s no nível %s", material.Topic, level)
	}
	return fmt.Sprintf("conteúdo relevante no nível %s", level)
}
