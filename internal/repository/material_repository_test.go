package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/platform/sqlite"
)

func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Material{}))
	return db
}

func seedMaterial(t *testing.T, repo *MaterialRepository, m model.Material) model.Material {
	t.Helper()
	if m.Title == "" {
		m.Title = "Apostila"
	}
	if m.Kind == "" {
		m.Kind = model.MaterialKindText
	}
	if m.OriginalFilename == "" {
		m.OriginalFilename = "apostila.txt"
	}
	if m.StorageKey == "" {
		m.StorageKey = fmt.Sprintf("chave-%d.txt", time.Now().UnixNano())
	}
	if m.Status == "" {
		m.Status = model.MaterialStatusReady
	}
	require.NoError(t, repo.Create(&m))
	return m
}

func TestMaterialListFilters(t *testing.T) {
	repo := NewMaterialRepository(newRepoDB(t))

	forca := seedMaterial(t, repo, model.Material{
		UploaderID: 7,
		Title:      "Treino de força",
		Topic:      "musculação",
		Level:      model.LevelBeginner,
		Tags:       "força,base",
	})
	seedMaterial(t, repo, model.Material{
		UploaderID: 8,
		Title:      "Guia de mobilidade",
		Topic:      "mobilidade",
		Level:      model.LevelIntermediate,
		Kind:       model.MaterialKindMarkdown,
		Tags:       "alongamento",
		Status:     model.MaterialStatusPending,
	})

	byTopic, err := repo.List(MaterialFilter{Topic: "musculação"})
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, forca.ID, byTopic[0].ID)

	byLevel, err := repo.List(MaterialFilter{Level: model.LevelIntermediate})
	require.NoError(t, err)
	require.Len(t, byLevel, 1)
	assert.Equal(t, "Guia de mobilidade", byLevel[0].Title)

	byKind, err := repo.List(MaterialFilter{Kind: model.MaterialKindMarkdown})
	require.NoError(t, err)
	assert.Len(t, byKind, 1)

	byStatus, err := repo.List(MaterialFilter{Status: model.MaterialStatusReady})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, forca.ID, byStatus[0].ID)

	// Tag matching is a substring match over the comma-joined column.
	byTag, err := repo.List(MaterialFilter{Tag: "força"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, forca.ID, byTag[0].ID)

	byUploader, err := repo.List(MaterialFilter{UploaderID: 8})
	require.NoError(t, err)
	assert.Len(t, byUploader, 1)

	all, err := repo.List(MaterialFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := repo.List(MaterialFilter{Topic: "musculação", Level: model.LevelIntermediate})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMaterialStatusTransitions(t *testing.T) {
	repo := NewMaterialRepository(newRepoDB(t))
	m := seedMaterial(t, repo, model.Material{UploaderID: 7, Status: model.MaterialStatusPending})

	require.NoError(t, repo.MarkProcessing(m.ID))
	got, err := repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialStatusProcessing, got.Status)

	require.NoError(t, repo.MarkFailed(m.ID, "embedding request failed"))
	got, err = repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialStatusFailed, got.Status)
	assert.Equal(t, "embedding request failed", got.Error)

	// Requeueing clears the failure.
	require.NoError(t, repo.MarkPending(m.ID))
	got, err = repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialStatusPending, got.Status)
	assert.Empty(t, got.Error)

	require.NoError(t, repo.MarkReady(m.ID, 12))
	got, err = repo.GetByID(m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MaterialStatusReady, got.Status)
	assert.Equal(t, 12, got.ChunkCount)
}

func TestMaterialListByIDs(t *testing.T) {
	repo := NewMaterialRepository(newRepoDB(t))
	a := seedMaterial(t, repo, model.Material{UploaderID: 7})
	seedMaterial(t, repo, model.Material{UploaderID: 7})

	got, err := repo.ListByIDs([]uint{a.ID, 9999})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	empty, err := repo.ListByIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	missing, err := repo.GetByID(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
