package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/pkg/textextract"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/storage"
	"github.com/dnaforca/backend/internal/vectorstore"
)

// MaxUploadBytes caps a single material upload at 20 MiB.
const MaxUploadBytes = 20 << 20

var (
	ErrMaterialNotFound  = errors.New("material not found")
	ErrUnsupportedKind   = errors.New("unsupported file type")
	ErrNoExtractableText = errors.New("file has no extractable text")
	ErrNotOwner          = errors.New("material belongs to another uploader")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrIngestEnqueue     = errors.New("ingest enqueue failed")
)

// QueuePublisher enqueues a JSON payload for asynchronous processing.
type QueuePublisher interface {
	Publish(ctx context.Context, payload any) error
}

// IngestJob is the queue message that asks a worker to (re)index a material.
type IngestJob struct {
	MaterialID uint `json:"material_id"`
}

type MaterialService struct {
	materialRepo *repository.MaterialRepository
	files        *storage.FileStore
	store        *vectorstore.Store
	publisher    QueuePublisher
}

func NewMaterialService(
	materialRepo *repository.MaterialRepository,
	files *storage.FileStore,
	store *vectorstore.Store,
	publisher QueuePublisher,
) *MaterialService {
	return &MaterialService{
		materialRepo: materialRepo,
		files:        files,
		store:        store,
		publisher:    publisher,
	}
}

type UploadInput struct {
	UploaderID  uint
	Title       string
	Description string
	Tags        []string
	Topic       string
	Level       string
	Filename    string
	MimeType    string
	Size        int64
	File        io.Reader
}

// Upload stores the file, creates a pending material row and enqueues the
// ingest job. The file is read fully up front so an unreadable or empty
// document is rejected before anything is persisted.
//
// When the queue is unavailable the material is kept with status failed so
// an instructor can reindex it later instead of re-uploading.
func (s *MaterialService) Upload(ctx context.Context, input UploadInput) (*model.Material, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if input.Level != "" && !model.ValidLevel(input.Level) {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, input.Level)
	}
	kind := textextract.KindForFilename(input.Filename)
	if kind == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, filepath.Base(input.Filename))
	}
	if input.Size > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(input.File, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrNoExtractableText)
	}

	text, err := textextract.Extract(bytes.NewReader(data), kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoExtractableText, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoExtractableText
	}

	storageKey := uuid.NewString() + strings.ToLower(filepath.Ext(input.Filename))
	if _, err := s.files.Save(storageKey, bytes.NewReader(data)); err != nil {
		return nil, err
	}

	material := &model.Material{
		UploaderID:       input.UploaderID,
		Title:            title,
		Description:      strings.TrimSpace(input.Description),
		Topic:            strings.TrimSpace(input.Topic),
		Level:            input.Level,
		Kind:             kind,
		OriginalFilename: filepath.Base(input.Filename),
		StorageKey:       storageKey,
		MimeType:         input.MimeType,
		SizeBytes:        int64(len(data)),
		Status:           model.MaterialStatusPending,
	}
	material.SetTags(input.Tags)

	if err := s.materialRepo.Create(material); err != nil {
		_ = s.files.Remove(storageKey)
		return nil, err
	}

	if err := s.publisher.Publish(ctx, IngestJob{MaterialID: material.ID}); err != nil {
		reason := fmt.Sprintf("%v: %v", ErrIngestEnqueue, err)
		if markErr := s.materialRepo.MarkFailed(material.ID, reason); markErr != nil {
			return nil, markErr
		}
		material.Status = model.MaterialStatusFailed
		material.Error = reason
	}
	return material, nil
}

func (s *MaterialService) List(filter repository.MaterialFilter) ([]model.Material, error) {
	if filter.Level != "" && !model.ValidLevel(filter.Level) {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, filter.Level)
	}
	return s.materialRepo.List(filter)
}

func (s *MaterialService) Get(id uint) (*model.Material, error) {
	material, err := s.materialRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, ErrMaterialNotFound
	}
	return material, nil
}

// DownloadPath resolves the on-disk path of the stored original file.
func (s *MaterialService) DownloadPath(id uint) (string, *model.Material, error) {
	material, err := s.Get(id)
	if err != nil {
		return "", nil, err
	}
	path, err := s.files.Path(material.StorageKey)
	if err != nil {
		return "", nil, err
	}
	return path, material, nil
}

type MaterialUpdateInput struct {
	Title       *string
	Description *string
	Tags        *[]string
	Topic       *string
	Level       *string
}

// Update edits material metadata. When a field that is embedded in the
// vector index changes (title, topic, level), the stored chunk metadata is
// rewritten so retrieval filters stay consistent without a reindex.
func (s *MaterialService) Update(ctx context.Context, actorID uint, actorRole string, id uint, input MaterialUpdateInput) (*model.Material, error) {
	material, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !canManageMaterial(material, actorID, actorRole) {
		return nil, ErrNotOwner
	}

	indexedChanged := false
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		if title != material.Title {
			material.Title = title
			indexedChanged = true
		}
	}
	if input.Description != nil {
		material.Description = strings.TrimSpace(*input.Description)
	}
	if input.Tags != nil {
		material.SetTags(*input.Tags)
	}
	if input.Topic != nil {
		topic := strings.TrimSpace(*input.Topic)
		if topic != material.Topic {
			material.Topic = topic
			indexedChanged = true
		}
	}
	if input.Level != nil {
		level := *input.Level
		if level != "" && !model.ValidLevel(level) {
			return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, level)
		}
		if level != material.Level {
			material.Level = level
			indexedChanged = true
		}
	}

	if err := s.materialRepo.Update(material); err != nil {
		return nil, err
	}

	if indexedChanged && material.ChunkCount > 0 {
		meta := map[string]string{
			vectorstore.MetaTitle: material.Title,
			vectorstore.MetaTopic: material.Topic,
			vectorstore.MetaLevel: material.Level,
		}
		if err := s.store.UpdateMaterialMetadata(ctx, material.ID, material.ChunkCount, meta); err != nil {
			return nil, fmt.Errorf("sync chunk metadata failed: %w", err)
		}
	}
	return material, nil
}

// Reindex re-enqueues the ingest job, e.g. after a failure or a chunking
// configuration change. Any instructor or admin may trigger it; the route
// enforces the role.
func (s *MaterialService) Reindex(ctx context.Context, id uint) (*model.Material, error) {
	material, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if err := s.materialRepo.MarkPending(material.ID); err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, IngestJob{MaterialID: material.ID}); err != nil {
		reason := fmt.Sprintf("%v: %v", ErrIngestEnqueue, err)
		if markErr := s.materialRepo.MarkFailed(material.ID, reason); markErr != nil {
			return nil, markErr
		}
		return nil, ErrIngestEnqueue
	}
	material.Status = model.MaterialStatusPending
	material.Error = ""
	return material, nil
}

// Delete removes the material row, the stored file and the indexed chunks.
func (s *MaterialService) Delete(ctx context.Context, actorID uint, actorRole string, id uint) error {
	material, err := s.Get(id)
	if err != nil {
		return err
	}
	if !canManageMaterial(material, actorID, actorRole) {
		return ErrNotOwner
	}

	if err := s.store.DeleteMaterial(ctx, material.ID); err != nil {
		return err
	}
	if err := s.files.Remove(material.StorageKey); err != nil {
		return err
	}
	return s.materialRepo.Delete(material.ID)
}

func canManageMaterial(material *model.Material, actorID uint, actorRole string) bool {
	if actorRole == model.RoleAdmin {
		return true
	}
	return actorRole == model.RoleInstructor && material.UploaderID == actorID
}
