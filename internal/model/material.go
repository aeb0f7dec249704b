package model

import (
	"strings"
	"time"
)

// Material ingestion lifecycle. Uploads start as pending, the ingest worker
// moves them to processing and finally ready (or failed with Error set).
const (
	MaterialStatusPending    = "pending"
	MaterialStatusProcessing = "processing"
	MaterialStatusReady      = "ready"
	MaterialStatusFailed     = "failed"
)

const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

const (
	MaterialKindPDF      = "pdf"
	MaterialKindText     = "text"
	MaterialKindMarkdown = "markdown"
)

// ValidLevel reports whether level is a known difficulty level.
func ValidLevel(level string) bool {
	switch level {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

type Material struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UploaderID       uint      `gorm:"not null;index" json:"uploader_id"`
	Title            string    `gorm:"size:256;not null" json:"title"`
	Description      string    `gorm:"type:text" json:"description"`
	Tags             string    `gorm:"size:512" json:"tags"` // comma-joined
	Topic            string    `gorm:"size:128;index" json:"topic"`
	Level            string    `gorm:"size:16;index" json:"level"`
	Kind             string    `gorm:"size:16;not null" json:"kind"`
	OriginalFilename string    `gorm:"size:256;not null" json:"original_filename"`
	StorageKey       string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	MimeType         string    `gorm:"size:128" json:"mime_type"`
	SizeBytes        int64     `gorm:"not null" json:"size_bytes"`
	Status           string    `gorm:"size:16;not null;index;default:pending" json:"status"`
	Error            string    `gorm:"type:text" json:"error,omitempty"`
	ChunkCount       int       `gorm:"not null;default:0" json:"chunk_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TagList splits the comma-joined Tags column into trimmed tags.
func (m *Material) TagList() []string {
	if m.Tags == "" {
		return nil
	}
	parts := strings.Split(m.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			tags = append(tags, s)
		}
	}
	return tags
}

// SetTags joins tags into the Tags column, dropping empties.
func (m *Material) SetTags(tags []string) {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		if s := strings.TrimSpace(t); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	m.Tags = strings.Join(cleaned, ",")
}
