package model

import (
	"encoding/json"
	"time"
)

const (
	RoleMessageUser      = "user"
	RoleMessageAssistant = "assistant"
)

// Source points at the material chunk an assistant answer drew from.
type Source struct {
	MaterialID uint    `json:"material_id"`
	Title      string  `json:"title"`
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;index" json:"session_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Sources   string    `gorm:"type:text" json:"sources_json,omitempty"` // JSON-encoded []Source
	CreatedAt time.Time `json:"created_at"`
}

// SetSources stores sources as JSON in the Sources column.
func (m *ChatMessage) SetSources(sources []Source) error {
	if len(sources) == 0 {
		m.Sources = ""
		return nil
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	m.Sources = string(data)
	return nil
}

// SourceList decodes the Sources column back into sources.
func (m *ChatMessage) SourceList() ([]Source, error) {
	if m.Sources == "" {
		return nil, nil
	}
	var sources []Source
	if err := json.Unmarshal([]byte(m.Sources), &sources); err != nil {
		return nil, err
	}
	return sources, nil
}
