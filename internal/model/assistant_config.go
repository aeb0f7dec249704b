package model

import "time"

// AssistantConfig is the single-row tuning record for the chat assistant.
// Admins adjust it at runtime; ingestion and retrieval read it per request.
type AssistantConfig struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SystemPrompt   string    `gorm:"type:text" json:"system_prompt"`
	Model          string    `gorm:"size:64" json:"model"`
	Temperature    float64   `gorm:"not null" json:"temperature"`
	ChunkSize      int       `gorm:"not null" json:"chunk_size"`
	ChunkOverlap   int       `gorm:"not null" json:"chunk_overlap"`
	TopK           int       `gorm:"not null" json:"top_k"`
	FetchK         int       `gorm:"not null" json:"fetch_k"`
	MMRLambda      float64   `gorm:"not null" json:"mmr_lambda"`
	LevelBoost     float64   `gorm:"not null" json:"level_boost"`
	TopicBoost     float64   `gorm:"not null" json:"topic_boost"`
	MaxPerMaterial int       `gorm:"not null" json:"max_per_material"`
	UpdatedBy      uint      `json:"updated_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultAssistantConfig returns the tuning used until an admin changes it.
// The chat service fills the {context} placeholder with retrieved chunks; a
// custom template may also use {question} to inline the student's question.
func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		ID: 1,
		SystemPrompt: "Você é o assistente de estudos do DNA da Força.\n" +
			"Responda em português, usando apenas o contexto abaixo.\n" +
			"Se o contexto não cobrir a pergunta, diga isso claramente e não invente.\n\n" +
			"Contexto:\n{context}",
		Temperature:    0.3,
		ChunkSize:      1000,
		ChunkOverlap:   200,
		TopK:           5,
		FetchK:         20,
		MMRLambda:      0.7,
		LevelBoost:     0.10,
		TopicBoost:     0.05,
		MaxPerMaterial: 2,
	}
}
