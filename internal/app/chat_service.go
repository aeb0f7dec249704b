package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dnaforca/backend/internal/ai"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/rag"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/vectorstore"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
)

const (
	defaultSessionTitle = "Nova conversa"
	maxSessionTitle     = 128
	maxSourceExcerpt    = 200

	// Shown when retrieval finds nothing: the model is told, via the
	// context slot, to say the materials do not cover the question.
	emptyContextNotice = "Nenhum material relevante foi encontrado para esta pergunta. " +
		"Informe ao aluno que os materiais disponíveis não cobrem esse assunto."

	fallbackAnswer = "Desculpe, não consegui gerar uma resposta agora. Tente novamente."
)

// HistoryCache caches rendered chat history per session. A dirty marker
// bridges the gap between publishing a message and the worker persisting it.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

// ChunkRetriever finds material chunks relevant to a query.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, opts rag.Options) ([]rag.ScoredChunk, error)
}

// ChatMessageJob is the queue message that asks the persist worker to write
// one chat message to the database.
type ChatMessageJob struct {
	SessionID uint   `json:"session_id"`
	UserID    uint   `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Sources   string `json:"sources,omitempty"`
}

type ChatService struct {
	sessionRepo  *repository.ChatSessionRepository
	messageRepo  *repository.ChatMessageRepository
	materialRepo *repository.MaterialRepository
	configRepo   *repository.AssistantConfigRepository
	retriever    ChunkRetriever
	llmClient    *ai.Client
	llmConfig    ai.ChatConfig
	publisher    QueuePublisher
	history      HistoryCache
	maxContext   int
}

func NewChatService(
	sessionRepo *repository.ChatSessionRepository,
	messageRepo *repository.ChatMessageRepository,
	materialRepo *repository.MaterialRepository,
	configRepo *repository.AssistantConfigRepository,
	retriever ChunkRetriever,
	llmClient *ai.Client,
	llmConfig ai.ChatConfig,
	publisher QueuePublisher,
	history HistoryCache,
	maxContext int,
) *ChatService {
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		materialRepo: materialRepo,
		configRepo:   configRepo,
		retriever:    retriever,
		llmClient:    llmClient,
		llmConfig:    llmConfig,
		publisher:    publisher,
		history:      history,
		maxContext:   maxContext,
	}
}

func (s *ChatService) CreateSession(userID uint, title string) (*model.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultSessionTitle
	}
	if runes := []rune(title); len(runes) > maxSessionTitle {
		title = string(runes[:maxSessionTitle])
	}

	session := &model.ChatSession{UserID: userID, Title: title}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.ChatSession, error) {
	return s.sessionRepo.ListByUserID(userID)
}

func (s *ChatService) GetSession(userID, sessionID uint) (*model.ChatSession, error) {
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DeleteSession removes the session with its messages and cached history.
func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID uint) error {
	if _, err := s.GetSession(userID, sessionID); err != nil {
		return err
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.DeleteHistory(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

type SendMessageInput struct {
	UserID    uint
	SessionID uint
	Content   string

	// Optional retrieval filters.
	Topic       string
	Level       string
	MaterialIDs []uint
}

// AssistantSnapshot echoes the tuning that produced an answer.
type AssistantSnapshot struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	FetchK      int     `json:"fetch_k"`
	MMRLambda   float64 `json:"mmr_lambda"`
}

type ChatResult struct {
	Answer  string            `json:"answer"`
	Sources []model.Source    `json:"sources"`
	Config  AssistantSnapshot `json:"config"`
}

// SendMessage answers a student question with retrieval-augmented
// generation. Both the question and the answer are persisted through the
// message queue; the session's cached history is marked dirty first so
// readers fall back to the database until the worker catches up.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*ChatResult, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	answer, err := s.llmClient.Complete(ctx, prepared.chatConfig, prepared.prompt)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = fallbackAnswer
	}

	if err := s.persistExchange(ctx, input, answer, prepared.sourcesJSON); err != nil {
		return nil, err
	}
	return &ChatResult{Answer: answer, Sources: prepared.sources, Config: prepared.snapshot}, nil
}

// StreamMessage is SendMessage with the answer streamed through onChunk as
// it is generated. Sources are known before the first chunk because
// retrieval happens up front.
func (s *ChatService) StreamMessage(ctx context.Context, input SendMessageInput, onChunk func(string) error) (*ChatResult, error) {
	prepared, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}

	answer, err := s.llmClient.StreamComplete(ctx, prepared.chatConfig, prepared.prompt, onChunk)
	if err != nil {
		return nil, fmt.Errorf("llm stream failed: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = fallbackAnswer
		if err := onChunk(answer); err != nil {
			return nil, err
		}
	}

	if err := s.persistExchange(ctx, input, answer, prepared.sourcesJSON); err != nil {
		return nil, err
	}
	return &ChatResult{Answer: answer, Sources: prepared.sources, Config: prepared.snapshot}, nil
}

type preparedExchange struct {
	prompt      []ai.ChatMessage
	chatConfig  ai.ChatConfig
	sources     []model.Source
	sourcesJSON string
	snapshot    AssistantSnapshot
}

func (s *ChatService) prepare(ctx context.Context, input SendMessageInput) (*preparedExchange, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	if input.Level != "" && !model.ValidLevel(input.Level) {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, input.Level)
	}
	if _, err := s.GetSession(input.UserID, input.SessionID); err != nil {
		return nil, err
	}

	cfg, err := s.assistantConfig()
	if err != nil {
		return nil, err
	}

	chunks, err := s.retriever.Retrieve(ctx, content, rag.Options{
		Topic:          input.Topic,
		MaterialIDs:    input.MaterialIDs,
		Level:          input.Level,
		TopK:           cfg.TopK,
		FetchK:         cfg.FetchK,
		Lambda:         cfg.MMRLambda,
		LevelBoost:     cfg.LevelBoost,
		TopicBoost:     cfg.TopicBoost,
		MaxPerMaterial: cfg.MaxPerMaterial,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context failed: %w", err)
	}

	sources := buildSources(chunks)
	sourcesJSON := ""
	if len(sources) > 0 {
		encoded, err := json.Marshal(sources)
		if err != nil {
			return nil, fmt.Errorf("encode sources failed: %w", err)
		}
		sourcesJSON = string(encoded)
	}

	recent, err := s.recentMessages(input.SessionID)
	if err != nil {
		return nil, err
	}

	return &preparedExchange{
		prompt:      buildPromptMessages(cfg.SystemPrompt, contextBlock(chunks), recent, content),
		chatConfig:  s.chatConfig(cfg),
		sources:     sources,
		sourcesJSON: sourcesJSON,
		snapshot: AssistantSnapshot{
			Model:       s.effectiveModel(cfg),
			Temperature: cfg.Temperature,
			TopK:        cfg.TopK,
			FetchK:      cfg.FetchK,
			MMRLambda:   cfg.MMRLambda,
		},
	}, nil
}

// persistExchange enqueues the question and the answer for the persist
// worker. The cached history is invalidated first so a read between publish
// and persist does not serve a stale snapshot forever.
func (s *ChatService) persistExchange(ctx context.Context, input SendMessageInput, answer, sourcesJSON string) error {
	if s.publisher == nil {
		return ErrMessageEnqueue
	}

	if s.history != nil {
		if err := s.history.MarkDirty(ctx, input.SessionID); err != nil {
			return fmt.Errorf("mark history dirty failed: %w", err)
		}
		if err := s.history.DeleteHistory(ctx, input.SessionID); err != nil {
			return fmt.Errorf("invalidate history failed: %w", err)
		}
	}

	jobs := []ChatMessageJob{
		{
			SessionID: input.SessionID,
			UserID:    input.UserID,
			Role:      model.RoleMessageUser,
			Content:   strings.TrimSpace(input.Content),
		},
		{
			SessionID: input.SessionID,
			UserID:    input.UserID,
			Role:      model.RoleMessageAssistant,
			Content:   answer,
			Sources:   sourcesJSON,
		},
	}
	for _, job := range jobs {
		if err := s.publisher.Publish(ctx, job); err != nil {
			return fmt.Errorf("%w: %v", ErrMessageEnqueue, err)
		}
	}
	return s.sessionRepo.Touch(input.SessionID)
}

// GetHistory returns the session's messages, oldest first. The cache is
// only consulted and refilled while the session is not dirty; cache errors
// degrade to a database read.
func (s *ChatService) GetHistory(ctx context.Context, userID, sessionID uint, limit int) ([]model.ChatMessage, error) {
	if _, err := s.GetSession(userID, sessionID); err != nil {
		return nil, err
	}

	dirty := true
	if s.history != nil {
		if d, err := s.history.IsDirty(ctx, sessionID); err == nil {
			dirty = d
		}
		if !dirty {
			if cached, err := s.history.GetHistory(ctx, sessionID); err == nil && cached != nil {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.history != nil && !dirty {
		if err := s.history.SetHistory(ctx, sessionID, messages); err == nil {
			return messages, nil
		}
	}
	return messages, nil
}

type LearningPathInput struct {
	Goal     string
	LevelCap string
	MaxSteps int
}

// LearningPath suggests an ordered list of ready materials for a study
// goal. Retrieval runs wide (FetchK, no MMR, no per-material cap) so the
// aggregation sees every matching material.
func (s *ChatService) LearningPath(ctx context.Context, input LearningPathInput) ([]rag.PathStep, error) {
	goal := strings.TrimSpace(input.Goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", ErrInvalidInput)
	}
	if input.LevelCap != "" && !model.ValidLevel(input.LevelCap) {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, input.LevelCap)
	}

	cfg, err := s.assistantConfig()
	if err != nil {
		return nil, err
	}

	chunks, err := s.retriever.Retrieve(ctx, goal, rag.Options{
		TopK:   cfg.FetchK,
		FetchK: cfg.FetchK,
		Lambda: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates failed: %w", err)
	}
	if len(chunks) == 0 {
		return []rag.PathStep{}, nil
	}

	ids := make([]uint, 0, len(chunks))
	seen := make(map[uint]bool)
	for _, c := range chunks {
		if !seen[c.MaterialID] {
			seen[c.MaterialID] = true
			ids = append(ids, c.MaterialID)
		}
	}
	materials, err := s.materialRepo.ListByIDs(ids)
	if err != nil {
		return nil, err
	}
	ready := make(map[uint]model.Material, len(materials))
	for _, m := range materials {
		ready[m.ID] = m
	}

	return rag.BuildPath(chunks, ready, rag.PathOptions{
		LevelCap: input.LevelCap,
		MaxSteps: input.MaxSteps,
	}), nil
}

func (s *ChatService) assistantConfig() (model.AssistantConfig, error) {
	cfg, err := s.configRepo.Get()
	if err != nil {
		return model.AssistantConfig{}, err
	}
	if cfg == nil {
		return model.DefaultAssistantConfig(), nil
	}
	return *cfg, nil
}

func (s *ChatService) recentMessages(sessionID uint) ([]model.ChatMessage, error) {
	if s.maxContext <= 0 {
		return nil, nil
	}
	return s.messageRepo.ListRecentBySessionID(sessionID, s.maxContext)
}

func (s *ChatService) chatConfig(cfg model.AssistantConfig) ai.ChatConfig {
	out := s.llmConfig
	out.Model = s.effectiveModel(cfg)
	out.Temperature = cfg.Temperature
	return out
}

func (s *ChatService) effectiveModel(cfg model.AssistantConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return s.llmConfig.Model
}

// buildPromptMessages renders the system template and assembles the final
// message list: system, recent history, then the current question.
func buildPromptMessages(template, contextText string, history []model.ChatMessage, question string) []ai.ChatMessage {
	rendered := strings.ReplaceAll(template, "{context}", contextText)
	rendered = strings.ReplaceAll(rendered, "{question}", question)

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: rendered})
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, ai.ChatMessage{Role: model.RoleMessageUser, Content: question})
}

// contextBlock renders retrieved chunks as numbered source blocks matching
// the [n] references the answer may cite.
func contextBlock(chunks []rag.ScoredChunk) string {
	if len(chunks) == 0 {
		return emptyContextNotice
	}

	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] %s", i+1, c.Metadata[vectorstore.MetaTitle])
		details := make([]string, 0, 2)
		if level := c.Metadata[vectorstore.MetaLevel]; level != "" {
			details = append(details, "nível: "+level)
		}
		if topic := c.Metadata[vectorstore.MetaTopic]; topic != "" {
			details = append(details, "tópico: "+topic)
		}
		if len(details) > 0 {
			header += " (" + strings.Join(details, ", ") + ")"
		}
		blocks[i] = header + "\n" + c.Content
	}
	return strings.Join(blocks, "\n---\n")
}

func buildSources(chunks []rag.ScoredChunk) []model.Source {
	sources := make([]model.Source, len(chunks))
	for i, c := range chunks {
		sources[i] = model.Source{
			MaterialID: c.MaterialID,
			Title:      c.Metadata[vectorstore.MetaTitle],
			ChunkID:    c.ID,
			ChunkIndex: c.ChunkIndex,
			Score:      c.Score,
			Excerpt:    excerpt(c.Content, maxSourceExcerpt),
		}
	}
	return sources
}

func excerpt(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
