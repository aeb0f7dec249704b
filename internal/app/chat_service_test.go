package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaforca/backend/internal/ai"
	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/rag"
	"github.com/dnaforca/backend/internal/repository"
	"github.com/dnaforca/backend/internal/vectorstore"
)

type stubRetriever struct {
	chunks    []rag.ScoredChunk
	err       error
	lastQuery string
	lastOpts  rag.Options
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, opts rag.Options) ([]rag.ScoredChunk, error) {
	r.lastQuery = query
	r.lastOpts = opts
	if r.err != nil {
		return nil, r.err
	}
	return r.chunks, nil
}

type memoryHistoryCache struct {
	histories map[uint][]model.ChatMessage
	dirty     map[uint]bool
}

func newMemoryHistoryCache() *memoryHistoryCache {
	return &memoryHistoryCache{
		histories: make(map[uint][]model.ChatMessage),
		dirty:     make(map[uint]bool),
	}
}

func (c *memoryHistoryCache) GetHistory(_ context.Context, sessionID uint) ([]model.ChatMessage, error) {
	return c.histories[sessionID], nil
}

func (c *memoryHistoryCache) SetHistory(_ context.Context, sessionID uint, messages []model.ChatMessage) error {
	c.histories[sessionID] = messages
	return nil
}

func (c *memoryHistoryCache) DeleteHistory(_ context.Context, sessionID uint) error {
	delete(c.histories, sessionID)
	return nil
}

func (c *memoryHistoryCache) MarkDirty(_ context.Context, sessionID uint) error {
	c.dirty[sessionID] = true
	return nil
}

func (c *memoryHistoryCache) IsDirty(_ context.Context, sessionID uint) (bool, error) {
	return c.dirty[sessionID], nil
}

type llmRequest struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
	Messages    []ai.ChatMessage `json:"messages"`
}

// llmServer fakes an OpenAI-compatible chat completion endpoint. The answer
// is served whole for non-streaming requests and as SSE deltas otherwise.
type llmServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []llmRequest
}

func newLLMServer(t *testing.T, answerChunks ...string) *llmServer {
	t.Helper()
	s := &llmServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, chunk := range answerChunks {
				payload, _ := json.Marshal(map[string]any{
					"choices": []map[string]any{{"delta": map[string]string{"content": chunk}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": strings.Join(answerChunks, "")}}},
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *llmServer) lastRequest(t *testing.T) llmRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.requests)
	return s.requests[len(s.requests)-1]
}

type chatFixture struct {
	svc          *ChatService
	sessionRepo  *repository.ChatSessionRepository
	messageRepo  *repository.ChatMessageRepository
	materialRepo *repository.MaterialRepository
	configRepo   *repository.AssistantConfigRepository
	retriever    *stubRetriever
	publisher    *capturePublisher
	cache        *memoryHistoryCache
	llm          *llmServer
}

func newChatFixture(t *testing.T, answerChunks ...string) *chatFixture {
	t.Helper()
	db := newTestDB(t)
	f := &chatFixture{
		sessionRepo:  repository.NewChatSessionRepository(db),
		messageRepo:  repository.NewChatMessageRepository(db),
		materialRepo: repository.NewMaterialRepository(db),
		configRepo:   repository.NewAssistantConfigRepository(db),
		retriever:    &stubRetriever{},
		publisher:    &capturePublisher{},
		cache:        newMemoryHistoryCache(),
		llm:          newLLMServer(t, answerChunks...),
	}
	f.svc = NewChatService(
		f.sessionRepo,
		f.messageRepo,
		f.materialRepo,
		f.configRepo,
		f.retriever,
		ai.NewClient(),
		ai.ChatConfig{BaseURL: f.llm.URL, APIKey: "test-key", Model: "modelo-padrao", Temperature: 0.2},
		f.publisher,
		f.cache,
		20,
	)
	return f
}

func (f *chatFixture) newSession(t *testing.T, userID uint) *model.ChatSession {
	t.Helper()
	session, err := f.svc.CreateSession(userID, "")
	require.NoError(t, err)
	return session
}

func scoredChunk(materialID uint, index int, content, title, topic, level string, score float64) rag.ScoredChunk {
	return rag.ScoredChunk{
		Result: vectorstore.Result{
			ID:         vectorstore.ChunkID(materialID, index),
			MaterialID: materialID,
			ChunkIndex: index,
			Content:    content,
			Metadata: map[string]string{
				vectorstore.MetaTitle: title,
				vectorstore.MetaTopic: topic,
				vectorstore.MetaLevel: level,
			},
		},
		Score: score,
	}
}

func TestChatCreateSession(t *testing.T) {
	f := newChatFixture(t)

	session, err := f.svc.CreateSession(4, "   ")
	require.NoError(t, err)
	assert.Equal(t, "Nova conversa", session.Title)
	assert.Equal(t, uint(4), session.UserID)

	long := strings.Repeat("á", 200)
	session, err = f.svc.CreateSession(4, long)
	require.NoError(t, err)
	assert.Len(t, []rune(session.Title), 128)
}

func TestChatListSessionsPerUser(t *testing.T) {
	f := newChatFixture(t)
	f.newSession(t, 1)
	f.newSession(t, 1)
	f.newSession(t, 2)

	sessions, err := f.svc.ListSessions(1)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestChatSendMessage(t *testing.T) {
	f := newChatFixture(t, "A carga progressiva é o aumento gradual do peso de treino.")
	session := f.newSession(t, 1)
	f.retriever.chunks = []rag.ScoredChunk{
		scoredChunk(3, 0, "Aumente a carga em pequenos incrementos semanais.", "Fundamentos da força", "musculação", model.LevelBeginner, 0.92),
	}

	result, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "  O que é carga progressiva?  ",
	})
	require.NoError(t, err)

	assert.Equal(t, "A carga progressiva é o aumento gradual do peso de treino.", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, uint(3), result.Sources[0].MaterialID)
	assert.Equal(t, "Fundamentos da força", result.Sources[0].Title)
	assert.Equal(t, "Aumente a carga em pequenos incrementos semanais.", result.Sources[0].Excerpt)

	// Tuning defaults flow into retrieval and are echoed back.
	assert.Equal(t, "O que é carga progressiva?", f.retriever.lastQuery)
	assert.Equal(t, 5, f.retriever.lastOpts.TopK)
	assert.Equal(t, 20, f.retriever.lastOpts.FetchK)
	assert.InDelta(t, 0.7, f.retriever.lastOpts.Lambda, 1e-9)
	assert.Equal(t, 2, f.retriever.lastOpts.MaxPerMaterial)
	assert.Equal(t, "modelo-padrao", result.Config.Model)
	assert.InDelta(t, 0.3, result.Config.Temperature, 1e-9)

	// Question and answer are enqueued for the persist worker, in order.
	require.Len(t, f.publisher.payloads, 2)
	userJob, ok := f.publisher.payloads[0].(ChatMessageJob)
	require.True(t, ok)
	assert.Equal(t, model.RoleMessageUser, userJob.Role)
	assert.Equal(t, "O que é carga progressiva?", userJob.Content)
	assert.Empty(t, userJob.Sources)

	assistantJob, ok := f.publisher.payloads[1].(ChatMessageJob)
	require.True(t, ok)
	assert.Equal(t, model.RoleMessageAssistant, assistantJob.Role)
	assert.Equal(t, result.Answer, assistantJob.Content)
	assert.Contains(t, assistantJob.Sources, `"material_id":3`)

	// The cached history was invalidated before publishing.
	assert.True(t, f.cache.dirty[session.ID])
	_, cached := f.cache.histories[session.ID]
	assert.False(t, cached)

	// The model saw the retrieved context and the question last.
	req := f.llm.lastRequest(t)
	assert.Equal(t, "modelo-padrao", req.Model)
	assert.False(t, req.Stream)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	require.GreaterOrEqual(t, len(req.Messages), 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Aumente a carga em pequenos incrementos semanais.")
	assert.Contains(t, req.Messages[0].Content, "Fundamentos da força")
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, model.RoleMessageUser, last.Role)
	assert.Equal(t, "O que é carga progressiva?", last.Content)
}

func TestChatSendMessageIncludesRecentHistory(t *testing.T) {
	f := newChatFixture(t, "Sim, descanse 48 horas entre sessões do mesmo grupo muscular.")
	session := f.newSession(t, 1)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageUser,
		Content: "Quantas vezes treinar por semana?", CreatedAt: base,
	}))
	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageAssistant,
		Content: "Três a cinco sessões, conforme a recuperação.", CreatedAt: base.Add(time.Minute),
	}))

	_, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "E preciso descansar entre elas?",
	})
	require.NoError(t, err)

	req := f.llm.lastRequest(t)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Quantas vezes treinar por semana?", req.Messages[1].Content)
	assert.Equal(t, model.RoleMessageAssistant, req.Messages[2].Role)
	assert.Equal(t, "E preciso descansar entre elas?", req.Messages[3].Content)
}

func TestChatSendMessageWithoutContext(t *testing.T) {
	f := newChatFixture(t, "Os materiais disponíveis não cobrem esse assunto.")
	session := f.newSession(t, 1)

	result, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "Qual a capital da Austrália?",
	})
	require.NoError(t, err)

	assert.Empty(t, result.Sources)

	req := f.llm.lastRequest(t)
	assert.Contains(t, req.Messages[0].Content, "Nenhum material relevante foi encontrado")

	require.Len(t, f.publisher.payloads, 2)
	assistantJob := f.publisher.payloads[1].(ChatMessageJob)
	assert.Empty(t, assistantJob.Sources)
}

func TestChatSendMessageUsesStoredConfig(t *testing.T) {
	f := newChatFixture(t, "Resposta ajustada.")
	session := f.newSession(t, 1)
	require.NoError(t, f.configRepo.Save(&model.AssistantConfig{
		SystemPrompt:   "Contexto: {context}\nPergunta do aluno: {question}",
		Model:          "modelo-custom",
		Temperature:    0.9,
		ChunkSize:      500,
		ChunkOverlap:   50,
		TopK:           3,
		FetchK:         10,
		MMRLambda:      0.5,
		LevelBoost:     0.2,
		TopicBoost:     0.1,
		MaxPerMaterial: 1,
	}))

	result, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "Como aquecer antes do treino?",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, f.retriever.lastOpts.TopK)
	assert.Equal(t, 10, f.retriever.lastOpts.FetchK)
	assert.InDelta(t, 0.5, f.retriever.lastOpts.Lambda, 1e-9)
	assert.Equal(t, 1, f.retriever.lastOpts.MaxPerMaterial)

	assert.Equal(t, "modelo-custom", result.Config.Model)
	assert.InDelta(t, 0.9, result.Config.Temperature, 1e-9)

	req := f.llm.lastRequest(t)
	assert.Equal(t, "modelo-custom", req.Model)
	assert.InDelta(t, 0.9, req.Temperature, 1e-9)
	assert.Contains(t, req.Messages[0].Content, "Pergunta do aluno: Como aquecer antes do treino?")
}

func TestChatSendMessageGuards(t *testing.T) {
	f := newChatFixture(t, "ok")
	session := f.newSession(t, 1)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "   "})
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = f.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "oi", Level: "master"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.SendMessage(ctx, SendMessageInput{UserID: 2, SessionID: session.ID, Content: "oi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	f.publisher.err = fmt.Errorf("amqp connection refused")
	_, err = f.svc.SendMessage(ctx, SendMessageInput{UserID: 1, SessionID: session.ID, Content: "oi"})
	assert.ErrorIs(t, err, ErrMessageEnqueue)
}

func TestChatSendMessageFallsBackOnEmptyAnswer(t *testing.T) {
	f := newChatFixture(t) // the model returns an empty completion
	session := f.newSession(t, 1)

	result, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "Pergunta sem resposta",
	})
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, result.Answer)

	require.Len(t, f.publisher.payloads, 2)
	assistantJob := f.publisher.payloads[1].(ChatMessageJob)
	assert.Equal(t, fallbackAnswer, assistantJob.Content)
}

func TestChatStreamMessage(t *testing.T) {
	f := newChatFixture(t, "A barra ", "deve descer ", "controlada.")
	session := f.newSession(t, 1)

	var chunks []string
	result, err := f.svc.StreamMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "Como executar o supino?",
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A barra ", "deve descer ", "controlada."}, chunks)
	assert.Equal(t, "A barra deve descer controlada.", result.Answer)

	req := f.llm.lastRequest(t)
	assert.True(t, req.Stream)

	require.Len(t, f.publisher.payloads, 2)
	assistantJob := f.publisher.payloads[1].(ChatMessageJob)
	assert.Equal(t, "A barra deve descer controlada.", assistantJob.Content)
}

func TestChatStreamMessageFallsBackOnEmptyStream(t *testing.T) {
	f := newChatFixture(t) // stream ends without any delta
	session := f.newSession(t, 1)

	var chunks []string
	result, err := f.svc.StreamMessage(context.Background(), SendMessageInput{
		UserID:    1,
		SessionID: session.ID,
		Content:   "Pergunta sem resposta",
	}, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, fallbackAnswer, result.Answer)
	assert.Equal(t, []string{fallbackAnswer}, chunks)
}

func TestChatGetHistoryUsesCacheUntilDirty(t *testing.T) {
	f := newChatFixture(t)
	session := f.newSession(t, 1)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageUser,
		Content: "Primeira pergunta", CreatedAt: base,
	}))
	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageAssistant,
		Content: "Primeira resposta", CreatedAt: base.Add(time.Minute),
	}))

	// Clean session: the database result fills the cache.
	messages, err := f.svc.GetHistory(ctx, 1, session.ID, 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Primeira pergunta", messages[0].Content)
	assert.Len(t, f.cache.histories[session.ID], 2)

	// A write that bypassed the queue is invisible while the cache is clean.
	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageUser,
		Content: "Segunda pergunta", CreatedAt: base.Add(2 * time.Minute),
	}))
	messages, err = f.svc.GetHistory(ctx, 1, session.ID, 50)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// Once dirty, reads go to the database again.
	require.NoError(t, f.cache.MarkDirty(ctx, session.ID))
	messages, err = f.svc.GetHistory(ctx, 1, session.ID, 50)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestChatGetHistoryChecksOwnership(t *testing.T) {
	f := newChatFixture(t)
	session := f.newSession(t, 1)

	_, err := f.svc.GetHistory(context.Background(), 2, session.ID, 50)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChatDeleteSession(t *testing.T) {
	f := newChatFixture(t)
	session := f.newSession(t, 1)
	ctx := context.Background()

	require.NoError(t, f.messageRepo.Create(&model.ChatMessage{
		SessionID: session.ID, UserID: 1, Role: model.RoleMessageUser, Content: "Oi",
	}))
	require.NoError(t, f.cache.SetHistory(ctx, session.ID, []model.ChatMessage{{Content: "Oi"}}))

	assert.ErrorIs(t, f.svc.DeleteSession(ctx, 2, session.ID), ErrSessionNotFound)

	require.NoError(t, f.svc.DeleteSession(ctx, 1, session.ID))

	_, err := f.svc.GetSession(1, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	messages, err := f.messageRepo.ListBySessionID(session.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, cached := f.cache.histories[session.ID]
	assert.False(t, cached)
}

func TestChatLearningPath(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	base := model.Material{
		UploaderID: 1, Kind: model.MaterialKindText,
		OriginalFilename: "a.txt", MimeType: "text/plain", SizeBytes: 10,
	}
	aerobico := base
	aerobico.Title = "Base aeróbica"
	aerobico.Topic = "condicionamento"
	aerobico.Level = model.LevelBeginner
	aerobico.StorageKey = "aerobico.txt"
	aerobico.Status = model.MaterialStatusReady
	require.NoError(t, f.materialRepo.Create(&aerobico))

	hiit := base
	hiit.Title = "HIIT avançado"
	hiit.Topic = "condicionamento"
	hiit.Level = model.LevelAdvanced
	hiit.StorageKey = "hiit.txt"
	hiit.Status = model.MaterialStatusReady
	require.NoError(t, f.materialRepo.Create(&hiit))

	pendente := base
	pendente.Title = "Ainda processando"
	pendente.StorageKey = "pendente.txt"
	pendente.Status = model.MaterialStatusPending
	require.NoError(t, f.materialRepo.Create(&pendente))

	f.retriever.chunks = []rag.ScoredChunk{
		scoredChunk(hiit.ID, 0, "Intervalos máximos de 30 segundos.", "HIIT avançado", "condicionamento", model.LevelAdvanced, 0.9),
		scoredChunk(pendente.ID, 0, "Conteúdo ainda não indexado.", "Ainda processando", "", "", 0.8),
		scoredChunk(aerobico.ID, 0, "Corridas leves de 30 minutos.", "Base aeróbica", "condicionamento", model.LevelBeginner, 0.7),
		scoredChunk(aerobico.ID, 1, "Frequência cardíaca na zona 2.", "Base aeróbica", "condicionamento", model.LevelBeginner, 0.65),
		scoredChunk(999, 0, "Material removido.", "Fantasma", "", "", 0.6),
	}

	steps, err := f.svc.LearningPath(ctx, LearningPathInput{Goal: "melhorar o condicionamento"})
	require.NoError(t, err)

	// The broad retrieval pass runs without MMR or per-material caps.
	assert.Equal(t, f.retriever.lastOpts.FetchK, f.retriever.lastOpts.TopK)
	assert.InDelta(t, 1.0, f.retriever.lastOpts.Lambda, 1e-9)

	// Pending and missing materials are excluded; beginner comes first.
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Position)
	assert.Equal(t, aerobico.ID, steps[0].MaterialID)
	assert.Equal(t, model.LevelBeginner, steps[0].Level)
	assert.Equal(t, 2, steps[1].Position)
	assert.Equal(t, hiit.ID, steps[1].MaterialID)
	assert.Contains(t, steps[0].Reason, "condicionamento")

	// A level cap trims advanced content from the path.
	capped, err := f.svc.LearningPath(ctx, LearningPathInput{Goal: "melhorar o condicionamento", LevelCap: model.LevelBeginner})
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, aerobico.ID, capped[0].MaterialID)

	_, err = f.svc.LearningPath(ctx, LearningPathInput{Goal: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.LearningPath(ctx, LearningPathInput{Goal: "x", LevelCap: "master"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChatLearningPathNoMatches(t *testing.T) {
	f := newChatFixture(t)

	steps, err := f.svc.LearningPath(context.Background(), LearningPathInput{Goal: "assunto inexistente"})
	require.NoError(t, err)
	assert.NotNil(t, steps)
	assert.Empty(t, steps)
}

func TestExcerptTruncatesRunes(t *testing.T) {
	short := excerpt("texto curto", 200)
	assert.Equal(t, "texto curto", short)

	long := excerpt(strings.Repeat("á", 250), 200)
	runes := []rune(long)
	assert.Len(t, runes, 201)
	assert.Equal(t, "…", string(runes[200]))
}

func TestBuildPromptMessages(t *testing.T) {
	history := []model.ChatMessage{
		{Role: model.RoleMessageUser, Content: "pergunta anterior"},
		{Role: model.RoleMessageAssistant, Content: "resposta anterior"},
	}
	messages := buildPromptMessages("Contexto:\n{context}", "bloco de contexto", history, "pergunta atual")

	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "Contexto:\nbloco de contexto", messages[0].Content)
	assert.Equal(t, "pergunta anterior", messages[1].Content)
	assert.Equal(t, "resposta anterior", messages[2].Content)
	assert.Equal(t, model.RoleMessageUser, messages[3].Role)
	assert.Equal(t, "pergunta atual", messages[3].Content)
}

func TestContextBlockNumbersChunks(t *testing.T) {
	block := contextBlock([]rag.ScoredChunk{
		scoredChunk(1, 0, "Primeiro trecho.", "Apostila A", "força", model.LevelBeginner, 0.9),
		scoredChunk(2, 0, "Segundo trecho.", "Apostila B", "", "", 0.8),
	})

	assert.Contains(t, block, "[1] Apostila A (nível: beginner, tópico: força)")
	assert.Contains(t, block, "Primeiro trecho.")
	assert.Contains(t, block, "[2] Apostila B")
	assert.Contains(t, block, "\n---\n")

	assert.Equal(t, emptyContextNotice, contextBlock(nil))
}
