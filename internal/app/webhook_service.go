package app

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/repository"
)

var (
	ErrWebhookSignature = errors.New("invalid webhook signature")
	ErrUnknownEvent     = errors.New("unknown webhook event")
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	signaturePrefix = "sha256="
)

// WebhookService applies user provisioning events pushed by an external
// system (e.g. the school's enrollment platform). Events are keyed by
// username and safe to replay.
type WebhookService struct {
	userRepo *repository.UserRepository
	secret   string
}

func NewWebhookService(userRepo *repository.UserRepository, secret string) *WebhookService {
	return &WebhookService{userRepo: userRepo, secret: secret}
}

// VerifySignature checks the HMAC-SHA256 signature of the raw request body.
// The expected header value is "sha256=" followed by the lowercase hex MAC.
func (s *WebhookService) VerifySignature(body []byte, signature string) error {
	if s.secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrWebhookSignature)
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrWebhookSignature
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return ErrWebhookSignature
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrWebhookSignature
	}
	return nil
}

type webhookEnvelope struct {
	Event string      `json:"event"`
	User  webhookUser `json:"user"`
}

type webhookUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Approved *bool  `json:"approved"`
	Password string `json:"password"`
}

type WebhookResult struct {
	Action   string `json:"action"`
	Username string `json:"username"`
}

// HandleEvent parses and applies a verified event body.
//
// user.created upserts: replaying the same event updates the existing
// account instead of failing. user.updated requires the account to exist.
// user.deleted is a no-op when the account is already gone.
func (s *WebhookService) HandleEvent(body []byte) (*WebhookResult, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed event body", ErrInvalidInput)
	}

	username := strings.TrimSpace(envelope.User.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: user.username is required", ErrInvalidInput)
	}
	if envelope.User.Role != "" && !model.ValidRole(envelope.User.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, envelope.User.Role)
	}

	switch envelope.Event {
	case EventUserCreated:
		return s.applyCreated(username, envelope.User)
	case EventUserUpdated:
		return s.applyUpdated(username, envelope.User)
	case EventUserDeleted:
		return s.applyDeleted(username)
	case "":
		return nil, fmt.Errorf("%w: event is required", ErrInvalidInput)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

func (s *WebhookService) applyCreated(username string, payload webhookUser) (*WebhookResult, error) {
	existing, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.applyFields(existing, payload); err != nil {
			return nil, err
		}
		return &WebhookResult{Action: "updated", Username: username}, nil
	}

	email := strings.ToLower(strings.TrimSpace(payload.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: user.email is required for %s", ErrInvalidInput, EventUserCreated)
	}

	role := payload.Role
	if role == "" {
		role = model.RoleStudent
	}
	approved := false
	if payload.Approved != nil {
		approved = *payload.Approved
	}

	var hash string
	if payload.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password failed: %w", err)
		}
		hash = string(hashed)
	} else {
		hash, err = randomPasswordHash()
		if err != nil {
			return nil, err
		}
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Approved:     approved,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return &WebhookResult{Action: "created", Username: username}, nil
}

func (s *WebhookService) applyUpdated(username string, payload webhookUser) (*WebhookResult, error) {
	user, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if err := s.applyFields(user, payload); err != nil {
		return nil, err
	}
	return &WebhookResult{Action: "updated", Username: username}, nil
}

func (s *WebhookService) applyDeleted(username string) (*WebhookResult, error) {
	user, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &WebhookResult{Action: "noop", Username: username}, nil
	}
	if err := s.userRepo.Delete(user.ID); err != nil {
		return nil, err
	}
	return &WebhookResult{Action: "deleted", Username: username}, nil
}

// applyFields overlays the provided event fields onto an existing account.
// Absent fields keep their current values.
func (s *WebhookService) applyFields(user *model.User, payload webhookUser) error {
	if email := strings.ToLower(strings.TrimSpace(payload.Email)); email != "" {
		user.Email = email
	}
	if payload.Role != "" {
		user.Role = payload.Role
	}
	if payload.Approved != nil {
		user.Approved = *payload.Approved
	}
	if payload.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password failed: %w", err)
		}
		user.PasswordHash = string(hashed)
	}
	return s.userRepo.Update(user)
}
