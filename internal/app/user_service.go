package app

import (
	"errors"
	"fmt"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/repository"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrSelfChange   = errors.New("cannot change your own account")
)

// UserService covers the admin-facing account operations: listing,
// approval, role changes and removal.
type UserService struct {
	userRepo    *repository.UserRepository
	sessionRepo *repository.ChatSessionRepository
	messageRepo *repository.ChatMessageRepository
}

func NewUserService(
	userRepo *repository.UserRepository,
	sessionRepo *repository.ChatSessionRepository,
	messageRepo *repository.ChatMessageRepository,
) *UserService {
	return &UserService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
	}
}

type UserFilter struct {
	Role     string
	Approved *bool
}

func (s *UserService) List(filter UserFilter) ([]model.User, error) {
	if filter.Role != "" && !model.ValidRole(filter.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, filter.Role)
	}
	return s.userRepo.List(repository.UserFilter{Role: filter.Role, Approved: filter.Approved})
}

// Approve marks the account as approved. Approving an already approved
// account is a no-op, not an error.
func (s *UserService) Approve(userID uint) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Approved {
		return user, nil
	}
	user.Approved = true
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangeRole assigns a new role. Admins cannot change their own role, so a
// deployment always keeps at least one working admin.
func (s *UserService) ChangeRole(actorID, userID uint, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if actorID == userID {
		return nil, ErrSelfChange
	}
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes the account together with its chat sessions and messages.
// Uploaded materials stay available to other users.
func (s *UserService) Delete(actorID, userID uint) error {
	if actorID == userID {
		return ErrSelfChange
	}
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	sessions, err := s.sessionRepo.ListByUserID(userID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := s.messageRepo.DeleteBySessionID(session.ID); err != nil {
			return err
		}
		if err := s.sessionRepo.DeleteByIDAndUserID(session.ID, userID); err != nil {
			return err
		}
	}
	return s.userRepo.Delete(userID)
}
