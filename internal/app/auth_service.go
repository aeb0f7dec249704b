package app

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dnaforca/backend/internal/model"
	"github.com/dnaforca/backend/internal/pkg/jwtutil"
	"github.com/dnaforca/backend/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrNotApproved       = errors.New("account pending approval")
)

type AuthService struct {
	userRepo      *repository.UserRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

func NewAuthService(userRepo *repository.UserRepository, jwtSecret string, jwtExpiration time.Duration) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// Register creates a student account awaiting admin approval. No token is
// issued: an unapproved account cannot log in yet.
func (s *AuthService) Register(input RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	password := input.Password

	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email format is invalid", ErrInvalidInput)
	}

	existing, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}
	existing, err = s.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleStudent,
		Approved:     false,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredential
	}
	if !user.Approved {
		return nil, ErrNotApproved
	}

	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate token failed: %w", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) GetUserByID(id uint) (*model.User, error) {
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account when no admin exists.
// It reports whether an account was created.
func (s *AuthService) EnsureAdmin(username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return false, fmt.Errorf("%w: admin username, email and password are required", ErrInvalidInput)
	}

	count, err := s.userRepo.CountByRole(model.RoleAdmin)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	existing, err := s.userRepo.GetByUsername(username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		existing.Role = model.RoleAdmin
		existing.Approved = true
		if err := s.userRepo.Update(existing); err != nil {
			return false, err
		}
		return true, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password failed: %w", err)
	}
	admin := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		Approved:     true,
	}
	if err := s.userRepo.Create(admin); err != nil {
		return false, err
	}
	return true, nil
}

type seedUser struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Approved     bool   `json:"approved"`
	Password     string `json:"password"`
	PasswordHash string `json:"password_hash"`
}

// ImportSeedUsers loads a JSON array of users from path and creates the ones
// that do not exist yet. Existing usernames are skipped, so re-running the
// import is safe. It returns the number of users created.
func (s *AuthService) ImportSeedUsers(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file failed: %w", err)
	}

	var seeds []seedUser
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("parse seed file failed: %w", err)
	}

	created := 0
	for i, seed := range seeds {
		username := strings.TrimSpace(seed.Username)
		email := strings.ToLower(strings.TrimSpace(seed.Email))
		if username == "" || email == "" {
			return created, fmt.Errorf("seed user %d: username and email are required", i)
		}
		role := seed.Role
		if role == "" {
			role = model.RoleStudent
		}
		if !model.ValidRole(role) {
			return created, fmt.Errorf("seed user %q: unknown role %q", username, seed.Role)
		}

		existing, err := s.userRepo.GetByUsername(username)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		hash := seed.PasswordHash
		if hash == "" && seed.Password != "" {
			hashed, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
			if err != nil {
				return created, fmt.Errorf("hash seed password failed: %w", err)
			}
			hash = string(hashed)
		}
		if hash == "" {
			hashed, err := randomPasswordHash()
			if err != nil {
				return created, err
			}
			hash = hashed
		}

		user := &model.User{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Role:         role,
			Approved:     seed.Approved,
		}
		if err := s.userRepo.Create(user); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// randomPasswordHash produces a bcrypt hash of an unguessable password for
// accounts provisioned without one. The owner must reset it to log in.
func randomPasswordHash() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random password failed: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(raw)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash random password failed: %w", err)
	}
	return string(hash), nil
}
