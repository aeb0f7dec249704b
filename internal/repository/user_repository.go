package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dnaforca/backend/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	if err := r.db.Create(user).Error; err != nil {
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by username failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by email failed: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user by id failed: %w", err)
	}
	return &user, nil
}

// UserFilter narrows List results. Zero values mean "no restriction".
type UserFilter struct {
	Role     string
	Approved *bool
}

func (r *UserRepository) List(filter UserFilter) ([]model.User, error) {
	query := r.db.Model(&model.User{})
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.Approved != nil {
		query = query.Where("approved = ?", *filter.Approved)
	}
	var users []model.User
	if err := query.Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users failed: %w", err)
	}
	return users, nil
}

func (r *UserRepository) Update(user *model.User) error {
	if err := r.db.Save(user).Error; err != nil {
		return fmt.Errorf("update user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) Delete(id uint) error {
	if err := r.db.Delete(&model.User{}, id).Error; err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	return nil
}

func (r *UserRepository) CountByRole(role string) (int64, error) {
	var count int64
	if err := r.db.Model(&model.User{}).Where("role = ?", role).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users by role failed: %w", err)
	}
	return count, nil
}
