package models

import (
	"time"

	"github.com/biocloudlabs/backend/internal/domain/identity"
)

// UserModel is the persistence model for the User domain entity.
type UserModel struct {
	AggregateModel
	Email        string              `gorm:"type:varchar(200);not null;uniqueIndex"`
	Name         string              `gorm:"type:varchar(100);not null"`
	Surname      string              `gorm:"type:varchar(100);not null"`
	PasswordHash string              `gorm:"type:varchar(255);not null"`
	Role         identity.UserRole   `gorm:"type:varchar(20);not null;default:'user'"`
	Status       identity.UserStatus `gorm:"type:varchar(20);not null;default:'active'"`
	LastLoginAt  *time.Time          `gorm:"index"`
}

// TableName returns the table name for GORM
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts the persistence model to a domain User entity
func (m *UserModel) ToDomain() *identity.User {
	return &identity.User{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Email:             m.Email,
		Name:              m.Name,
		Surname:           m.Surname,
		PasswordHash:      m.PasswordHash,
		Role:              m.Role,
		Status:            m.Status,
		LastLoginAt:       m.LastLoginAt,
	}
}

// UserModelFromDomain converts a domain User entity to a persistence model
func UserModelFromDomain(user *identity.User) *UserModel {
	model := &UserModel{
		Email:        user.Email,
		Name:         user.Name,
		Surname:      user.Surname,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		Status:       user.Status,
		LastLoginAt:  user.LastLoginAt,
	}
	model.FromDomainAggregateRoot(user.BaseAggregateRoot)
	return model
}
