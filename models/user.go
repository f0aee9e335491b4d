package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Account roles. Only admins may access the inbox back-office.
const (
	AccountRoleUser  = "user"
	AccountRoleAdmin = "admin"
)

type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;size:120;not null"`
	FirstName    string `gorm:"size:80"`
	LastName     string `gorm:"size:80"`
	Role         string `gorm:"size:20;not null;default:user"`
	PasswordHash string `gorm:"size:255;not null"`
}

func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

func (u *User) IsAdmin() bool {
	return u.Role == AccountRoleAdmin
}
