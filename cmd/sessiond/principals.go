package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	goSession "github.com/MrEthical07/goSession"
)

// principalRow is the principals table. Roles are stored comma-separated. Email is NULL
// when absent so the unique index only covers principals that supplied one.
type principalRow struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Username     string  `gorm:"size:128;not null;uniqueIndex"`
	Email        *string `gorm:"size:255;uniqueIndex"`
	PasswordHash string  `gorm:"size:255;not null"`
	Roles        string  `gorm:"size:512"`
	Enabled      bool    `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (principalRow) TableName() string {
	return "principals"
}

func (r principalRow) principal() goSession.Principal {
	var roles []string
	var email string
	if r.Email != nil {
		email = *r.Email
	}
	if r.Roles != "" {
		roles = strings.Split(r.Roles, ",")
	}
	return goSession.Principal{
		ID:           r.ID,
		Username:     r.Username,
		Email:        email,
		Roles:        roles,
		Enabled:      r.Enabled,
		PasswordHash: r.PasswordHash,
	}
}

// gormPrincipals implements goSession.PrincipalStore. The db must be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type gormPrincipals struct {
	db *gorm.DB
}

func newGormPrincipals(ctx context.Context, db *gorm.DB) (*gormPrincipals, error) {
	if err := db.WithContext(ctx).AutoMigrate(&principalRow{}); err != nil {
		return nil, fmt.Errorf("migrate principals: %w", err)
	}
	return &gormPrincipals{db: db}, nil
}

func (s *gormPrincipals) find(ctx context.Context, column, value string) (goSession.Principal, error) {
	var row principalRow
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goSession.Principal{}, goSession.ErrPrincipalNotFound
	}
	if err != nil {
		return goSession.Principal{}, err
	}
	return row.principal(), nil
}

func (s *gormPrincipals) exists(ctx context.Context, column, value string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&principalRow{}).Where(column+" = ?", value).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *gormPrincipals) FindByUsername(ctx context.Context, username string) (goSession.Principal, error) {
	return s.find(ctx, "username", username)
}

func (s *gormPrincipals) FindByID(ctx context.Context, id string) (goSession.Principal, error) {
	return s.find(ctx, "id", id)
}

func (s *gormPrincipals) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, "username", username)
}

func (s *gormPrincipals) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, "email", email)
}

func (s *gormPrincipals) CreatePrincipal(ctx context.Context, p goSession.Principal) (goSession.Principal, error) {
	row := principalRow{
		ID:           uuid.NewString(),
		Username:     p.Username,
		Email:        nullable(p.Email),
		PasswordHash: p.PasswordHash,
		Roles:        strings.Join(p.Roles, ","),
		Enabled:      true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return goSession.Principal{}, goSession.ErrConflict
		}
		return goSession.Principal{}, err
	}
	return row.principal(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
