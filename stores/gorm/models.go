//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	idlink "github.com/jferrer/idlink"
)

// StringSlice is a helper type for storing string slices as JSON columns
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// AccountModel is the GORM model for accounts. UsernameKey and EmailKey are
// the normalized (lowercased) forms carrying the unique indexes; Username
// and Email keep the original case for display.
type AccountModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     string    `gorm:"size:255"`
	UsernameKey  string    `gorm:"size:255;uniqueIndex"`
	Email        string    `gorm:"size:255"`
	EmailKey     string    `gorm:"size:255;uniqueIndex"`
	DisplayName  string    `gorm:"size:255"`
	PasswordHash string    `gorm:"size:128"`
	Version      int       `gorm:"default:1"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

// LinkedProfileModel is the GORM model for linked provider profiles. The
// composite primary key on (provider, external_id) is what makes profile
// ownership a store-level invariant.
type LinkedProfileModel struct {
	Provider    string      `gorm:"primaryKey;size:32"`
	ExternalID  string      `gorm:"primaryKey;size:255"`
	AccountID   string      `gorm:"size:64;index"`
	DisplayName string      `gorm:"size:255"`
	Emails      StringSlice `gorm:"type:jsonb"`
	Photos      StringSlice `gorm:"type:jsonb"`
	LinkedAt    time.Time
}

func (LinkedProfileModel) TableName() string {
	return "linked_profiles"
}

func (m *LinkedProfileModel) ToLinkedProfile() idlink.LinkedProfile {
	return idlink.LinkedProfile{
		Provider:    m.Provider,
		ExternalID:  m.ExternalID,
		DisplayName: m.DisplayName,
		Emails:      m.Emails,
		Photos:      m.Photos,
		LinkedAt:    m.LinkedAt,
	}
}

func LinkedProfileToModel(accountID string, p idlink.LinkedProfile) *LinkedProfileModel {
	return &LinkedProfileModel{
		Provider:    p.Provider,
		ExternalID:  p.ExternalID,
		AccountID:   accountID,
		DisplayName: p.DisplayName,
		Emails:      StringSlice(p.Emails),
		Photos:      StringSlice(p.Photos),
		LinkedAt:    p.LinkedAt,
	}
}

func (m *AccountModel) ToAccount(profiles []LinkedProfileModel) *idlink.Account {
	account := &idlink.Account{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		DisplayName:  m.DisplayName,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		Version:      m.Version,
	}
	for i := range profiles {
		account.Profiles = append(account.Profiles, profiles[i].ToLinkedProfile())
	}
	return account
}

func AccountToModel(a *idlink.Account) *AccountModel {
	return &AccountModel{
		ID:           a.ID,
		Username:     a.Username,
		UsernameKey:  idlink.NormalizeIdentifier(a.Username),
		Email:        a.Email,
		EmailKey:     idlink.NormalizeIdentifier(a.Email),
		DisplayName:  a.DisplayName,
		PasswordHash: a.PasswordHash,
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
