//go:build !wasm
// +build !wasm

// Package gorm implements an AccountStore on any GORM-supported database.
// Uniqueness of usernames, emails and (provider, external id) pairs is
// enforced by unique indexes, and updates are conditional on the stored
// version, so concurrent writers are handled by the database rather than by
// application-level locking.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	idlink "github.com/jferrer/idlink"
)

// AutoMigrate runs database migrations for all idlink tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&LinkedProfileModel{},
	)
}

// AccountStore implements idlink.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*idlink.Account, error) {
	return s.loadAccount(s.db.WithContext(ctx), "id = ?", id)
}

func (s *AccountStore) GetAccountByIdentifier(ctx context.Context, identifier string) (*idlink.Account, error) {
	key := idlink.NormalizeIdentifier(identifier)
	return s.loadAccount(s.db.WithContext(ctx), "username_key = ? OR email_key = ?", key, key)
}

func (s *AccountStore) GetAccountByLinkedProfile(ctx context.Context, provider, externalID string) (*idlink.Account, error) {
	db := s.db.WithContext(ctx)

	var rows []LinkedProfileModel
	if err := db.Where("provider = ? AND external_id = ?", provider, externalID).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, idlink.ErrAccountNotFound
	}
	if len(rows) > 1 {
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.AccountID
		}
		return nil, &idlink.StoreConsistencyError{Provider: provider, ExternalID: externalID, AccountIDs: ids}
	}

	account, err := s.loadAccount(db, "id = ?", rows[0].AccountID)
	if err != nil {
		if errors.Is(err, idlink.ErrAccountNotFound) {
			// Profile row points at a missing account.
			return nil, &idlink.StoreConsistencyError{
				Provider:   provider,
				ExternalID: externalID,
				AccountIDs: []string{rows[0].AccountID},
			}
		}
		return nil, err
	}
	return account, nil
}

func (s *AccountStore) CreateAccount(ctx context.Context, draft *idlink.Account) (*idlink.Account, error) {
	if draft.ID == "" {
		return nil, fmt.Errorf("account draft has no id")
	}
	if draft.Email == "" {
		return nil, idlink.NewAuthError(idlink.ErrCodeMissingField, "Email is required", "email")
	}

	model := AccountToModel(draft)
	model.Version = 1

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return s.classifyAccountConflict(tx, model)
			}
			return err
		}
		for _, p := range draft.Profiles {
			if err := tx.Create(LinkedProfileToModel(draft.ID, p)).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return &idlink.UniqueFieldError{Field: "profile"}
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, draft.ID)
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *idlink.Account) (*idlink.Account, error) {
	model := AccountToModel(account)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AccountModel{}).
			Where("id = ? AND version = ?", account.ID, account.Version).
			Updates(map[string]any{
				"username":      model.Username,
				"username_key":  model.UsernameKey,
				"email":         model.Email,
				"email_key":     model.EmailKey,
				"display_name":  model.DisplayName,
				"password_hash": model.PasswordHash,
				"version":       account.Version + 1,
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return s.classifyAccountConflict(tx, model)
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&AccountModel{}).Where("id = ?", account.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return idlink.ErrAccountNotFound
			}
			return idlink.ErrConcurrentModification
		}
		return s.syncProfiles(tx, account)
	})
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, account.ID)
}

func (s *AccountStore) DeleteAccount(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&LinkedProfileModel{}, "account_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&AccountModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return idlink.ErrAccountNotFound
		}
		return nil
	})
}

func (s *AccountStore) loadAccount(db *gorm.DB, query string, args ...any) (*idlink.Account, error) {
	var model AccountModel
	if err := db.First(&model, append([]any{query}, args...)...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, idlink.ErrAccountNotFound
		}
		return nil, err
	}
	var profiles []LinkedProfileModel
	if err := db.Where("account_id = ?", model.ID).Order("linked_at").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return model.ToAccount(profiles), nil
}

// syncProfiles reconciles linked_profiles rows with account.Profiles:
// removed profiles are deleted, added ones inserted. Insert collisions mean
// another account holds the pair.
func (s *AccountStore) syncProfiles(tx *gorm.DB, account *idlink.Account) error {
	var existing []LinkedProfileModel
	if err := tx.Where("account_id = ?", account.ID).Find(&existing).Error; err != nil {
		return err
	}

	for _, row := range existing {
		if !account.HasProfile(row.Provider, row.ExternalID) {
			if err := tx.Delete(&LinkedProfileModel{},
				"provider = ? AND external_id = ? AND account_id = ?",
				row.Provider, row.ExternalID, account.ID).Error; err != nil {
				return err
			}
		}
	}

	held := func(provider, externalID string) bool {
		for _, row := range existing {
			if row.Provider == provider && row.ExternalID == externalID {
				return true
			}
		}
		return false
	}
	for _, p := range account.Profiles {
		if held(p.Provider, p.ExternalID) {
			continue
		}
		if err := tx.Create(LinkedProfileToModel(account.ID, p)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &idlink.UniqueFieldError{Field: "profile"}
			}
			return err
		}
	}
	return nil
}

// classifyAccountConflict labels a duplicate-key failure on the accounts
// table with the colliding field.
func (s *AccountStore) classifyAccountConflict(tx *gorm.DB, model *AccountModel) error {
	var count int64
	if err := tx.Model(&AccountModel{}).
		Where("username_key = ? AND id <> ?", model.UsernameKey, model.ID).
		Count(&count).Error; err == nil && count > 0 {
		return &idlink.UniqueFieldError{Field: "username"}
	}
	return &idlink.UniqueFieldError{Field: "email"}
}
