//go:build !wasm
// +build !wasm

// Package gae implements an AccountStore on Google Cloud Datastore.
// Uniqueness is enforced with lease entities (one per username, email and
// linked profile) created in the same transaction as the account, so two
// concurrent writers cannot both claim a value.
package gae

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"

	idlink "github.com/jferrer/idlink"
)

// Kind constants for Datastore entities
const (
	KindAccount       = "Account"
	KindUsernameLease = "UsernameLease"
	KindEmailLease    = "EmailLease"
	KindProfileLease  = "ProfileLease"
)

// AccountEntity is the stored form of an account. Profiles are serialized
// to JSON since Datastore has no native nested-slice support worth the
// index cost.
type AccountEntity struct {
	Username     string    `datastore:"username,noindex"`
	UsernameKey  string    `datastore:"username_key"`
	Email        string    `datastore:"email,noindex"`
	EmailKey     string    `datastore:"email_key"`
	DisplayName  string    `datastore:"display_name,noindex"`
	PasswordHash string    `datastore:"password_hash,noindex"`
	Profiles     []byte    `datastore:"profiles,noindex"`
	CreatedAt    time.Time `datastore:"created_at"`
	UpdatedAt    time.Time `datastore:"updated_at"`
	Version      int       `datastore:"version,noindex"`
}

// LeaseEntity binds a unique value to the account that owns it.
type LeaseEntity struct {
	AccountID string    `datastore:"account_id"`
	CreatedAt time.Time `datastore:"created_at,noindex"`
}

// AccountStore implements idlink.AccountStore using Google Cloud Datastore
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{client: client, namespace: namespace}
}

func (s *AccountStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *AccountStore) accountKey(id string) *datastore.Key {
	return s.namespacedKey(KindAccount, id)
}

func (s *AccountStore) usernameKey(username string) *datastore.Key {
	return s.namespacedKey(KindUsernameLease, idlink.NormalizeIdentifier(username))
}

func (s *AccountStore) emailKey(email string) *datastore.Key {
	return s.namespacedKey(KindEmailLease, idlink.NormalizeIdentifier(email))
}

func (s *AccountStore) profileKey(provider, externalID string) *datastore.Key {
	return s.namespacedKey(KindProfileLease, provider+"/"+externalID)
}

func entityToAccount(id string, e *AccountEntity) (*idlink.Account, error) {
	account := &idlink.Account{
		ID:           id,
		Username:     e.Username,
		Email:        e.Email,
		DisplayName:  e.DisplayName,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Version:      e.Version,
	}
	if len(e.Profiles) > 0 {
		if err := json.Unmarshal(e.Profiles, &account.Profiles); err != nil {
			return nil, fmt.Errorf("decoding profiles for account %s: %w", id, err)
		}
	}
	return account, nil
}

func accountToEntity(a *idlink.Account) (*AccountEntity, error) {
	entity := &AccountEntity{
		Username:     a.Username,
		UsernameKey:  idlink.NormalizeIdentifier(a.Username),
		Email:        a.Email,
		EmailKey:     idlink.NormalizeIdentifier(a.Email),
		DisplayName:  a.DisplayName,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
	if len(a.Profiles) > 0 {
		data, err := json.Marshal(a.Profiles)
		if err != nil {
			return nil, err
		}
		entity.Profiles = data
	}
	return entity, nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*idlink.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.accountKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, idlink.ErrAccountNotFound
		}
		return nil, err
	}
	return entityToAccount(id, &entity)
}

func (s *AccountStore) GetAccountByIdentifier(ctx context.Context, identifier string) (*idlink.Account, error) {
	var lease LeaseEntity
	err := s.client.Get(ctx, s.usernameKey(identifier), &lease)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		err = s.client.Get(ctx, s.emailKey(identifier), &lease)
	}
	if err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, idlink.ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccountByID(ctx, lease.AccountID)
}

func (s *AccountStore) GetAccountByLinkedProfile(ctx context.Context, provider, externalID string) (*idlink.Account, error) {
	var lease LeaseEntity
	if err := s.client.Get(ctx, s.profileKey(provider, externalID), &lease); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, idlink.ErrAccountNotFound
		}
		return nil, err
	}
	account, err := s.GetAccountByID(ctx, lease.AccountID)
	if err != nil {
		if errors.Is(err, idlink.ErrAccountNotFound) {
			return nil, &idlink.StoreConsistencyError{
				Provider:   provider,
				ExternalID: externalID,
				AccountIDs: []string{lease.AccountID},
			}
		}
		return nil, err
	}
	if !account.HasProfile(provider, externalID) {
		return nil, &idlink.StoreConsistencyError{
			Provider:   provider,
			ExternalID: externalID,
			AccountIDs: []string{lease.AccountID},
		}
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

	now := time.Now()
	stored := draft.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Version = 1

	entity, err := accountToEntity(stored)
	if err != nil {
		return nil, err
	}

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing AccountEntity
		if err := tx.Get(s.accountKey(draft.ID), &existing); err == nil {
			return fmt.Errorf("account %s already exists", draft.ID)
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}

		if err := s.claimLease(tx, s.usernameKey(draft.Username), draft.ID, "username", now); err != nil {
			return err
		}
		if err := s.claimLease(tx, s.emailKey(draft.Email), draft.ID, "email", now); err != nil {
			return err
		}
		for _, p := range stored.Profiles {
			if err := s.claimLease(tx, s.profileKey(p.Provider, p.ExternalID), draft.ID, "profile", now); err != nil {
				return err
			}
		}

		_, err := tx.Put(s.accountKey(draft.ID), entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *idlink.Account) (*idlink.Account, error) {
	now := time.Now()
	stored := account.Clone()
	stored.UpdatedAt = now
	stored.Version = account.Version + 1

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var currentEntity AccountEntity
		if err := tx.Get(s.accountKey(account.ID), &currentEntity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return idlink.ErrAccountNotFound
			}
			return err
		}
		if currentEntity.Version != account.Version {
			return idlink.ErrConcurrentModification
		}
		current, err := entityToAccount(account.ID, &currentEntity)
		if err != nil {
			return err
		}

		stored.CreatedAt = current.CreatedAt
		entity, err := accountToEntity(stored)
		if err != nil {
			return err
		}

		if entity.UsernameKey != currentEntity.UsernameKey {
			if err := s.claimLease(tx, s.usernameKey(stored.Username), account.ID, "username", now); err != nil {
				return err
			}
			tx.Delete(s.usernameKey(current.Username))
		}
		if entity.EmailKey != currentEntity.EmailKey {
			if err := s.claimLease(tx, s.emailKey(stored.Email), account.ID, "email", now); err != nil {
				return err
			}
			tx.Delete(s.emailKey(current.Email))
		}
		for _, p := range stored.Profiles {
			if current.HasProfile(p.Provider, p.ExternalID) {
				continue
			}
			if err := s.claimLease(tx, s.profileKey(p.Provider, p.ExternalID), account.ID, "profile", now); err != nil {
				return err
			}
		}
		for _, p := range current.Profiles {
			if !stored.HasProfile(p.Provider, p.ExternalID) {
				tx.Delete(s.profileKey(p.Provider, p.ExternalID))
			}
		}

		_, err = tx.Put(s.accountKey(account.ID), entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *AccountStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(s.accountKey(id), &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return idlink.ErrAccountNotFound
			}
			return err
		}
		account, err := entityToAccount(id, &entity)
		if err != nil {
			return err
		}

		tx.Delete(s.usernameKey(account.Username))
		tx.Delete(s.emailKey(account.Email))
		for _, p := range account.Profiles {
			tx.Delete(s.profileKey(p.Provider, p.ExternalID))
		}
		return tx.Delete(s.accountKey(id))
	})
	return err
}

// claimLease creates the lease inside tx unless another account already
// holds it.
func (s *AccountStore) claimLease(tx *datastore.Transaction, key *datastore.Key, accountID, field string, now time.Time) error {
	var lease LeaseEntity
	err := tx.Get(key, &lease)
	if err == nil {
		if lease.AccountID == accountID {
			return nil
		}
		return &idlink.UniqueFieldError{Field: field}
	}
	if !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	_, err = tx.Put(key, &LeaseEntity{AccountID: accountID, CreatedAt: now})
	return err
}
