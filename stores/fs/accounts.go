// Package fs implements an AccountStore backed by JSON files. Intended for
// development, tests and small single-process deployments; uniqueness is
// enforced through index files guarded by an in-process mutex, so it does
// not survive multiple processes sharing the same directory.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	idlink "github.com/jferrer/idlink"
)

// AccountStore stores accounts as JSON files:
//
//	<root>/accounts/<id>.json       full record including the password digest
//	<root>/usernames/<name>.json    index: normalized username -> account id
//	<root>/emails/<email>.json      index: normalized email -> account id
//	<root>/profiles/<key>.json      index: provider/external id -> account id
type AccountStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewAccountStore(storagePath string) *AccountStore {
	return &AccountStore{StoragePath: storagePath}
}

// accountRecord is the on-disk shape. The password digest is persisted here
// and nowhere else; idlink.Account itself never serializes it.
type accountRecord struct {
	ID           string                 `json:"id"`
	Username     string                 `json:"username"`
	Email        string                 `json:"email"`
	DisplayName  string                 `json:"display_name,omitempty"`
	PasswordHash string                 `json:"password_hash,omitempty"`
	Profiles     []idlink.LinkedProfile `json:"profiles,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Version      int                    `json:"version"`
}

type indexRecord struct {
	AccountID string `json:"account_id"`
}

func recordFromAccount(a *idlink.Account) *accountRecord {
	return &accountRecord{
		ID:           a.ID,
		Username:     a.Username,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		PasswordHash: a.PasswordHash,
		Profiles:     a.Profiles,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}
}

func (r *accountRecord) toAccount() *idlink.Account {
	return &idlink.Account{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		PasswordHash: r.PasswordHash,
		Profiles:     r.Profiles,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
}

// safeKey lowercases and escapes a value for use as a filename, preventing
// path traversal.
func safeKey(value string) string {
	return url.PathEscape(idlink.NormalizeIdentifier(value))
}

func profileKey(provider, externalID string) string {
	return url.PathEscape(provider) + "-" + url.PathEscape(externalID)
}

func (s *AccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", filepath.Base(id)+".json")
}

func (s *AccountStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", safeKey(username)+".json")
}

func (s *AccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", safeKey(email)+".json")
}

func (s *AccountStore) profilePath(provider, externalID string) string {
	return filepath.Join(s.StoragePath, "profiles", profileKey(provider, externalID)+".json")
}

func (s *AccountStore) readRecord(id string) (*accountRecord, error) {
	data, err := os.ReadFile(s.accountPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, idlink.ErrAccountNotFound
		}
		return nil, err
	}
	var record accountRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding account %s: %w", id, err)
	}
	return &record, nil
}

func (s *AccountStore) readIndex(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", idlink.ErrAccountNotFound
		}
		return "", err
	}
	var idx indexRecord
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", fmt.Errorf("decoding index %s: %w", path, err)
	}
	return idx.AccountID, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*idlink.Account, error) {
	record, err := s.readRecord(id)
	if err != nil {
		return nil, err
	}
	return record.toAccount(), nil
}

func (s *AccountStore) GetAccountByIdentifier(ctx context.Context, identifier string) (*idlink.Account, error) {
	id, err := s.readIndex(s.usernamePath(identifier))
	if err != nil {
		id, err = s.readIndex(s.emailPath(identifier))
	}
	if err != nil {
		return nil, err
	}
	return s.GetAccountByID(ctx, id)
}

func (s *AccountStore) GetAccountByLinkedProfile(ctx context.Context, provider, externalID string) (*idlink.Account, error) {
	id, err := s.readIndex(s.profilePath(provider, externalID))
	if err != nil {
		return nil, err
	}
	account, err := s.GetAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.HasProfile(provider, externalID) {
		// Index points at an account that no longer holds the profile;
		// the store's own bookkeeping is broken.
		return nil, &idlink.StoreConsistencyError{
			Provider:   provider,
			ExternalID: externalID,
			AccountIDs: []string{id},
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readRecord(draft.ID); err == nil {
		return nil, fmt.Errorf("account %s already exists", draft.ID)
	}
	if err := s.checkFree(s.usernamePath(draft.Username), draft.ID, "username"); err != nil {
		return nil, err
	}
	if err := s.checkFree(s.emailPath(draft.Email), draft.ID, "email"); err != nil {
		return nil, err
	}
	for _, p := range draft.Profiles {
		if err := s.checkFree(s.profilePath(p.Provider, p.ExternalID), draft.ID, "profile"); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	record := recordFromAccount(draft)
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Version = 1

	if err := writeJSON(s.usernamePath(draft.Username), &indexRecord{AccountID: draft.ID}); err != nil {
		return nil, err
	}
	if err := writeJSON(s.emailPath(draft.Email), &indexRecord{AccountID: draft.ID}); err != nil {
		return nil, err
	}
	for _, p := range draft.Profiles {
		if err := writeJSON(s.profilePath(p.Provider, p.ExternalID), &indexRecord{AccountID: draft.ID}); err != nil {
			return nil, err
		}
	}
	if err := writeJSON(s.accountPath(draft.ID), record); err != nil {
		return nil, err
	}
	return record.toAccount(), nil
}

func (s *AccountStore) UpdateAccount(ctx context.Context, account *idlink.Account) (*idlink.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readRecord(account.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != account.Version {
		return nil, idlink.ErrConcurrentModification
	}

	if idlink.NormalizeIdentifier(account.Username) != idlink.NormalizeIdentifier(current.Username) {
		if err := s.checkFree(s.usernamePath(account.Username), account.ID, "username"); err != nil {
			return nil, err
		}
	}
	if idlink.NormalizeIdentifier(account.Email) != idlink.NormalizeIdentifier(current.Email) {
		if err := s.checkFree(s.emailPath(account.Email), account.ID, "email"); err != nil {
			return nil, err
		}
	}
	for _, p := range account.Profiles {
		if current.toAccount().HasProfile(p.Provider, p.ExternalID) {
			continue
		}
		if err := s.checkFree(s.profilePath(p.Provider, p.ExternalID), account.ID, "profile"); err != nil {
			return nil, err
		}
	}

	record := recordFromAccount(account)
	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = time.Now()
	record.Version = current.Version + 1

	// Refresh the indexes before the record so a lookup that races this
	// write sees either the old or the new binding, never a dangling one.
	if err := s.syncIndexes(current, record); err != nil {
		return nil, err
	}
	if err := writeJSON(s.accountPath(account.ID), record); err != nil {
		return nil, err
	}
	return record.toAccount(), nil
}

func (s *AccountStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.readRecord(id)
	if err != nil {
		return err
	}
	os.Remove(s.usernamePath(record.Username))
	os.Remove(s.emailPath(record.Email))
	for _, p := range record.Profiles {
		os.Remove(s.profilePath(p.Provider, p.ExternalID))
	}
	return os.Remove(s.accountPath(id))
}

// checkFree fails with *UniqueFieldError unless the index file at path is
// absent or already bound to ownerID.
func (s *AccountStore) checkFree(path, ownerID, field string) error {
	id, err := s.readIndex(path)
	if err != nil {
		if err == idlink.ErrAccountNotFound {
			return nil
		}
		return err
	}
	if id == ownerID {
		return nil
	}
	return &idlink.UniqueFieldError{Field: field}
}

// syncIndexes moves index files from the old record's bindings to the new
// record's.
func (s *AccountStore) syncIndexes(old, updated *accountRecord) error {
	if idlink.NormalizeIdentifier(old.Username) != idlink.NormalizeIdentifier(updated.Username) {
		os.Remove(s.usernamePath(old.Username))
	}
	if err := writeJSON(s.usernamePath(updated.Username), &indexRecord{AccountID: updated.ID}); err != nil {
		return err
	}

	if idlink.NormalizeIdentifier(old.Email) != idlink.NormalizeIdentifier(updated.Email) {
		os.Remove(s.emailPath(old.Email))
	}
	if err := writeJSON(s.emailPath(updated.Email), &indexRecord{AccountID: updated.ID}); err != nil {
		return err
	}

	kept := updated.toAccount()
	for _, p := range old.Profiles {
		if !kept.HasProfile(p.Provider, p.ExternalID) {
			os.Remove(s.profilePath(p.Provider, p.ExternalID))
		}
	}
	prev := old.toAccount()
	for _, p := range updated.Profiles {
		if prev.HasProfile(p.Provider, p.ExternalID) {
			continue
		}
		if err := writeJSON(s.profilePath(p.Provider, p.ExternalID), &indexRecord{AccountID: updated.ID}); err != nil {
			return err
		}
	}
	return nil
}
