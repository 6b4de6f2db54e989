package idlink

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// memAccountStore is an in-memory AccountStore for tests. It mirrors the
// contract of the real stores: unique usernames, emails and profile pairs,
// version-conditional updates.
type memAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account

	// failUpdates makes the next N UpdateAccount calls fail with
	// ErrConcurrentModification to exercise retry behavior.
	failUpdates int
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{accounts: make(map[string]*Account)}
}

func (s *memAccountStore) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, ErrAccountNotFound
}

func (s *memAccountStore) GetAccountByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	key := NormalizeIdentifier(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if NormalizeIdentifier(a.Username) == key || NormalizeIdentifier(a.Email) == key {
			return a.Clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccountStore) GetAccountByLinkedProfile(ctx context.Context, provider, externalID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*Account
	for _, a := range s.accounts {
		if a.HasProfile(provider, externalID) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrAccountNotFound
	case 1:
		return matches[0].Clone(), nil
	}
	ids := make([]string, len(matches))
	for i, a := range matches {
		ids[i] = a.ID
	}
	return nil, &StoreConsistencyError{Provider: provider, ExternalID: externalID, AccountIDs: ids}
}

func (s *memAccountStore) CreateAccount(ctx context.Context, draft *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(draft); err != nil {
		return nil, err
	}
	stored := draft.Clone()
	stored.Version = 1
	s.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *memAccountStore) UpdateAccount(ctx context.Context, account *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return nil, ErrConcurrentModification
	}
	current, ok := s.accounts[account.ID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if current.Version != account.Version {
		return nil, ErrConcurrentModification
	}
	if err := s.checkUnique(account); err != nil {
		return nil, err
	}
	stored := account.Clone()
	stored.Version = current.Version + 1
	s.accounts[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *memAccountStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *memAccountStore) checkUnique(candidate *Account) error {
	for _, a := range s.accounts {
		if a.ID == candidate.ID {
			continue
		}
		if NormalizeIdentifier(a.Username) == NormalizeIdentifier(candidate.Username) {
			return &UniqueFieldError{Field: "username"}
		}
		if NormalizeIdentifier(a.Email) == NormalizeIdentifier(candidate.Email) {
			return &UniqueFieldError{Field: "email"}
		}
		for _, p := range candidate.Profiles {
			if a.HasProfile(p.Provider, p.ExternalID) {
				return &UniqueFieldError{Field: "profile"}
			}
		}
	}
	return nil
}

// memSessionStore is an in-memory SessionStore for tests.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionState
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*SessionState)}
}

func (s *memSessionStore) Get(ctx context.Context, handle string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[handle]; ok {
		copied := *state
		return &copied, nil
	}
	return &SessionState{}, nil
}

func (s *memSessionStore) Set(ctx context.Context, handle string, state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.sessions[handle] = &copied
	return nil
}

func (s *memSessionStore) Clear(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, handle)
	return nil
}

// testHasher keeps bcrypt fast in tests.
func testHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.MinCost}
}

func githubProfile(externalID string) RawProfile {
	return RawProfile{
		Provider:    ProviderGitHub,
		ExternalID:  externalID,
		Username:    "octocat",
		DisplayName: "Octo Cat",
		Emails:      []ProfileEmail{{Value: "octo@example.com"}},
		Raw:         map[string]any{"node_id": "abc"},
	}
}
