package idlink

// SessionState is the authentication state carried by one session. The zero
// value is an anonymous session; a non-empty AccountID means the session is
// authenticated as that account.
type SessionState struct {
	AccountID string `json:"account_id,omitempty"`

	// Pending holds a federated profile waiting for account creation. It is
	// set only while the session is anonymous and discarded on logout.
	Pending *PendingIdentity `json:"pending,omitempty"`
}

// Authenticated reports whether the session is bound to an account.
func (s *SessionState) Authenticated() bool {
	return s != nil && s.AccountID != ""
}

// PendingIdentity returns the staged federated profile, if any.
func (s *SessionState) PendingIdentity() *PendingIdentity {
	if s == nil {
		return nil
	}
	return s.Pending
}
