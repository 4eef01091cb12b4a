package auth

// Package auth contains domain-level types for the client session lifecycle.
// It is pure and free of framework/adapter concerns.

import (
	"bytes"
	"encoding/json"
	"time"
)

// User is the identity record returned by the identity provider.
// The record is opaque to the session core: the raw JSON is passed through
// unchanged, while a few well-known fields are decoded for logging.
type User struct {
	ID    string
	Name  string
	Email string

	raw json.RawMessage
}

type userFields struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NewUser builds a User from its well-known fields.
func NewUser(id, name, email string) *User {
	u := &User{ID: id, Name: name, Email: email}
	raw, err := json.Marshal(userFields{ID: id, Name: name, Email: email})
	if err == nil {
		u.raw = raw
	}
	return u
}

// Raw returns the original JSON representation of the user record.
func (u *User) Raw() json.RawMessage {
	if u == nil {
		return nil
	}
	return u.raw
}

// MarshalJSON emits the original record unchanged.
func (u User) MarshalJSON() ([]byte, error) {
	if len(u.raw) > 0 {
		return u.raw, nil
	}
	return json.Marshal(userFields{ID: u.ID, Name: u.Name, Email: u.Email})
}

// UnmarshalJSON keeps the raw record and decodes the well-known fields.
func (u *User) UnmarshalJSON(data []byte) error {
	var f userFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	u.ID, u.Name, u.Email = f.ID, f.Name, f.Email
	u.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// SessionState is the client's view of its authenticated session.
// IsAuthenticated is true only while User is present.
type SessionState struct {
	User            *User
	AccessToken     string
	IsAuthenticated bool
	TokenExpiresAt  time.Time // zero when no token has been issued

	// IsLoading is reactive UI state and is never persisted.
	IsLoading bool
}

// HasToken reports whether a token expiry is known.
func (s SessionState) HasToken() bool { return !s.TokenExpiresAt.IsZero() }

// Normalize enforces IsAuthenticated => User != nil.
func (s *SessionState) Normalize() {
	if s.User == nil {
		s.IsAuthenticated = false
	}
}

// Reset returns the session to its empty state, keeping IsLoading.
func (s *SessionState) Reset() {
	*s = SessionState{IsLoading: s.IsLoading}
}

// PersistedState is the durable projection of SessionState.
// It contains exactly the fields that survive a reload.
type PersistedState struct {
	User            *User   `json:"user"`
	Token           *string `json:"token"`
	IsAuthenticated bool    `json:"isAuthenticated"`
	TokenExpiresAt  *int64  `json:"tokenExpiresAt"` // milliseconds since epoch
}

// Persisted projects the durable fields of s.
func (s SessionState) Persisted() PersistedState {
	p := PersistedState{
		User:            s.User,
		IsAuthenticated: s.IsAuthenticated,
	}
	if s.AccessToken != "" {
		tok := s.AccessToken
		p.Token = &tok
	}
	if !s.TokenExpiresAt.IsZero() {
		ms := s.TokenExpiresAt.UnixMilli()
		p.TokenExpiresAt = &ms
	}
	return p
}

// State rebuilds the session state described by p.
func (p PersistedState) State() SessionState {
	s := SessionState{
		User:            p.User,
		IsAuthenticated: p.IsAuthenticated,
	}
	if p.Token != nil {
		s.AccessToken = *p.Token
	}
	if p.TokenExpiresAt != nil {
		s.TokenExpiresAt = time.UnixMilli(*p.TokenExpiresAt)
	}
	s.Normalize()
	return s
}

// ExpiryFrom returns now+lifetime truncated to millisecond precision so the
// value survives a persistence round trip unchanged.
func ExpiryFrom(now time.Time, lifetime time.Duration) time.Time {
	return time.UnixMilli(now.Add(lifetime).UnixMilli())
}

// StatusResponse is the gateway's view of the account.
type StatusResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	User            *User  `json:"user,omitempty"`
	Token           string `json:"token,omitempty"`
	Banned          bool   `json:"banned,omitempty"`
}

// RefreshResponse is the result of a token refresh.
type RefreshResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken,omitempty"`
}
