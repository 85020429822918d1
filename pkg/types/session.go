// Package types provides the wire and persistence types shared by the cowork server and its clients.
package types

import (
	"strings"
	"unicode"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Session is a persisted session row.
type Session struct {
	ID     string        `json:"id"`
	Title  string        `json:"title"`
	Status SessionStatus `json:"status"`
	Cwd    string        `json:"cwd,omitempty"`
	// ResumeID is issued by the agent process on the first turn and lets
	// later turns resume the same external conversation.
	ResumeID     string `json:"claudeSessionId,omitempty"`
	AllowedTools string `json:"allowedTools,omitempty"`
	LastPrompt   string `json:"lastPrompt,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// Info returns the list-view projection of the session.
func (s Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Title:     s.Title,
		Status:    s.Status,
		ResumeID:  s.ResumeID,
		Cwd:       s.Cwd,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Resumable reports whether a follow-up turn can resume the external conversation.
func (s Session) Resumable() bool {
	return s.ResumeID != ""
}

// AllowedToolList splits AllowedTools on commas and whitespace.
func (s Session) AllowedToolList() []string {
	return strings.FieldsFunc(s.AllowedTools, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// SessionInfo is the session shape sent in session.list events.
type SessionInfo struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	ResumeID  string        `json:"claudeSessionId,omitempty"`
	Cwd       string        `json:"cwd,omitempty"`
	CreatedAt int64         `json:"createdAt"`
	UpdatedAt int64         `json:"updatedAt"`
}

// SessionUpdate carries a partial update; nil fields are left untouched.
type SessionUpdate struct {
	Title      *string
	Status     *SessionStatus
	ResumeID   *string
	LastPrompt *string
}

// Apply merges the non-nil fields of u into s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Title != nil {
		s.Title = *u.Title
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.ResumeID != nil {
		s.ResumeID = *u.ResumeID
	}
	if u.LastPrompt != nil {
		s.LastPrompt = *u.LastPrompt
	}
}

// Empty reports whether the update changes nothing.
func (u SessionUpdate) Empty() bool {
	return u.Title == nil && u.Status == nil && u.ResumeID == nil && u.LastPrompt == nil
}

// Ptr returns a pointer to v. Handy for building SessionUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}
