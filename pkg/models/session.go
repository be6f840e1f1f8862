package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the connectivity state of a session as seen by the remote service.
type Status string

const (
	StatusConnected       Status = "CONNECTED"
	StatusDisconnected    Status = "DISCONNECTED"
	StatusUnauthenticated Status = "UNAUTHENTICATED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusUnauthenticated:
		return true
	}
	return false
}

// AccountInfo holds the fields returned by the session endpoint at authentication time.
type AccountInfo map[string]any

// UID returns the account id in string form. Numeric ids are formatted without a fraction.
func (a AccountInfo) UID() (string, bool) {
	v, ok := a["uid"]
	if !ok || v == nil {
		return "", false
	}

	var id string
	switch t := v.(type) {
	case string:
		id = strings.TrimSpace(t)
	case json.Number:
		id = t.String()
	case float64:
		id = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		id = strconv.Itoa(t)
	case int64:
		id = strconv.FormatInt(t, 10)
	default:
		return "", false
	}

	return id, id != ""
}

// Session is the state of one proxy's relationship with the remote service.
// It is owned by a single runner while active.
type Session struct {
	ProxyID         string
	ClientID        string
	Credential      string
	AccountInfo     AccountInfo
	Status          Status
	RetryCount      int
	LastPersistedAt time.Time
}

// NewSession returns an unauthenticated session for proxyID.
func NewSession(proxyID, clientID, credential string) *Session {
	return &Session{
		ProxyID:    proxyID,
		ClientID:   clientID,
		Credential: credential,
		Status:     StatusUnauthenticated,
	}
}

// Authenticated reports whether the session holds a credential and an account with a uid.
func (s *Session) Authenticated() bool {
	if s.Credential == "" {
		return false
	}
	_, ok := s.AccountInfo.UID()
	return ok
}

// Authenticate moves the session to CONNECTED with the account returned by the
// session endpoint. An account without a uid logs the session out.
func (s *Session) Authenticate(info AccountInfo) error {
	if s.Credential == "" {
		s.Logout()
		return ErrNoCredential
	}
	if _, ok := info.UID(); !ok {
		s.Logout()
		return ErrInvalidAccount
	}

	s.AccountInfo = info
	s.Status = StatusConnected
	s.RetryCount = 0
	return nil
}

func (s *Session) PingSucceeded() {
	s.Status = StatusConnected
	s.RetryCount = 0
}

// PingFailed records a failed keepalive. An unauthenticated session stays
// unauthenticated.
func (s *Session) PingFailed() {
	if !s.Authenticated() {
		s.Logout()
		return
	}
	s.Status = StatusDisconnected
	s.RetryCount++
}

// Logout clears the credential and account, leaving the session UNAUTHENTICATED.
func (s *Session) Logout() {
	s.Credential = ""
	s.AccountInfo = nil
	s.Status = StatusUnauthenticated
}
