package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountInfoUID(t *testing.T) {
	tests := []struct {
		name   string
		info   AccountInfo
		want   string
		wantOK bool
	}{
		{name: "string", info: AccountInfo{"uid": "42"}, want: "42", wantOK: true},
		{name: "json number", info: AccountInfo{"uid": json.Number("1234567890123")}, want: "1234567890123", wantOK: true},
		{name: "float", info: AccountInfo{"uid": float64(42)}, want: "42", wantOK: true},
		{name: "blank string", info: AccountInfo{"uid": "  "}, wantOK: false},
		{name: "missing", info: AccountInfo{"name": "x"}, wantOK: false},
		{name: "null", info: AccountInfo{"uid": nil}, wantOK: false},
		{name: "nil map", info: nil, wantOK: false},
		{name: "object", info: AccountInfo{"uid": map[string]any{}}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.info.UID()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionAuthenticate(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "token")
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.False(t, s.Authenticated())

	require.NoError(t, s.Authenticate(AccountInfo{"uid": "42"}))
	assert.Equal(t, StatusConnected, s.Status)
	assert.Equal(t, 0, s.RetryCount)
	assert.True(t, s.Authenticated())
}

func TestSessionAuthenticateWithoutUIDLogsOut(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "token")

	err := s.Authenticate(AccountInfo{"name": "nobody"})
	require.ErrorIs(t, err, ErrInvalidAccount)
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.Empty(t, s.Credential)
	assert.Nil(t, s.AccountInfo)
}

func TestSessionAuthenticateWithoutCredential(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "")

	err := s.Authenticate(AccountInfo{"uid": "42"})
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, StatusUnauthenticated, s.Status)
}

func TestSessionPingTransitions(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "token")
	require.NoError(t, s.Authenticate(AccountInfo{"uid": "42"}))

	s.PingFailed()
	s.PingFailed()
	assert.Equal(t, StatusDisconnected, s.Status)
	assert.Equal(t, 2, s.RetryCount)

	s.PingSucceeded()
	assert.Equal(t, StatusConnected, s.Status)
	assert.Equal(t, 0, s.RetryCount)
}

func TestSessionPingFailedWhileUnauthenticated(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "token")

	s.PingFailed()
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.Equal(t, 0, s.RetryCount)
}

func TestSessionLogoutRegardlessOfRetries(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "client", "token")
	require.NoError(t, s.Authenticate(AccountInfo{"uid": "42"}))
	for i := 0; i < 5; i++ {
		s.PingFailed()
	}

	s.Logout()
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.Empty(t, s.Credential)
	assert.False(t, s.Authenticated())
}

func TestRecordRestore(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession("user:pass@1.2.3.4:8080", "browser-1", "token")
	require.NoError(t, s.Authenticate(AccountInfo{"uid": "42", "name": "alice"}))
	s.PingFailed()

	rec := NewRecord(s, now)
	restored, err := rec.Restore(s.ProxyID, "token")
	require.NoError(t, err)
	assert.Equal(t, "browser-1", restored.ClientID)
	assert.Equal(t, StatusDisconnected, restored.Status)
	assert.Equal(t, 1, restored.RetryCount)
	assert.Equal(t, now, restored.LastPersistedAt)
	assert.True(t, restored.Authenticated())
}

func TestRecordRestoreRejectsLoggedOutSession(t *testing.T) {
	s := NewSession("1.2.3.4:8080", "browser-1", "token")
	s.Logout()

	_, err := NewRecord(s, time.Now()).Restore(s.ProxyID, "token")
	require.ErrorIs(t, err, ErrUnusableRecord)
}

func TestRecordFreshAt(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "just written", age: 0, want: true},
		{name: "almost a day", age: window - time.Second, want: true},
		{name: "exactly a day", age: window, want: false},
		{name: "older", age: window + time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{Timestamp: Timestamp{now.Add(-tt.age)}}
			assert.Equal(t, tt.want, rec.FreshAt(now, window))
		})
	}

	assert.False(t, Record{}.FreshAt(now, window))
}

func TestDecodeRecordAcceptsNaiveTimestamp(t *testing.T) {
	raw := `{"timestamp": "2024-05-01T10:30:00.123456",
		"data": {"account_info": {"uid": 1234567890123456789}, "browser_id": "b", "status": "CONNECTED", "retry_count": 0}}`

	rec, err := DecodeRecord([]byte(raw))
	require.NoError(t, err)

	want := time.Date(2024, 5, 1, 10, 30, 0, 123456000, time.Local)
	assert.True(t, want.Equal(rec.Timestamp.Time))

	uid, ok := rec.Data.AccountInfo.UID()
	require.True(t, ok)
	assert.Equal(t, "1234567890123456789", uid)
}

func TestDecodeRecordRejectsBadTimestamp(t *testing.T) {
	_, err := DecodeRecord([]byte(`{"timestamp": "yesterday", "data": {}}`))
	require.Error(t, err)
}

func TestSessionRowRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		Timestamp: Timestamp{now},
		Data: RecordData{
			AccountInfo: AccountInfo{"uid": "42"},
			BrowserID:   "b",
			Status:      StatusConnected,
			RetryCount:  3,
		},
	}

	row := NewSessionRow("1.2.3.4:8080", rec)
	assert.Equal(t, "1.2.3.4:8080", row.ProxyID)
	assert.Equal(t, "CONNECTED", row.Status)
	assert.Equal(t, rec, row.Record())
}
