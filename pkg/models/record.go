package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// naiveISOLayout matches timestamps written without a zone offset, which are read as local time.
const naiveISOLayout = "2006-01-02T15:04:05.999999999"

// Timestamp is an ISO-8601 instant that also accepts timestamps without a zone offset.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		parsed, err = time.ParseInLocation(naiveISOLayout, raw, time.Local)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", raw, err)
		}
	}

	t.Time = parsed
	return nil
}

// Record is the persisted snapshot of a session.
type Record struct {
	Timestamp Timestamp  `json:"timestamp"`
	Data      RecordData `json:"data"`
}

type RecordData struct {
	AccountInfo AccountInfo `json:"account_info"`
	BrowserID   string      `json:"browser_id"`
	Status      Status      `json:"status"`
	RetryCount  int         `json:"retry_count"`
}

// NewRecord snapshots s at now. The credential is never persisted.
func NewRecord(s *Session, now time.Time) Record {
	return Record{
		Timestamp: Timestamp{now},
		Data: RecordData{
			AccountInfo: s.AccountInfo,
			BrowserID:   s.ClientID,
			Status:      s.Status,
			RetryCount:  s.RetryCount,
		},
	}
}

// DecodeRecord parses a record, keeping numeric account fields as json.Number.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// FreshAt reports whether the record is younger than window at now.
func (r Record) FreshAt(now time.Time, window time.Duration) bool {
	if r.Timestamp.IsZero() {
		return false
	}
	return now.Sub(r.Timestamp.Time) < window
}

// Restore rebuilds the session for proxyID from the record. Records of
// logged-out sessions or without a uid are rejected with ErrUnusableRecord.
func (r Record) Restore(proxyID, credential string) (*Session, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}
	if r.Data.BrowserID == "" {
		return nil, fmt.Errorf("%w: missing browser_id", ErrUnusableRecord)
	}
	if _, ok := r.Data.AccountInfo.UID(); !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnusableRecord, ErrInvalidAccount)
	}
	if r.Data.Status != StatusConnected && r.Data.Status != StatusDisconnected {
		return nil, fmt.Errorf("%w: status %q", ErrUnusableRecord, r.Data.Status)
	}
	if r.Data.RetryCount < 0 {
		return nil, fmt.Errorf("%w: negative retry_count", ErrUnusableRecord)
	}

	return &Session{
		ProxyID:         proxyID,
		ClientID:        r.Data.BrowserID,
		Credential:      credential,
		AccountInfo:     r.Data.AccountInfo,
		Status:          r.Data.Status,
		RetryCount:      r.Data.RetryCount,
		LastPersistedAt: r.Timestamp.Time,
	}, nil
}

// SessionRow is the database form of a Record.
type SessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ProxyID     string      `bun:",pk"`
	Timestamp   time.Time   `bun:"written_at,notnull"`
	AccountInfo AccountInfo `bun:",type:jsonb"`
	BrowserID   string      `bun:",notnull"`
	Status      string      `bun:",notnull"`
	RetryCount  int         `bun:",notnull,default:0"`
	UpdatedAt   time.Time   `bun:",nullzero,notnull,default:current_timestamp"`
}

func NewSessionRow(proxyID string, r Record) *SessionRow {
	return &SessionRow{
		ProxyID:     proxyID,
		Timestamp:   r.Timestamp.Time,
		AccountInfo: r.Data.AccountInfo,
		BrowserID:   r.Data.BrowserID,
		Status:      string(r.Data.Status),
		RetryCount:  r.Data.RetryCount,
	}
}

func (row *SessionRow) Record() Record {
	return Record{
		Timestamp: Timestamp{row.Timestamp},
		Data: RecordData{
			AccountInfo: row.AccountInfo,
			BrowserID:   row.BrowserID,
			Status:      Status(row.Status),
			RetryCount:  row.RetryCount,
		},
	}
}
